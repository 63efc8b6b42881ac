package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("calendar lock not acquired")
)

// SpanBucket is the granularity of span lock keys. Two ranges that overlap
// always share at least one bucket.
const SpanBucket = 15 * time.Minute

const (
	defaultAcquireAttempts = 8
	defaultAcquireBackoff  = 25 * time.Millisecond
)

// Locker is used by the booking service to guard critical sections per
// calendar span (one professional or room over a time range).
type Locker interface {
	WithCalendarLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

func ProfessionalKey(id uuid.UUID) string {
	return "professional:" + id.String()
}

func RoomKey(id uuid.UUID) string {
	return "room:" + id.String()
}

// SpanKeys expands a calendar key into one key per SpanBucket touched by
// [start, end). Bookings on disjoint parts of a calendar get disjoint keys.
func SpanKeys(calendar string, start, end time.Time) []string {
	start = start.UTC()
	end = end.UTC()
	var keys []string
	for b := start.Truncate(SpanBucket); b.Before(end); b = b.Add(SpanBucket) {
		keys = append(keys, fmt.Sprintf("%s:%d", calendar, b.Unix()))
	}
	return keys
}

type redisCalendarLocker struct {
	client   *redis.Client
	ttl      time.Duration
	attempts int
	backoff  time.Duration
}

// NewRedisCalendarLocker creates a locker that uses one Redis key per
// calendar span bucket. A held key is waited on for a few short rounds
// before the caller gets ErrLockNotAcquired.
func NewRedisCalendarLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisCalendarLocker{
		client:   client,
		ttl:      ttl,
		attempts: defaultAcquireAttempts,
		backoff:  defaultAcquireBackoff,
	}
}

// WithCalendarLock takes every key (in sorted order, so two bookings touching
// the same professional and room cannot deadlock) or none of them.
func (l *redisCalendarLocker) WithCalendarLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	sorted := sortedLockKeys(keys)

	var held []string
	defer func() {
		l.releaseAll(ctx, held, token)
	}()

	for attempt := 0; ; attempt++ {
		var err error
		held, err = l.acquire(ctx, sorted, token)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrLockNotAcquired) || attempt+1 >= l.attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff * time.Duration(attempt+1)):
		}
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire returns the held keys on success. On failure nothing stays held.
func (l *redisCalendarLocker) acquire(ctx context.Context, keys []string, token string) ([]string, error) {
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.releaseAll(ctx, held, token)
			return nil, fmt.Errorf("acquire calendar lock: %w", err)
		}
		if !ok {
			l.releaseAll(ctx, held, token)
			return nil, ErrLockNotAcquired
		}
		held = append(held, key)
	}
	return held, nil
}

func sortedLockKeys(keys []string) []string {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, lockKey(k))
		}
	}
	sort.Strings(sorted)
	return sorted
}

func lockKey(k string) string {
	return fmt.Sprintf("lock:calendar:%s", k)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisCalendarLocker) releaseAll(ctx context.Context, keys []string, token string) {
	for _, key := range keys {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}
}

func (l *redisCalendarLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release calendar lock: %w", err)
	}
	return nil
}
