package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// memRepo is an in-memory Repository. WithinTx runs units of work one at a
// time and rolls back the snapshot on error, which stands in for the
// database's advisory and row locks in tests.
type memRepo struct {
	txMu sync.Mutex

	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	history      []StatusHistoryEntry
	blocks       map[uuid.UUID]ScheduleBlock
	declined     map[uuid.UUID]bool

	// failCreate, when set, is returned by the next CreateAppointment.
	failCreate error
	lockedKeys [][]string
}

type memTxKey struct{}

func newMemRepo() *memRepo {
	return &memRepo{
		appointments: make(map[uuid.UUID]Appointment),
		blocks:       make(map[uuid.UUID]ScheduleBlock),
		declined:     make(map[uuid.UUID]bool),
	}
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	apps := make(map[uuid.UUID]Appointment, len(r.appointments))
	for k, v := range r.appointments {
		apps[k] = v
	}
	hist := append([]StatusHistoryEntry(nil), r.history...)
	blocks := make(map[uuid.UUID]ScheduleBlock, len(r.blocks))
	for k, v := range r.blocks {
		blocks[k] = v
	}
	r.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.appointments, r.history, r.blocks = apps, hist, blocks
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) LockCalendars(ctx context.Context, keys ...string) error {
	if ctx.Value(memTxKey{}) == nil {
		return errors.New("calendar locks require a transaction")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockedKeys = append(r.lockedKeys, keys)
	return nil
}

func (r *memRepo) FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.sortedAppointments() {
		if q.ProfessionalID != nil && a.ProfessionalID != *q.ProfessionalID {
			continue
		}
		if q.RoomID != nil && (a.RoomID == nil || *a.RoomID != *q.RoomID) {
			continue
		}
		if len(q.Statuses) > 0 && !hasStatus(q.Statuses, a.Status) {
			continue
		}
		if !overlaps(a.StartAt, a.EndAt, q.Start, q.End) {
			continue
		}
		out = append(out, a)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) CreateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failCreate != nil {
		err := r.failCreate
		r.failCreate = nil
		return err
	}

	for _, existing := range r.appointments {
		if a.RescheduledFromID != nil && existing.RescheduledFromID != nil && *existing.RescheduledFromID == *a.RescheduledFromID {
			return ErrAlreadyRescheduled
		}
		// Mirrors the exclusion constraints.
		if a.Status.Occupying() && existing.Status.Occupying() && overlaps(a.StartAt, a.EndAt, existing.StartAt, existing.EndAt) {
			if existing.ProfessionalID == a.ProfessionalID ||
				(a.RoomID != nil && existing.RoomID != nil && *a.RoomID == *existing.RoomID) {
				return fmt.Errorf("%w: exclusion violation", ErrConflict)
			}
		}
	}

	r.appointments[a.ID] = *a
	return nil
}

func (r *memRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointment(ctx, id)
}

func (r *memRepo) UpdateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	r.appointments[a.ID] = *a
	return nil
}

func (r *memRepo) DeclineReschedule(ctx context.Context, appointmentID, actorID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declined[appointmentID] = true
	return nil
}

func (r *memRepo) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hasSuccessor := make(map[uuid.UUID]bool)
	for _, a := range r.appointments {
		if a.RescheduledFromID != nil {
			hasSuccessor[*a.RescheduledFromID] = true
		}
	}

	var out []Appointment
	for _, a := range r.sortedAppointments() {
		switch {
		case f.ProfessionalID != nil && a.ProfessionalID != *f.ProfessionalID:
			continue
		case f.RoomID != nil && (a.RoomID == nil || *a.RoomID != *f.RoomID):
			continue
		case f.PatientID != nil && a.PatientID != *f.PatientID:
			continue
		case f.RescheduledFromID != nil && (a.RescheduledFromID == nil || *a.RescheduledFromID != *f.RescheduledFromID):
			continue
		case len(f.Statuses) > 0 && !hasStatus(f.Statuses, a.Status):
			continue
		case f.From != nil && !a.EndAt.After(*f.From):
			continue
		case f.To != nil && !a.StartAt.Before(*f.To):
			continue
		case f.WithoutSuccessor && hasSuccessor[a.ID]:
			continue
		case f.WithoutDecline && r.declined[a.ID]:
			continue
		}
		out = append(out, a)
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) AppendHistory(ctx context.Context, e *StatusHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.PreviousStatus == nil {
		for _, h := range r.history {
			if h.AppointmentID == e.AppointmentID && h.PreviousStatus == nil {
				return errors.New("duplicate creation entry")
			}
		}
	}
	r.history = append(r.history, *e)
	return nil
}

func (r *memRepo) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []StatusHistoryEntry
	for _, h := range r.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) CreateBlock(ctx context.Context, b *ScheduleBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[b.ID] = *b
	return nil
}

func (r *memRepo) GetBlock(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.blocks[id]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return &b, nil
}

func (r *memRepo) ListBlocks(ctx context.Context, f BlockFilter) ([]ScheduleBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ScheduleBlock
	for _, b := range r.blocks {
		switch {
		case f.ProfessionalID != nil && b.ProfessionalID != *f.ProfessionalID:
			continue
		case f.RoomID != nil && (b.RoomID == nil || *b.RoomID != *f.RoomID):
			continue
		case f.From != nil && !b.EndAt.After(*f.From):
			continue
		case f.To != nil && !b.StartAt.Before(*f.To):
			continue
		case f.ActiveOnly && !b.Active:
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) SetBlockActive(ctx context.Context, id uuid.UUID, active bool) (*ScheduleBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.blocks[id]
	if !ok {
		return nil, ErrBlockNotFound
	}
	b.Active = active
	r.blocks[id] = b
	return &b, nil
}

// put stores an appointment directly, bypassing booking.
func (r *memRepo) put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = a
}

func (r *memRepo) creationEntries(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, h := range r.history {
		if h.AppointmentID == id && h.PreviousStatus == nil {
			n++
		}
	}
	return n
}

func (r *memRepo) sortedAppointments() []Appointment {
	out := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out
}

func hasStatus(set []Status, s Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// nopLocker runs the critical section directly; busy simulates a held lock.
type nopLocker struct {
	busy bool
}

func (l nopLocker) WithCalendarLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if l.busy {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock {
	return &clock{now: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo    *memRepo
	clock   *clock
	metrics *metrics.Metrics
	sampler *Sampler
	svc     *Service
}

func testSchedulingConfig() config.SchedulingConfig {
	return config.SchedulingConfig{
		RescheduleWindowDays:      30,
		RescheduleBatchSize:       50,
		RescheduleNoShowChance:    1,
		RescheduleCancelledChance: 1,
		MaxSlotRetries:            10,
		MaxConsecutiveFailures:    5,
	}
}

func newFixture(t *testing.T, cfg config.SchedulingConfig) *fixture {
	t.Helper()

	repo := newMemRepo()
	clk := newClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	m := metrics.New("test")
	sampler := NewSampler(gofakeit.New(42), SamplerConfig{Now: clk.Now})

	svc := NewService(repo, repo, nopLocker{}, sampler, cfg, WithMetrics(m), WithClock(clk.Now))
	return &fixture{repo: repo, clock: clk, metrics: m, sampler: sampler, svc: svc}
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 12, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) book(t *testing.T, prof uuid.UUID, room *uuid.UUID, start, end time.Time) (*Appointment, error) {
	t.Helper()
	return f.svc.Booking.Book(context.Background(), BookRequest{
		PatientID:      uuid.New(),
		ProfessionalID: prof,
		RoomID:         room,
		StartAt:        start,
		EndAt:          end,
		Kind:           KindConsultation,
		CreatedBy:      uuid.New(),
	})
}
