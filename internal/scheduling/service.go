package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var (
	// ErrConflict is the expected outcome of booking an occupied range.
	ErrConflict = errors.New("time range conflicts with an existing appointment")
	// ErrCalendarBusy means another booking for the same calendar is in flight.
	ErrCalendarBusy = errors.New("calendar is currently being booked, please retry")

	ErrInvalidTimeRange        = errors.New("end must be after start")
	ErrInvalidKind             = errors.New("invalid appointment kind")
	ErrInvalidStatus           = errors.New("invalid appointment status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidCancellation     = errors.New("invalid cancellation reason")
	ErrInvalidCompletionTimes  = errors.New("check-in, start and completion times must be in order")
	ErrInvalidBlockKind        = errors.New("invalid schedule block kind")
	ErrInvalidHistory          = errors.New("status history is not a valid path")

	ErrNotReschedulable   = errors.New("only cancelled or no-show appointments can be rescheduled")
	ErrAlreadyRescheduled = errors.New("appointment already has a rescheduled successor")
	ErrRescheduleCycle    = errors.New("reschedule chain contains a cycle")
)

// ConflictError carries the conflict that rejected a booking. It matches
// ErrConflict with errors.Is.
type ConflictError struct {
	Conflict *Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.Conflict)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Service wires the scheduling components over one repository.
type Service struct {
	Checker     *Checker
	Booking     *BookingService
	Lifecycle   *Lifecycle
	Rescheduler *Rescheduler
	Blocks      *BlockManager
	Generator   *Generator
}

type options struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*options)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewService(repo Repository, tx Transactor, locker redisclient.Locker, sampler *Sampler, cfg config.SchedulingConfig, opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	checker := NewChecker(repo, cfg.EnforceScheduleBlocks)
	booking := NewBookingService(repo, tx, locker, checker, o.metrics, o.now)
	lifecycle := NewLifecycle(repo, tx, o.metrics, o.now)
	blocks := NewBlockManager(repo, o.now)

	rescheduler := NewRescheduler(repo, booking, sampler, RescheduleConfig{
		WindowDays:      cfg.RescheduleWindowDays,
		BatchSize:       cfg.RescheduleBatchSize,
		NoShowChance:    cfg.RescheduleNoShowChance,
		CancelledChance: cfg.RescheduleCancelledChance,
	}, o.metrics)

	generator := NewGenerator(booking, blocks, sampler, GeneratorConfig{
		MaxRetries:             cfg.MaxSlotRetries,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})

	return &Service{
		Checker:     checker,
		Booking:     booking,
		Lifecycle:   lifecycle,
		Rescheduler: rescheduler,
		Blocks:      blocks,
		Generator:   generator,
	}
}
