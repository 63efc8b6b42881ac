package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type CancelRequest struct {
	AppointmentID uuid.UUID
	ActorID       uuid.UUID
	Reason        CancellationReason
	Note          *string
}

// CompleteRequest closes out an encounter. Zero timestamps fall back to what
// the appointment already recorded, then to now.
type CompleteRequest struct {
	AppointmentID uuid.UUID
	ActorID       uuid.UUID
	CheckedInAt   time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	Note          *string
}

// Lifecycle owns status changes after creation. Each transition updates the
// appointment and appends exactly one history entry in the same transaction.
type Lifecycle struct {
	repo    Repository
	tx      Transactor
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewLifecycle(repo Repository, tx Transactor, m *metrics.Metrics, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{repo: repo, tx: tx, metrics: m, now: now}
}

func (l *Lifecycle) Cancel(ctx context.Context, req CancelRequest) (*Appointment, error) {
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCancellation, req.Reason)
	}

	return l.transition(ctx, req.AppointmentID, req.ActorID, StatusCancelled, req.Note, func(a *Appointment, now time.Time) error {
		a.CancellationReason = ptr(req.Reason)
		a.CancelledAt = ptr(now)
		a.CancelledBy = ptr(req.ActorID)
		// Visit timestamps belong to completed appointments only.
		a.CheckedInAt = nil
		a.StartedAt = nil
		a.CompletedAt = nil
		return nil
	})
}

func (l *Lifecycle) Complete(ctx context.Context, req CompleteRequest) (*Appointment, error) {
	return l.transition(ctx, req.AppointmentID, req.ActorID, StatusCompleted, req.Note, func(a *Appointment, now time.Time) error {
		times := CompletionTimes{
			CheckedInAt: firstSet(req.CheckedInAt, a.CheckedInAt, now),
			StartedAt:   firstSet(req.StartedAt, a.StartedAt, now),
			CompletedAt: firstSet(req.CompletedAt, a.CompletedAt, now),
		}
		if !times.valid() {
			return fmt.Errorf("%w: checked_in=%s started=%s completed=%s", ErrInvalidCompletionTimes,
				times.CheckedInAt.Format(time.RFC3339), times.StartedAt.Format(time.RFC3339), times.CompletedAt.Format(time.RFC3339))
		}
		a.CheckedInAt = ptr(times.CheckedInAt)
		a.StartedAt = ptr(times.StartedAt)
		a.CompletedAt = ptr(times.CompletedAt)
		return nil
	})
}

func (l *Lifecycle) Confirm(ctx context.Context, id, actorID uuid.UUID, note *string) (*Appointment, error) {
	return l.transition(ctx, id, actorID, StatusConfirmed, note, nil)
}

func (l *Lifecycle) CheckIn(ctx context.Context, id, actorID uuid.UUID, note *string) (*Appointment, error) {
	return l.transition(ctx, id, actorID, StatusCheckedIn, note, func(a *Appointment, now time.Time) error {
		a.CheckedInAt = ptr(now)
		return nil
	})
}

func (l *Lifecycle) Start(ctx context.Context, id, actorID uuid.UUID, note *string) (*Appointment, error) {
	return l.transition(ctx, id, actorID, StatusInProgress, note, func(a *Appointment, now time.Time) error {
		a.StartedAt = ptr(now)
		return nil
	})
}

func (l *Lifecycle) MarkNoShow(ctx context.Context, id, actorID uuid.UUID, note *string) (*Appointment, error) {
	return l.transition(ctx, id, actorID, StatusNoShow, note, nil)
}

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return l.repo.GetAppointment(ctx, id)
}

func (l *Lifecycle) List(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return l.repo.ListAppointments(ctx, f)
}

// History returns the status history of an appointment in timestamp order.
func (l *Lifecycle) History(ctx context.Context, id uuid.UUID) ([]StatusHistoryEntry, error) {
	if _, err := l.repo.GetAppointment(ctx, id); err != nil {
		return nil, err
	}
	entries, err := l.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (l *Lifecycle) transition(ctx context.Context, id, actorID uuid.UUID, to Status, note *string, mutate func(a *Appointment, now time.Time) error) (*Appointment, error) {
	var (
		updated *Appointment
		from    Status
	)

	err := l.tx.WithinTx(ctx, func(txCtx context.Context) error {
		appt, err := l.repo.GetAppointmentForUpdate(txCtx, id)
		if err != nil {
			return err
		}

		from = appt.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
		}

		now := l.now()
		if mutate != nil {
			if err := mutate(appt, now); err != nil {
				return err
			}
		}
		appt.Status = to
		appt.UpdatedAt = now

		if err := l.repo.UpdateAppointment(txCtx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		entry := newHistoryEntry(appt.ID, ptr(from), to, note, ptr(actorID), now)
		if err := l.repo.AppendHistory(txCtx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		updated = appt
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) && !errors.Is(err, ErrInvalidStatusTransition) &&
			!errors.Is(err, ErrInvalidCompletionTimes) {
			log.Printf("transition failed id=%s to=%s: %v", id, to, err)
		}
		return nil, err
	}

	l.metrics.Transition(string(from), string(to))
	log.Printf("appointment transition id=%s from=%s to=%s actor=%s", id, from, to, actorID)

	return updated, nil
}

func firstSet(explicit time.Time, recorded *time.Time, fallback time.Time) time.Time {
	if !explicit.IsZero() {
		return explicit
	}
	if recorded != nil {
		return *recorded
	}
	return fallback
}
