package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const createdNote = "created"

type BookRequest struct {
	PatientID      uuid.UUID
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Kind           Kind
	CreatedBy      uuid.UUID

	// Status overrides the initial status. Anything other than scheduled is
	// meant for reschedules (confirmed) and seeded historical data.
	Status            *Status
	Note              *string
	RescheduledFromID *uuid.UUID

	// Seeded terminal appointments may carry their outcome.
	CancellationReason *CancellationReason
	Completion         *CompletionTimes
}

type CompletionTimes struct {
	CheckedInAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

func (c CompletionTimes) valid() bool {
	return !c.StartedAt.Before(c.CheckedInAt) && !c.CompletedAt.Before(c.StartedAt)
}

func (r BookRequest) initialStatus() Status {
	if r.Status != nil {
		return *r.Status
	}
	return StatusScheduled
}

func (r BookRequest) validate() error {
	if !r.EndAt.After(r.StartAt) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidTimeRange, r.StartAt.Format(time.RFC3339), r.EndAt.Format(time.RFC3339))
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	}

	status := r.initialStatus()
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if r.CancellationReason != nil && (status != StatusCancelled || !r.CancellationReason.Valid()) {
		return fmt.Errorf("%w: %q with status %s", ErrInvalidCancellation, *r.CancellationReason, status)
	}
	if r.Completion != nil && (status != StatusCompleted || !r.Completion.valid()) {
		return ErrInvalidCompletionTimes
	}
	if r.RescheduledFromID != nil && *r.RescheduledFromID == uuid.Nil {
		return fmt.Errorf("%w: empty predecessor id", ErrRescheduleCycle)
	}
	return nil
}

// BookingService validates a requested range, rejects it on conflict and
// otherwise persists the appointment with its creation history entry.
type BookingService struct {
	repo    Repository
	tx      Transactor
	locker  redisclient.Locker
	checker *Checker
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewBookingService(repo Repository, tx Transactor, locker redisclient.Locker, checker *Checker, m *metrics.Metrics, now func() time.Time) *BookingService {
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		repo:    repo,
		tx:      tx,
		locker:  locker,
		checker: checker,
		metrics: m,
		now:     now,
	}
}

// Book reserves the range for the professional (and room). A conflict is an
// expected outcome reported as ErrConflict (a *ConflictError when the overlap
// is known); Book never retries.
func (s *BookingService) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		s.metrics.Booking(metrics.ResultInvalid)
		return nil, err
	}

	appt := newAppointment(req)
	keys := calendarKeys(req.ProfessionalID, req.RoomID)

	err := s.locker.WithCalendarLock(ctx, spanKeys(keys, appt.StartAt, appt.EndAt), func(lockCtx context.Context) error {
		return s.tryBook(lockCtx, appt, keys)
	})

	switch {
	case err == nil:
		s.metrics.Booking(metrics.ResultBooked)
		s.metrics.Transition("", string(appt.Status))
		log.Printf("appointment booked id=%s professional=%s start=%s status=%s",
			appt.ID, appt.ProfessionalID, appt.StartAt.Format(time.RFC3339), appt.Status)
		return appt, nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.Booking(metrics.ResultBusy)
		return nil, ErrCalendarBusy
	case errors.Is(err, ErrConflict):
		s.metrics.Booking(metrics.ResultConflict)
		return nil, err
	case errors.Is(err, ErrAlreadyRescheduled):
		s.metrics.Booking(metrics.ResultInvalid)
		return nil, err
	default:
		s.metrics.Booking(metrics.ResultError)
		return nil, fmt.Errorf("book appointment: %w", err)
	}
}

// tryBook is the atomic check-and-insert: calendar locks, overlap check,
// appointment insert and creation history entry share one transaction.
func (s *BookingService) tryBook(ctx context.Context, appt *Appointment, keys []string) error {
	return s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.LockCalendars(txCtx, keys...); err != nil {
			return fmt.Errorf("lock calendars: %w", err)
		}

		conflict, err := s.checker.FindConflict(txCtx, appt.ProfessionalID, appt.RoomID, appt.StartAt, appt.EndAt)
		if err != nil {
			return err
		}
		if conflict != nil {
			return &ConflictError{Conflict: conflict}
		}

		now := s.now()
		appt.CreatedAt = now
		appt.UpdatedAt = now
		if appt.Status == StatusCancelled && appt.CancellationReason != nil {
			appt.CancelledAt = &now
			appt.CancelledBy = &appt.CreatedBy
		}

		if err := s.repo.CreateAppointment(txCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		entry := newHistoryEntry(appt.ID, nil, appt.Status, ptr(createdNote), &appt.CreatedBy, now)
		if err := s.repo.AppendHistory(txCtx, entry); err != nil {
			return fmt.Errorf("append creation history: %w", err)
		}

		return nil
	})
}

func newAppointment(req BookRequest) *Appointment {
	appt := &Appointment{
		ID:                 uuid.New(),
		PatientID:          req.PatientID,
		ProfessionalID:     req.ProfessionalID,
		RoomID:             req.RoomID,
		StartAt:            req.StartAt,
		EndAt:              req.EndAt,
		DurationMinutes:    durationMinutes(req.StartAt, req.EndAt),
		Status:             req.initialStatus(),
		Kind:               req.Kind,
		Notes:              req.Note,
		RescheduledFromID:  req.RescheduledFromID,
		CancellationReason: req.CancellationReason,
		CreatedBy:          req.CreatedBy,
	}
	if req.Completion != nil {
		appt.CheckedInAt = ptr(req.Completion.CheckedInAt)
		appt.StartedAt = ptr(req.Completion.StartedAt)
		appt.CompletedAt = ptr(req.Completion.CompletedAt)
	}
	return appt
}

func newHistoryEntry(appointmentID uuid.UUID, from *Status, to Status, note *string, actor *uuid.UUID, at time.Time) *StatusHistoryEntry {
	return &StatusHistoryEntry{
		ID:             uuid.New(),
		AppointmentID:  appointmentID,
		PreviousStatus: from,
		NewStatus:      to,
		Note:           note,
		ActorID:        actor,
		CreatedAt:      at,
	}
}

func calendarKeys(professionalID uuid.UUID, roomID *uuid.UUID) []string {
	keys := []string{redisclient.ProfessionalKey(professionalID)}
	if roomID != nil {
		keys = append(keys, redisclient.RoomKey(*roomID))
	}
	return keys
}

// spanKeys narrows calendar keys to the buckets the range touches, so bookings
// on disjoint parts of one calendar do not contend in Redis.
func spanKeys(calendars []string, start, end time.Time) []string {
	var keys []string
	for _, c := range calendars {
		keys = append(keys, redisclient.SpanKeys(c, start, end)...)
	}
	return keys
}
