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

// Reschedule outcomes, also used as metric labels.
const (
	RescheduleCreated  = "created"
	RescheduleDeclined = "declined"
	RescheduleSkipped  = "skipped"
)

type RescheduleConfig struct {
	WindowDays      int
	BatchSize       int
	NoShowChance    float64
	CancelledChance float64
}

type RescheduleReport struct {
	Candidates  int
	Rescheduled int
	Declined    int
	Skipped     int
	Created     []uuid.UUID
}

// Rescheduler books confirmed successors for cancelled and no-show
// appointments. It only writes through BookingService.
type Rescheduler struct {
	repo    Repository
	booking *BookingService
	sampler *Sampler
	cfg     RescheduleConfig
	metrics *metrics.Metrics
}

func NewRescheduler(repo Repository, booking *BookingService, sampler *Sampler, cfg RescheduleConfig, m *metrics.Metrics) *Rescheduler {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Rescheduler{repo: repo, booking: booking, sampler: sampler, cfg: cfg, metrics: m}
}

// Reschedule creates the successor of a cancelled or no-show appointment in a
// future slot. A conflicting slot returns ErrConflict; there is no retry here.
func (r *Rescheduler) Reschedule(ctx context.Context, originalID, creatorID uuid.UUID) (*Appointment, error) {
	orig, err := r.repo.GetAppointment(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusCancelled && orig.Status != StatusNoShow {
		return nil, fmt.Errorf("%w: appointment %s is %s", ErrNotReschedulable, orig.ID, orig.Status)
	}

	successors, err := r.repo.ListAppointments(ctx, AppointmentFilter{RescheduledFromID: &orig.ID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find successor: %w", err)
	}
	if len(successors) > 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrAlreadyRescheduled, orig.ID, successors[0].ID)
	}

	if err := r.checkChain(ctx, orig); err != nil {
		return nil, err
	}

	slot := r.sampler.SampleSlot(false, r.cfg.WindowDays).WithDuration(orig.EndAt.Sub(orig.StartAt))
	status := StatusConfirmed
	note := fmt.Sprintf("rescheduled from appointment %s", orig.ID)

	appt, err := r.booking.Book(ctx, BookRequest{
		PatientID:         orig.PatientID,
		ProfessionalID:    orig.ProfessionalID,
		RoomID:            orig.RoomID,
		StartAt:           slot.Start,
		EndAt:             slot.End(),
		Kind:              orig.Kind,
		CreatedBy:         creatorID,
		Status:            &status,
		Note:              &note,
		RescheduledFromID: &orig.ID,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("appointment rescheduled original=%s successor=%s start=%s", orig.ID, appt.ID, appt.StartAt.Format(time.RFC3339))
	return appt, nil
}

// RescheduleBatch walks a bounded batch of the professional's cancelled and
// no-show appointments and reschedules each one the policy draw selects.
// A declined draw is recorded so later batches never roll that appointment
// again. Conflicts and stale candidates are counted as skipped and stay
// eligible; infra errors abort.
func (r *Rescheduler) RescheduleBatch(ctx context.Context, professionalID, creatorID uuid.UUID) (RescheduleReport, error) {
	var report RescheduleReport

	candidates, err := r.repo.ListAppointments(ctx, AppointmentFilter{
		ProfessionalID:   &professionalID,
		Statuses:         RescheduleCandidateStatuses,
		WithoutSuccessor: true,
		WithoutDecline:   true,
		Limit:            r.cfg.BatchSize,
	})
	if err != nil {
		return report, fmt.Errorf("find reschedule candidates: %w", err)
	}
	report.Candidates = len(candidates)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		chance := r.cfg.CancelledChance
		if c.Status == StatusNoShow {
			chance = r.cfg.NoShowChance
		}
		if !r.sampler.Chance(chance) {
			if err := r.repo.DeclineReschedule(ctx, c.ID, creatorID); err != nil {
				return report, fmt.Errorf("record declined reschedule %s: %w", c.ID, err)
			}
			report.Declined++
			r.metrics.Reschedule(RescheduleDeclined)
			continue
		}

		appt, err := r.Reschedule(ctx, c.ID, creatorID)
		switch {
		case err == nil:
			report.Rescheduled++
			report.Created = append(report.Created, appt.ID)
			r.metrics.Reschedule(RescheduleCreated)
		case skippable(err):
			report.Skipped++
			r.metrics.Reschedule(RescheduleSkipped)
		default:
			return report, fmt.Errorf("reschedule %s: %w", c.ID, err)
		}
	}

	return report, nil
}

// checkChain walks RescheduledFromID links back from a and fails if any id
// repeats.
func (r *Rescheduler) checkChain(ctx context.Context, a *Appointment) error {
	visited := map[uuid.UUID]bool{a.ID: true}
	next := a.RescheduledFromID

	for next != nil {
		if visited[*next] {
			return fmt.Errorf("%w: %s revisited from %s", ErrRescheduleCycle, *next, a.ID)
		}
		visited[*next] = true

		prev, err := r.repo.GetAppointment(ctx, *next)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk reschedule chain: %w", err)
		}
		next = prev.RescheduledFromID
	}
	return nil
}

// Chain returns the appointment followed by its predecessors, newest first.
func (r *Rescheduler) Chain(ctx context.Context, id uuid.UUID) ([]Appointment, error) {
	var chain []Appointment
	visited := make(map[uuid.UUID]bool)

	next := &id
	for next != nil {
		if visited[*next] {
			return chain, fmt.Errorf("%w: %s", ErrRescheduleCycle, *next)
		}
		visited[*next] = true

		a, err := r.repo.GetAppointment(ctx, *next)
		if err != nil {
			if len(chain) > 0 && errors.Is(err, ErrAppointmentNotFound) {
				return chain, nil
			}
			return chain, err
		}
		chain = append(chain, *a)
		next = a.RescheduledFromID
	}
	return chain, nil
}

func skippable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrCalendarBusy) ||
		errors.Is(err, ErrAlreadyRescheduled) ||
		errors.Is(err, ErrNotReschedulable) ||
		errors.Is(err, ErrAppointmentNotFound)
}
