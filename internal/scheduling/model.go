package scheduling

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

type Kind string

const (
	KindConsultation Kind = "consultation"
	KindCleaning     Kind = "cleaning"
	KindCheckup      Kind = "checkup"
	KindEndodontics  Kind = "endodontics"
	KindExtraction   Kind = "extraction"
	KindEmergency    Kind = "emergency"
)

var Kinds = []Kind{KindConsultation, KindCleaning, KindCheckup, KindEndodontics, KindExtraction, KindEmergency}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

type CancellationReason string

const (
	CancelledByPatient      CancellationReason = "patient"
	CancelledByProfessional CancellationReason = "professional"
	CancelledByClinic       CancellationReason = "clinic"
)

func (r CancellationReason) Valid() bool {
	switch r {
	case CancelledByPatient, CancelledByProfessional, CancelledByClinic:
		return true
	}
	return false
}

type BlockKind string

const (
	BlockVacation    BlockKind = "vacation"
	BlockTraining    BlockKind = "training"
	BlockMaintenance BlockKind = "maintenance"
	BlockManual      BlockKind = "manual"
)

var BlockKinds = []BlockKind{BlockVacation, BlockTraining, BlockMaintenance, BlockManual}

func (k BlockKind) Valid() bool {
	for _, known := range BlockKinds {
		if k == known {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProfessionalID  uuid.UUID
	RoomID          *uuid.UUID
	StartAt         time.Time
	EndAt           time.Time
	DurationMinutes int
	Status          Status
	Kind            Kind
	Notes           *string

	// Set only for cancelled appointments.
	CancellationReason *CancellationReason
	CancelledAt        *time.Time
	CancelledBy        *uuid.UUID

	CheckedInAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	RescheduledFromID *uuid.UUID

	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Occupies reports whether the appointment currently holds its calendar range.
func (a *Appointment) Occupies() bool {
	return a.Status.Occupying()
}

// StatusHistoryEntry is an append-only record of one status change. The
// creation entry has a nil PreviousStatus.
type StatusHistoryEntry struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	PreviousStatus *Status
	NewStatus      Status
	Note           *string
	ActorID        *uuid.UUID
	CreatedAt      time.Time
}

type ScheduleBlock struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Kind           BlockKind
	Reason         string
	Active         bool
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConflictKind says which calendar rejected a booking.
type ConflictKind string

const (
	ConflictProfessional ConflictKind = "professional"
	ConflictRoom         ConflictKind = "room"
	ConflictBlock        ConflictKind = "schedule_block"
)

type Conflict struct {
	Kind          ConflictKind
	AppointmentID *uuid.UUID
	BlockID       *uuid.UUID
	StartAt       time.Time
	EndAt         time.Time
}

func (c *Conflict) String() string {
	switch {
	case c.AppointmentID != nil:
		return fmt.Sprintf("%s calendar taken by appointment %s (%s - %s)",
			c.Kind, c.AppointmentID, c.StartAt.Format(time.RFC3339), c.EndAt.Format(time.RFC3339))
	case c.BlockID != nil:
		return fmt.Sprintf("%s %s (%s - %s)",
			c.Kind, c.BlockID, c.StartAt.Format(time.RFC3339), c.EndAt.Format(time.RFC3339))
	}
	return string(c.Kind)
}

// overlaps is the half-open interval test [aStart, aEnd) ∩ [bStart, bEnd) ≠ ∅.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// durationMinutes is the display duration; degenerate ranges show 30.
func durationMinutes(start, end time.Time) int {
	minutes := int(math.Round(float64(end.Sub(start).Milliseconds()) / 60000))
	if minutes <= 0 {
		return 30
	}
	return minutes
}

func ptr[T any](v T) *T {
	return &v
}
