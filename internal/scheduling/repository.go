package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrBlockNotFound       = errors.New("schedule block not found")
)

// Transactor runs fn as one unit of work: every repository call made with the
// ctx passed to fn commits or rolls back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OverlapQuery selects appointments intersecting [Start, End) on one calendar.
type OverlapQuery struct {
	ProfessionalID *uuid.UUID
	RoomID         *uuid.UUID
	Start          time.Time
	End            time.Time
	Statuses       []Status
	Limit          int
}

type AppointmentFilter struct {
	ProfessionalID    *uuid.UUID
	RoomID            *uuid.UUID
	PatientID         *uuid.UUID
	RescheduledFromID *uuid.UUID
	Statuses          []Status
	From              *time.Time // appointments ending after From
	To                *time.Time // appointments starting before To
	WithoutSuccessor  bool       // skip appointments that were already rescheduled
	WithoutDecline    bool       // skip appointments whose reschedule draw was declined
	Limit             int
	Offset            int
}

type BlockFilter struct {
	ProfessionalID *uuid.UUID
	RoomID         *uuid.UUID
	From           *time.Time
	To             *time.Time
	ActiveOnly     bool
	Limit          int
	Offset         int
}

// Repository contains all storage interactions needed by the scheduling core.
type Repository interface {
	// LockCalendars serializes writers on the given calendar keys for the rest
	// of the current transaction.
	LockCalendars(ctx context.Context, keys ...string) error

	// For conflict checks
	FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error)

	// Appointments
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) error
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// DeclineReschedule records that the appointment will not be rescheduled.
	// Recording it twice is not an error.
	DeclineReschedule(ctx context.Context, appointmentID, actorID uuid.UUID) error

	// Status history, append-only
	AppendHistory(ctx context.Context, e *StatusHistoryEntry) error
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error)

	// Schedule blocks
	CreateBlock(ctx context.Context, b *ScheduleBlock) error
	GetBlock(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error)
	ListBlocks(ctx context.Context, f BlockFilter) ([]ScheduleBlock, error)
	SetBlockActive(ctx context.Context, id uuid.UUID, active bool) (*ScheduleBlock, error)
}
