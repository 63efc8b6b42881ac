package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	PatientID      string    `json:"patient_id"`
	ProfessionalID string    `json:"professional_id"`
	RoomID         *string   `json:"room_id,omitempty"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Kind           string    `json:"kind"`
	Note           *string   `json:"note,omitempty"`
}

// TransitionRequest is the optional body of confirm, check-in, start and
// no-show.
type TransitionRequest struct {
	Note *string `json:"note,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string  `json:"reason"`
	Note   *string `json:"note,omitempty"`
}

type CompleteAppointmentRequest struct {
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Note        *string    `json:"note,omitempty"`
}

type CreateBlockRequest struct {
	ProfessionalID string    `json:"professional_id"`
	RoomID         *string   `json:"room_id,omitempty"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Kind           string    `json:"kind"`
	Reason         string    `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ProfessionalID     uuid.UUID  `json:"professional_id"`
	RoomID             *uuid.UUID `json:"room_id,omitempty"`
	StartAt            time.Time  `json:"start_at"`
	EndAt              time.Time  `json:"end_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Kind               string     `json:"kind"`
	Notes              *string    `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	RescheduledFromID  *uuid.UUID `json:"rescheduled_from_id,omitempty"`
	CreatedBy          uuid.UUID  `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type HistoryEntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	PreviousStatus *string    `json:"previous_status"`
	NewStatus      string     `json:"new_status"`
	Note           *string    `json:"note,omitempty"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type BlockResponse struct {
	ID             uuid.UUID  `json:"id"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          time.Time  `json:"end_at"`
	Kind           string     `json:"kind"`
	Reason         string     `json:"reason"`
	Active         bool       `json:"active"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

type ConflictResponse struct {
	Kind          string     `json:"kind"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	BlockID       *uuid.UUID `json:"block_id,omitempty"`
	StartAt       time.Time  `json:"start_at"`
	EndAt         time.Time  `json:"end_at"`
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Conflict *ConflictResponse `json:"conflict,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		ProfessionalID:    a.ProfessionalID,
		RoomID:            a.RoomID,
		StartAt:           a.StartAt,
		EndAt:             a.EndAt,
		DurationMinutes:   a.DurationMinutes,
		Status:            string(a.Status),
		Kind:              string(a.Kind),
		Notes:             a.Notes,
		CancelledAt:       a.CancelledAt,
		CancelledBy:       a.CancelledBy,
		CheckedInAt:       a.CheckedInAt,
		StartedAt:         a.StartedAt,
		CompletedAt:       a.CompletedAt,
		RescheduledFromID: a.RescheduledFromID,
		CreatedBy:         a.CreatedBy,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
	if a.CancellationReason != nil {
		reason := string(*a.CancellationReason)
		resp.CancellationReason = &reason
	}
	return resp
}

func toHistoryResponse(e scheduling.StatusHistoryEntry) HistoryEntryResponse {
	resp := HistoryEntryResponse{
		ID:        e.ID,
		NewStatus: string(e.NewStatus),
		Note:      e.Note,
		ActorID:   e.ActorID,
		CreatedAt: e.CreatedAt,
	}
	if e.PreviousStatus != nil {
		prev := string(*e.PreviousStatus)
		resp.PreviousStatus = &prev
	}
	return resp
}

func toBlockResponse(b *scheduling.ScheduleBlock) BlockResponse {
	return BlockResponse{
		ID:             b.ID,
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
		StartAt:        b.StartAt,
		EndAt:          b.EndAt,
		Kind:           string(b.Kind),
		Reason:         b.Reason,
		Active:         b.Active,
		CreatedBy:      b.CreatedBy,
		CreatedAt:      b.CreatedAt,
	}
}

func toConflictResponse(c *scheduling.Conflict) *ConflictResponse {
	if c == nil {
		return nil
	}
	return &ConflictResponse{
		Kind:          string(c.Kind),
		AppointmentID: c.AppointmentID,
		BlockID:       c.BlockID,
		StartAt:       c.StartAt,
		EndAt:         c.EndAt,
	}
}
