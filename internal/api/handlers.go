package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func bookAppointmentHandler(svc Booker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}

		var req BookAppointmentRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}

		roomID, err := parseOptionalUUID(req.RoomID, "room_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookRequest{
			PatientID:      patientID,
			ProfessionalID: professionalID,
			RoomID:         roomID,
			StartAt:        req.StartAt,
			EndAt:          req.EndAt,
			Kind:           scheduling.Kind(req.Kind),
			CreatedBy:      actor,
			Note:           req.Note,
		})
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			f   scheduling.AppointmentFilter
			err error
		)

		if f.ProfessionalID, err = queryUUID(r, "professional_id"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.RoomID, err = queryUUID(r, "room_id"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.PatientID, err = queryUUID(r, "patient_id"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		if f.From, err = queryTime(r, "from"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.To, err = queryTime(r, "to"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		if raw := r.URL.Query().Get("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				status := scheduling.Status(strings.TrimSpace(s))
				if !status.Valid() {
					writeError(w, http.StatusBadRequest, "invalid_query", "unknown status "+string(status))
					return
				}
				f.Statuses = append(f.Statuses, status)
			}
		}

		if f.Limit, err = queryInt(r, "limit", 50); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		resp := AppointmentListResponse{
			Items:  make([]AppointmentResponse, 0, len(appts)),
			Limit:  f.Limit,
			Offset: f.Offset,
		}
		for i := range appts {
			resp.Items = append(resp.Items, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentHistoryHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		entries, err := svc.History(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		resp := make([]HistoryEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, toHistoryResponse(e))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type transitionFunc func(ctx context.Context, id, actorID uuid.UUID, note *string) (*scheduling.Appointment, error)

// simpleTransitionHandler serves transitions that only take an optional note.
func simpleTransitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := transitionTarget(w, r)
		if !ok {
			return
		}

		var req TransitionRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := fn(r.Context(), id, actor, req.Note)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := transitionTarget(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), scheduling.CancelRequest{
			AppointmentID: id,
			ActorID:       actor,
			Reason:        scheduling.CancellationReason(req.Reason),
			Note:          req.Note,
		})
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := transitionTarget(w, r)
		if !ok {
			return
		}

		var req CompleteAppointmentRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		creq := scheduling.CompleteRequest{AppointmentID: id, ActorID: actor, Note: req.Note}
		if req.CheckedInAt != nil {
			creq.CheckedInAt = *req.CheckedInAt
		}
		if req.StartedAt != nil {
			creq.StartedAt = *req.StartedAt
		}
		if req.CompletedAt != nil {
			creq.CompletedAt = *req.CompletedAt
		}

		appt, err := svc.Complete(r.Context(), creq)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc Rescheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := transitionTarget(w, r)
		if !ok {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, actor)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func transitionTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	return id, actor, true
}

func handleSchedulingError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *scheduling.ConflictError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "conflict",
			Details:  err.Error(),
			Conflict: toConflictResponse(conflict.Conflict),
		})
	case errors.Is(err, scheduling.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", scheduling.ErrConflict.Error())
	case errors.Is(err, scheduling.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", err.Error())

	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "schedule_block_not_found", err.Error())

	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrNotReschedulable):
		writeError(w, http.StatusConflict, "not_reschedulable", err.Error())
	case errors.Is(err, scheduling.ErrAlreadyRescheduled):
		writeError(w, http.StatusConflict, "already_rescheduled", err.Error())
	case errors.Is(err, scheduling.ErrRescheduleCycle):
		writeError(w, http.StatusConflict, "reschedule_cycle", err.Error())

	case errors.Is(err, scheduling.ErrInvalidTimeRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
	case errors.Is(err, scheduling.ErrInvalidKind):
		writeError(w, http.StatusBadRequest, "invalid_kind", err.Error())
	case errors.Is(err, scheduling.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, scheduling.ErrInvalidCancellation):
		writeError(w, http.StatusBadRequest, "invalid_cancellation_reason", err.Error())
	case errors.Is(err, scheduling.ErrInvalidCompletionTimes):
		writeError(w, http.StatusBadRequest, "invalid_completion_times", err.Error())
	case errors.Is(err, scheduling.ErrInvalidBlockKind):
		writeError(w, http.StatusBadRequest, "invalid_block_kind", err.Error())

	default:
		log.Printf("request failed request_id=%s path=%s: %v", GetRequestID(r.Context()), r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
