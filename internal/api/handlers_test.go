package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// mockScheduling implements every service interface the router needs. Each
// field, when set, overrides the default behaviour.
type mockScheduling struct {
	bookFn       func(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error)
	listFn       func(ctx context.Context, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error)
	cancelFn     func(ctx context.Context, req scheduling.CancelRequest) (*scheduling.Appointment, error)
	completeFn   func(ctx context.Context, req scheduling.CompleteRequest) (*scheduling.Appointment, error)
	transitionFn func(to scheduling.Status, id, actor uuid.UUID, note *string) (*scheduling.Appointment, error)
	rescheduleFn func(ctx context.Context, id, actor uuid.UUID) (*scheduling.Appointment, error)
	blockFn      func(ctx context.Context, req scheduling.BlockRequest) (*scheduling.ScheduleBlock, error)
	listBlocksFn func(ctx context.Context, f scheduling.BlockFilter) ([]scheduling.ScheduleBlock, error)

	appointments map[uuid.UUID]*scheduling.Appointment
	history      map[uuid.UUID][]scheduling.StatusHistoryEntry
}

func newMockScheduling() *mockScheduling {
	return &mockScheduling{
		appointments: make(map[uuid.UUID]*scheduling.Appointment),
		history:      make(map[uuid.UUID][]scheduling.StatusHistoryEntry),
	}
}

func (m *mockScheduling) Book(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error) {
	if m.bookFn != nil {
		return m.bookFn(ctx, req)
	}
	return &scheduling.Appointment{ID: uuid.New(), ProfessionalID: req.ProfessionalID, Status: scheduling.StatusScheduled}, nil
}

func (m *mockScheduling) Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return a, nil
}

func (m *mockScheduling) List(ctx context.Context, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return nil, nil
}

func (m *mockScheduling) History(ctx context.Context, id uuid.UUID) ([]scheduling.StatusHistoryEntry, error) {
	if _, ok := m.appointments[id]; !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return m.history[id], nil
}

func (m *mockScheduling) transition(to scheduling.Status, id, actor uuid.UUID, note *string) (*scheduling.Appointment, error) {
	if m.transitionFn != nil {
		return m.transitionFn(to, id, actor, note)
	}
	a, ok := m.appointments[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	if !scheduling.CanTransition(a.Status, to) {
		return nil, scheduling.ErrInvalidStatusTransition
	}
	a.Status = to
	return a, nil
}

func (m *mockScheduling) Confirm(ctx context.Context, id, actor uuid.UUID, note *string) (*scheduling.Appointment, error) {
	return m.transition(scheduling.StatusConfirmed, id, actor, note)
}

func (m *mockScheduling) CheckIn(ctx context.Context, id, actor uuid.UUID, note *string) (*scheduling.Appointment, error) {
	return m.transition(scheduling.StatusCheckedIn, id, actor, note)
}

func (m *mockScheduling) Start(ctx context.Context, id, actor uuid.UUID, note *string) (*scheduling.Appointment, error) {
	return m.transition(scheduling.StatusInProgress, id, actor, note)
}

func (m *mockScheduling) MarkNoShow(ctx context.Context, id, actor uuid.UUID, note *string) (*scheduling.Appointment, error) {
	return m.transition(scheduling.StatusNoShow, id, actor, note)
}

func (m *mockScheduling) Cancel(ctx context.Context, req scheduling.CancelRequest) (*scheduling.Appointment, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, req)
	}
	return m.transition(scheduling.StatusCancelled, req.AppointmentID, req.ActorID, req.Note)
}

func (m *mockScheduling) Complete(ctx context.Context, req scheduling.CompleteRequest) (*scheduling.Appointment, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return m.transition(scheduling.StatusCompleted, req.AppointmentID, req.ActorID, req.Note)
}

func (m *mockScheduling) Reschedule(ctx context.Context, id, actor uuid.UUID) (*scheduling.Appointment, error) {
	if m.rescheduleFn != nil {
		return m.rescheduleFn(ctx, id, actor)
	}
	return nil, scheduling.ErrNotReschedulable
}

func (m *mockScheduling) CreateBlock(ctx context.Context, req scheduling.BlockRequest) (*scheduling.ScheduleBlock, error) {
	if m.blockFn != nil {
		return m.blockFn(ctx, req)
	}
	return &scheduling.ScheduleBlock{ID: uuid.New(), ProfessionalID: req.ProfessionalID, Kind: req.Kind, Active: true}, nil
}

func (m *mockScheduling) DeactivateBlock(ctx context.Context, id uuid.UUID) (*scheduling.ScheduleBlock, error) {
	return nil, scheduling.ErrBlockNotFound
}

func (m *mockScheduling) ListBlocks(ctx context.Context, f scheduling.BlockFilter) ([]scheduling.ScheduleBlock, error) {
	if m.listBlocksFn != nil {
		return m.listBlocksFn(ctx, f)
	}
	return nil, nil
}

// blockList adapts ListBlocks to the Blocks interface, whose List collides
// with the appointment List on the mock.
type blockList struct{ *mockScheduling }

func (b blockList) List(ctx context.Context, f scheduling.BlockFilter) ([]scheduling.ScheduleBlock, error) {
	return b.ListBlocks(ctx, f)
}

func newTestRouter(m *mockScheduling, reg *metrics.Metrics) http.Handler {
	return NewRouter(RouterConfig{
		Booking:     m,
		Lifecycle:   m,
		Rescheduler: m,
		Blocks:      blockList{m},
		PgPool:      okPinger{},
		Metrics:     reg,
		Env:         "test",
		Version:     "dev",
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, actor *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != nil {
		req.Header.Set(actorHeader, actor.String())
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestBookAppointment(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	prof := uuid.New()
	room := uuid.New().String()
	start := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	var got scheduling.BookRequest
	m.bookFn = func(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error) {
		got = req
		return &scheduling.Appointment{
			ID: uuid.New(), ProfessionalID: req.ProfessionalID, StartAt: req.StartAt, EndAt: req.EndAt,
			Status: scheduling.StatusScheduled, Kind: req.Kind, CreatedBy: req.CreatedBy,
		}, nil
	}

	rec := doRequest(t, newTestRouter(m, nil), http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:      uuid.New().String(),
		ProfessionalID: prof.String(),
		RoomID:         &room,
		StartAt:        start,
		EndAt:          start.Add(30 * time.Minute),
		Kind:           "cleaning",
	}, &actor)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, actor, got.CreatedBy)
	assert.Equal(t, prof, got.ProfessionalID)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, room, got.RoomID.String())
	assert.Equal(t, scheduling.KindCleaning, got.Kind)

	var resp AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, actor, resp.CreatedBy)
}

func TestBookAppointment_Conflict(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	other := uuid.New()
	start := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	m.bookFn = func(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error) {
		return nil, &scheduling.ConflictError{Conflict: &scheduling.Conflict{
			Kind: scheduling.ConflictProfessional, AppointmentID: &other, StartAt: start, EndAt: start.Add(30 * time.Minute),
		}}
	}

	rec := doRequest(t, newTestRouter(m, nil), http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:      uuid.New().String(),
		ProfessionalID: uuid.New().String(),
		StartAt:        start.Add(15 * time.Minute),
		EndAt:          start.Add(45 * time.Minute),
		Kind:           "checkup",
	}, &actor)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "conflict", resp.Error)
	require.NotNil(t, resp.Conflict)
	assert.Equal(t, "professional", resp.Conflict.Kind)
	assert.Equal(t, other, *resp.Conflict.AppointmentID)
}

func TestBookAppointment_BadInput(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	h := newTestRouter(m, nil)

	rec := doRequest(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_actor", decodeError(t, rec).Error)

	rec = doRequest(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{PatientID: "nope"}, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_patient_id", decodeError(t, rec).Error)

	rec = doRequest(t, h, http.MethodPost, "/appointments", map[string]string{"surprise": "field"}, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)

	m.bookFn = func(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error) {
		return nil, scheduling.ErrInvalidTimeRange
	}
	rec = doRequest(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), ProfessionalID: uuid.New().String(), Kind: "checkup",
	}, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time_range", decodeError(t, rec).Error)
}

func TestListAppointments_ParsesFilter(t *testing.T) {
	m := newMockScheduling()
	prof := uuid.New()

	var got scheduling.AppointmentFilter
	m.listFn = func(ctx context.Context, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
		got = f
		return []scheduling.Appointment{{ID: uuid.New(), ProfessionalID: prof, Status: scheduling.StatusCancelled}}, nil
	}

	h := newTestRouter(m, nil)
	rec := doRequest(t, h, http.MethodGet,
		"/appointments?professional_id="+prof.String()+"&status=cancelled,no_show&from=2025-03-01T00:00:00Z&limit=10&offset=20", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, got.ProfessionalID)
	assert.Equal(t, prof, *got.ProfessionalID)
	assert.Equal(t, []scheduling.Status{scheduling.StatusCancelled, scheduling.StatusNoShow}, got.Statuses)
	require.NotNil(t, got.From)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got.From.UTC())
	assert.Nil(t, got.To)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 20, got.Offset)

	var resp AppointmentListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Items, 1)

	rec = doRequest(t, h, http.MethodGet, "/appointments?status=archived", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/appointments?from=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitions(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	id := uuid.New()
	m.appointments[id] = &scheduling.Appointment{ID: id, Status: scheduling.StatusScheduled}
	h := newTestRouter(m, nil)

	for _, step := range []struct {
		path string
		want string
	}{
		{"confirm", "confirmed"},
		{"check-in", "checked_in"},
		{"start", "in_progress"},
	} {
		rec := doRequest(t, h, http.MethodPost, "/appointments/"+id.String()+"/"+step.path, nil, &actor)
		require.Equal(t, http.StatusOK, rec.Code, step.path)

		var resp AppointmentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, step.want, resp.Status)
	}

	rec := doRequest(t, h, http.MethodPost, "/appointments/"+id.String()+"/no-show", TransitionRequest{}, &actor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)

	rec = doRequest(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/confirm", nil, &actor)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/appointments/not-a-uuid/confirm", nil, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/appointments/"+id.String()+"/confirm", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAppointment(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	id := uuid.New()
	note := "called in sick"

	var got scheduling.CancelRequest
	m.cancelFn = func(ctx context.Context, req scheduling.CancelRequest) (*scheduling.Appointment, error) {
		got = req
		if !req.Reason.Valid() {
			return nil, scheduling.ErrInvalidCancellation
		}
		reason := req.Reason
		return &scheduling.Appointment{ID: id, Status: scheduling.StatusCancelled, CancellationReason: &reason}, nil
	}
	h := newTestRouter(m, nil)

	rec := doRequest(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel",
		CancelAppointmentRequest{Reason: "patient", Note: &note}, &actor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, got.AppointmentID)
	assert.Equal(t, actor, got.ActorID)
	assert.Equal(t, note, *got.Note)

	var resp AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "patient", *resp.CancellationReason)

	rec = doRequest(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel",
		CancelAppointmentRequest{Reason: "weather"}, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_cancellation_reason", decodeError(t, rec).Error)

	rec = doRequest(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel", nil, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteAppointment(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	id := uuid.New()
	checkedIn := time.Date(2025, 3, 12, 9, 55, 0, 0, time.UTC)

	var got scheduling.CompleteRequest
	m.completeFn = func(ctx context.Context, req scheduling.CompleteRequest) (*scheduling.Appointment, error) {
		got = req
		return &scheduling.Appointment{ID: id, Status: scheduling.StatusCompleted}, nil
	}

	rec := doRequest(t, newTestRouter(m, nil), http.MethodPost, "/appointments/"+id.String()+"/complete",
		CompleteAppointmentRequest{CheckedInAt: &checkedIn}, &actor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, checkedIn.Equal(got.CheckedInAt))
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())
}

func TestRescheduleAppointment(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	orig := uuid.New()

	m.rescheduleFn = func(ctx context.Context, id, creator uuid.UUID) (*scheduling.Appointment, error) {
		switch id {
		case orig:
			return &scheduling.Appointment{ID: uuid.New(), Status: scheduling.StatusConfirmed, RescheduledFromID: &orig, CreatedBy: creator}, nil
		default:
			return nil, fmt.Errorf("reschedule %s: %w", id, scheduling.ErrAlreadyRescheduled)
		}
	}
	h := newTestRouter(m, nil)

	rec := doRequest(t, h, http.MethodPost, "/appointments/"+orig.String()+"/reschedule", nil, &actor)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, orig, *resp.RescheduledFromID)
	assert.Equal(t, actor, resp.CreatedBy)

	rec = doRequest(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/reschedule", nil, &actor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_rescheduled", decodeError(t, rec).Error)
}

func TestAppointmentHistory(t *testing.T) {
	m := newMockScheduling()
	id := uuid.New()
	prev := scheduling.StatusScheduled
	m.appointments[id] = &scheduling.Appointment{ID: id, Status: scheduling.StatusCancelled}
	m.history[id] = []scheduling.StatusHistoryEntry{
		{ID: uuid.New(), AppointmentID: id, NewStatus: scheduling.StatusScheduled},
		{ID: uuid.New(), AppointmentID: id, PreviousStatus: &prev, NewStatus: scheduling.StatusCancelled},
	}

	rec := doRequest(t, newTestRouter(m, nil), http.MethodGet, "/appointments/"+id.String()+"/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []HistoryEntryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Nil(t, resp[0].PreviousStatus)
	assert.Equal(t, "scheduled", *resp[1].PreviousStatus)
	assert.Equal(t, "cancelled", resp[1].NewStatus)
}

func TestScheduleBlocks(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	prof := uuid.New()
	start := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	h := newTestRouter(m, nil)

	rec := doRequest(t, h, http.MethodPost, "/schedule-blocks", CreateBlockRequest{
		ProfessionalID: prof.String(),
		StartAt:        start,
		EndAt:          start.Add(48 * time.Hour),
		Kind:           "vacation",
		Reason:         "holidays",
	}, &actor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var block BlockResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&block))
	assert.Equal(t, prof, block.ProfessionalID)
	assert.True(t, block.Active)

	var got scheduling.BlockFilter
	m.listBlocksFn = func(ctx context.Context, f scheduling.BlockFilter) ([]scheduling.ScheduleBlock, error) {
		got = f
		return nil, nil
	}
	rec = doRequest(t, h, http.MethodGet, "/schedule-blocks?professional_id="+prof.String()+"&active=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.ActiveOnly)
	assert.Equal(t, prof, *got.ProfessionalID)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = doRequest(t, h, http.MethodPost, "/schedule-blocks/"+uuid.NewString()+"/deactivate", nil, &actor)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "schedule_block_not_found", decodeError(t, rec).Error)
}

func TestInternalErrorIsNotLeaked(t *testing.T) {
	m := newMockScheduling()
	actor := uuid.New()
	m.bookFn = func(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error) {
		return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
	}

	rec := doRequest(t, newTestRouter(m, nil), http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: uuid.New().String(), ProfessionalID: uuid.New().String(), Kind: "checkup",
	}, &actor)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}
