package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// The handlers depend on these narrow views of the scheduling services.

type Booker interface {
	Book(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error)
}

type Lifecycle interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	List(ctx context.Context, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error)
	History(ctx context.Context, id uuid.UUID) ([]scheduling.StatusHistoryEntry, error)
	Confirm(ctx context.Context, id, actorID uuid.UUID, note *string) (*scheduling.Appointment, error)
	CheckIn(ctx context.Context, id, actorID uuid.UUID, note *string) (*scheduling.Appointment, error)
	Start(ctx context.Context, id, actorID uuid.UUID, note *string) (*scheduling.Appointment, error)
	MarkNoShow(ctx context.Context, id, actorID uuid.UUID, note *string) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, req scheduling.CancelRequest) (*scheduling.Appointment, error)
	Complete(ctx context.Context, req scheduling.CompleteRequest) (*scheduling.Appointment, error)
}

type Rescheduler interface {
	Reschedule(ctx context.Context, originalID, creatorID uuid.UUID) (*scheduling.Appointment, error)
}

type Blocks interface {
	CreateBlock(ctx context.Context, req scheduling.BlockRequest) (*scheduling.ScheduleBlock, error)
	List(ctx context.Context, f scheduling.BlockFilter) ([]scheduling.ScheduleBlock, error)
	DeactivateBlock(ctx context.Context, id uuid.UUID) (*scheduling.ScheduleBlock, error)
}

type RouterConfig struct {
	Booking     Booker
	Lifecycle   Lifecycle
	Rescheduler Rescheduler
	Blocks      Blocks
	PgPool      Pinger
	Schema      SchemaChecker
	Redis       *redis.Client
	Metrics     *metrics.Metrics
	Env         string
	Version     string
}

// ServiceRouterConfig fills the scheduling side of a RouterConfig from svc.
func ServiceRouterConfig(svc *scheduling.Service) RouterConfig {
	return RouterConfig{
		Booking:     svc.Booking,
		Lifecycle:   svc.Lifecycle,
		Rescheduler: svc.Rescheduler,
		Blocks:      svc.Blocks,
	}
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Schema, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Booking))
		r.Get("/", listAppointmentsHandler(cfg.Lifecycle))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(cfg.Lifecycle))
			r.Get("/history", appointmentHistoryHandler(cfg.Lifecycle))
			r.Post("/confirm", simpleTransitionHandler(cfg.Lifecycle.Confirm))
			r.Post("/check-in", simpleTransitionHandler(cfg.Lifecycle.CheckIn))
			r.Post("/start", simpleTransitionHandler(cfg.Lifecycle.Start))
			r.Post("/no-show", simpleTransitionHandler(cfg.Lifecycle.MarkNoShow))
			r.Post("/cancel", cancelAppointmentHandler(cfg.Lifecycle))
			r.Post("/complete", completeAppointmentHandler(cfg.Lifecycle))
			r.Post("/reschedule", rescheduleAppointmentHandler(cfg.Rescheduler))
		})
	})

	// Schedule block endpoints
	r.Route("/schedule-blocks", func(r chi.Router) {
		r.Post("/", createBlockHandler(cfg.Blocks))
		r.Get("/", listBlocksHandler(cfg.Blocks))
		r.Post("/{id}/deactivate", deactivateBlockHandler(cfg.Blocks))
	})

	return r
}
