package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaChecker is satisfied by *db.Schema.
type SchemaChecker interface {
	Pending(ctx context.Context) (int, error)
}

const (
	depDatabase     = "postgres"
	depSchema       = "schema"
	depCalendarLock = "calendar_lock"

	readinessTimeout  = 2 * time.Second
	dependencyTimeout = time.Second
)

// dependency is one readiness check. Booking cannot run at all without a
// required dependency; without an optional one it runs with less protection.
type dependency struct {
	name     string
	required bool
	check    func(ctx context.Context) error
}

type HealthHandler struct {
	deps    []dependency
	env     string
	version string
}

// NewHealthHandler checks the booking path's dependencies in order: the
// database, its schema, then the Redis calendar lock. Overlap checks and
// exclusion constraints live in Postgres, so a missing calendar lock only
// degrades the service.
func NewHealthHandler(pg Pinger, schema SchemaChecker, rdb *redis.Client, env, version string) *HealthHandler {
	return &HealthHandler{
		deps: []dependency{
			{name: depDatabase, required: true, check: pingDatabase(pg)},
			{name: depSchema, required: true, check: schemaCurrent(schema)},
			{name: depCalendarLock, check: pingCalendarLock(rdb)},
		},
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness answers 503 with status "error" when a required dependency is
// down and 200 with "degraded" when only an optional one is.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Dependencies: make(map[string]string, len(h.deps)),
	}

	for _, d := range h.deps {
		depCtx, depCancel := context.WithTimeout(ctx, dependencyTimeout)
		err := d.check(depCtx)
		depCancel()

		if err == nil {
			resp.Dependencies[d.name] = "ok"
			continue
		}
		resp.Dependencies[d.name] = "down"
		switch {
		case d.required:
			resp.Status = "error"
		case resp.Status == "ok":
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func pingDatabase(pg Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if pg == nil {
			return errNotConfigured
		}
		return pg.Ping(ctx)
	}
}

// schemaCurrent fails while migrations are pending. A server without a
// SchemaChecker trusts that it migrated on startup.
func schemaCurrent(schema SchemaChecker) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if schema == nil {
			return nil
		}
		n, err := schema.Pending(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%d migrations pending", n)
		}
		return nil
	}
}

func pingCalendarLock(rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errNotConfigured
		}
		return rdb.Ping(ctx).Err()
	}
}
