package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s timezone=%s enforce_blocks=%t",
		cfg.Env, cfg.HTTPPort, cfg.Clinic.Location, cfg.Scheduling.EnforceScheduleBlocks)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConn)})
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	applied, err := db.Migrate(rootCtx, pgPool)
	if err != nil {
		log.Fatalf("migration error: %v", err)
	}
	log.Printf("migrations applied=%d", applied)

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("clinic")
	}

	repo := scheduling.NewPgRepository(pgPool)
	tx := scheduling.NewPgTransactor(db.NewTxManager(pgPool))
	locker := redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL)
	sampler := scheduling.NewSampler(gofakeit.New(cfg.Scheduling.RandomSeed), scheduling.SamplerConfig{
		Location:  cfg.Clinic.Location,
		OpenHour:  cfg.Clinic.OpenHour,
		CloseHour: cfg.Clinic.CloseHour,
		Duration:  cfg.Clinic.SlotSize,
	})
	svc := scheduling.NewService(repo, tx, locker, sampler, cfg.Scheduling, scheduling.WithMetrics(m))

	routerCfg := api.ServiceRouterConfig(svc)
	routerCfg.PgPool = pgPool
	routerCfg.Schema = db.NewSchema(pgPool)
	routerCfg.Redis = rdb
	routerCfg.Metrics = m
	routerCfg.Env = cfg.Env
	routerCfg.Version = version

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
