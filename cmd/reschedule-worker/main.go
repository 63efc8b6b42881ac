package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reschedule-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running reschedule worker in env=%s interval=%s batch=%d no_show_chance=%.2f cancelled_chance=%.2f",
		cfg.Env, cfg.WorkerInterval, cfg.Scheduling.RescheduleBatchSize,
		cfg.Scheduling.RescheduleNoShowChance, cfg.Scheduling.RescheduleCancelledChance)

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

	dir := directory.New(pgPool)
	actors, err := dir.IDs(rootCtx, directory.Users, 1)
	if err != nil {
		log.Fatalf("load system actor: %v", err)
	}
	if len(actors) == 0 {
		log.Fatal("no users found; run seed first")
	}

	sampler := scheduling.NewSampler(gofakeit.New(cfg.Scheduling.RandomSeed), scheduling.SamplerConfig{
		Location:  cfg.Clinic.Location,
		OpenHour:  cfg.Clinic.OpenHour,
		CloseHour: cfg.Clinic.CloseHour,
		Duration:  cfg.Clinic.SlotSize,
	})
	svc := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		scheduling.NewPgTransactor(db.NewTxManager(pgPool)),
		redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL),
		sampler,
		cfg.Scheduling,
		scheduling.WithMetrics(metrics.New("clinic_worker")),
	)

	w := &worker{dir: dir, rescheduler: svc.Rescheduler, actor: actors[0]}

	// Run once at startup
	w.runOnce(rootCtx)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping reschedule worker")
			return
		case <-ticker.C:
			w.runOnce(rootCtx)
		}
	}
}

type worker struct {
	dir         *directory.Directory
	rescheduler *scheduling.Rescheduler
	actor       uuid.UUID
}

func (w *worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	professionals, err := w.dir.IDs(runCtx, directory.Professionals, 0)
	if err != nil {
		log.Printf("reschedule run error: %v", err)
		return
	}

	var total scheduling.RescheduleReport
	for _, id := range professionals {
		report, err := w.rescheduler.RescheduleBatch(runCtx, id, w.actor)
		total.Candidates += report.Candidates
		total.Rescheduled += report.Rescheduled
		total.Declined += report.Declined
		total.Skipped += report.Skipped
		if err != nil {
			log.Printf("reschedule batch error professional_id=%s: %v", id, err)
			if runCtx.Err() != nil {
				break
			}
		}
	}

	log.Printf("reschedule run complete professionals=%d candidates=%d rescheduled=%d declined=%d skipped=%d duration=%s",
		len(professionals), total.Candidates, total.Rescheduled, total.Declined, total.Skipped, time.Since(start))
}
