package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

var errNoUsers = errors.New("no users to attribute seeded appointments to")

type seedConfig struct {
	Users                 int
	Professionals         int
	Rooms                 int
	Patients              int
	PastPerProfessional   int
	FuturePerProfessional int
	BlocksPerProfessional int
	WindowDays            int
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	sc := seedConfig{
		Users:                 getInt("SEED_USERS", 5),
		Professionals:         getInt("SEED_PROFESSIONALS", 8),
		Rooms:                 getInt("SEED_ROOMS", 4),
		Patients:              getInt("SEED_PATIENTS", 2000),
		PastPerProfessional:   getInt("SEED_PAST_APPOINTMENTS", 120),
		FuturePerProfessional: getInt("SEED_FUTURE_APPOINTMENTS", 80),
		BlocksPerProfessional: getInt("SEED_BLOCKS", 2),
		WindowDays:            getInt("SEED_WINDOW_DAYS", 60),
	}

	ctx := context.Background()

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConn)})
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()

	faker := gofakeit.New(cfg.Scheduling.RandomSeed)
	dir := directory.New(pool)

	if err := seedReference(ctx, dir, directory.NewFaker(faker), sc); err != nil {
		log.Fatalf("seed reference data: %v", err)
	}

	sampler := scheduling.NewSampler(faker, scheduling.SamplerConfig{
		Location:  cfg.Clinic.Location,
		OpenHour:  cfg.Clinic.OpenHour,
		CloseHour: cfg.Clinic.CloseHour,
		Duration:  cfg.Clinic.SlotSize,
	})
	svc := scheduling.NewService(
		scheduling.NewPgRepository(pool),
		scheduling.NewPgTransactor(db.NewTxManager(pool)),
		redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL),
		sampler,
		cfg.Scheduling,
	)

	if err := seedCalendars(ctx, dir, svc.Generator, sc); err != nil {
		log.Fatalf("seed calendars: %v", err)
	}

	log.Println("seed complete")
}

func seedReference(ctx context.Context, dir *directory.Directory, fk *directory.Faker, sc seedConfig) error {
	log.Printf("seeding users=%d professionals=%d rooms=%d patients=%d",
		sc.Users, sc.Professionals, sc.Rooms, sc.Patients)

	if err := dir.InsertUsers(ctx, fk.Users(sc.Users)); err != nil {
		return err
	}
	if err := dir.InsertProfessionals(ctx, fk.Professionals(sc.Professionals)); err != nil {
		return err
	}
	if err := dir.InsertRooms(ctx, fk.Rooms(sc.Rooms)); err != nil {
		return err
	}

	const batchSize = 500

	for offset := 0; offset < sc.Patients; offset += batchSize {
		n := min(batchSize, sc.Patients-offset)
		if err := dir.InsertPatients(ctx, fk.Patients(n)); err != nil {
			return err
		}
		log.Printf("patients seeded: %d/%d", offset+n, sc.Patients)
	}

	return nil
}

func seedCalendars(ctx context.Context, dir *directory.Directory, gen *scheduling.Generator, sc seedConfig) error {
	users, err := dir.IDs(ctx, directory.Users, 1)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return errNoUsers
	}
	actor := users[0]

	professionals, err := dir.IDs(ctx, directory.Professionals, 0)
	if err != nil {
		return err
	}
	rooms, err := dir.IDs(ctx, directory.Rooms, 0)
	if err != nil {
		return err
	}
	patients, err := dir.IDs(ctx, directory.Patients, 0)
	if err != nil {
		return err
	}

	for _, prof := range professionals {
		base := scheduling.GenerateRequest{
			ProfessionalID: prof,
			RoomIDs:        rooms,
			PatientIDs:     patients,
			CreatedBy:      actor,
			WindowDays:     sc.WindowDays,
		}

		past := base
		past.Past = true
		past.Count = sc.PastPerProfessional
		if _, err := gen.Generate(ctx, past); err != nil {
			return err
		}

		future := base
		future.Count = sc.FuturePerProfessional
		if _, err := gen.Generate(ctx, future); err != nil {
			return err
		}

		blocks, err := gen.GenerateBlocks(ctx, scheduling.GenerateBlocksRequest{
			ProfessionalID: prof,
			CreatedBy:      actor,
			Count:          sc.BlocksPerProfessional,
			WindowDays:     sc.WindowDays,
		})
		if err != nil {
			return err
		}
		log.Printf("calendar seeded professional=%s blocks=%d", prof, len(blocks))
	}

	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
		log.Printf("invalid int for %s=%q, using default %d", key, v, def)
	}
	return def
}
