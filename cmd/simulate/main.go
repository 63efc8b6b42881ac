package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	BookingRatio      float64
	TransitionRatio   float64
	ReadRatio         float64
	PatientLimit      int
	ProfessionalLimit int
	Days              int
	PostgresDSN       string
	Location          *time.Location
	OpenHour          int
	CloseHour         int
	SlotSize          time.Duration
}

type DataPool struct {
	Patients      []uuid.UUID
	Professionals []uuid.UUID
	Rooms         []uuid.UUID
	Actor         uuid.UUID
	mu            sync.RWMutex
	appointments  []uuid.UUID // Thread-safe list of created appointment IDs
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Number(0, len(dp.appointments)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	ReadByID   OperationMetrics
	ListByPro  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f transition=%.2f read=%.2f professionals=%d days=%d",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.TransitionRatio, cfg.ReadRatio, cfg.ProfessionalLimit, cfg.Days)

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, directory.New(pgPool), cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d professionals, %d rooms",
		len(dataPool.Patients), len(dataPool.Professionals), len(dataPool.Rooms))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	overlaps, err := countOverlaps(checkCtx, pgPool)
	if err != nil {
		log.Fatalf("overlap check: %v", err)
	}
	if overlaps > 0 {
		log.Fatalf("overlap check FAILED: %d overlapping occupying appointment pairs", overlaps)
	}
	log.Println("overlap check passed: no professional or room is double booked")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio:   getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:         getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:      getInt("SIM_PATIENT_LIMIT", 4000),
		ProfessionalLimit: getInt("SIM_PROFESSIONAL_LIMIT", 3),
		Days:              getInt("SIM_DAYS", 2),
		PostgresDSN:       baseCfg.PostgresDSN,
		Location:          baseCfg.Clinic.Location,
		OpenHour:          baseCfg.Clinic.OpenHour,
		CloseHour:         baseCfg.Clinic.CloseHour,
		SlotSize:          baseCfg.Clinic.SlotSize,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, dir *directory.Directory, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	if dataPool.Patients, err = dir.IDs(ctx, directory.Patients, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	// Few professionals over a short window keeps contention high.
	if dataPool.Professionals, err = dir.IDs(ctx, directory.Professionals, cfg.ProfessionalLimit); err != nil {
		return nil, fmt.Errorf("load professionals: %w", err)
	}
	if dataPool.Rooms, err = dir.IDs(ctx, directory.Rooms, 0); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	users, err := dir.IDs(ctx, directory.Users, 1)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Professionals) == 0 {
		return nil, fmt.Errorf("no professionals loaded")
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("no users loaded")
	}
	dataPool.Actor = users[0]

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))
	sampler := scheduling.NewSampler(rng, scheduling.SamplerConfig{
		Location:  s.config.Location,
		OpenHour:  s.config.OpenHour,
		CloseHour: s.config.CloseHour,
		Duration:  s.config.SlotSize,
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Select operation based on ratios
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng, sampler)
			} else if r < s.config.BookingRatio+s.config.TransitionRatio {
				s.doTransition(ctx, rng)
			} else if rng.Bool() {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByProfessional(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *gofakeit.Faker, sampler *scheduling.Sampler) {
	slot := sampler.SampleSlot(false, s.config.Days)

	reqBody := map[string]any{
		"patient_id":      s.pool.Patients[rng.Number(0, len(s.pool.Patients)-1)].String(),
		"professional_id": s.pool.Professionals[rng.Number(0, len(s.pool.Professionals)-1)].String(),
		"start_at":        slot.Start,
		"end_at":          slot.End(),
		"kind":            string(scheduling.Kinds[rng.Number(0, len(scheduling.Kinds)-1)]),
	}
	if len(s.pool.Rooms) > 0 {
		reqBody["room_id"] = s.pool.Rooms[rng.Number(0, len(s.pool.Rooms)-1)].String()
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/appointments", body)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			success = true
			// Parse response to get appointment ID
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &apptResp) == nil && apptResp.ID != uuid.Nil {
				s.pool.AddAppointment(apptResp.ID)
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

var transitionPaths = []string{"confirm", "check-in", "start", "complete", "no-show", "cancel"}

func (s *Simulator) doTransition(ctx context.Context, rng *gofakeit.Faker) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	action := transitionPaths[rng.Number(0, len(transitionPaths)-1)]
	var body []byte
	if action == "cancel" {
		reasons := []string{"patient", "professional", "clinic"}
		body, _ = json.Marshal(map[string]string{"reason": reasons[rng.Number(0, len(reasons)-1)]})
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", apptID, action), body)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
		} else if resp.StatusCode == http.StatusConflict {
			// Invalid transitions are expected under random actions.
			conflict = true
		}
	}

	s.metrics.Transition.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *gofakeit.Faker) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, "/appointments/"+apptID.String(), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doListByProfessional(ctx context.Context, rng *gofakeit.Faker) {
	profID := s.pool.Professionals[rng.Number(0, len(s.pool.Professionals)-1)]

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/appointments?professional_id=%s&status=scheduled,confirmed&limit=20&offset=0", profID), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByPro.Record(latency, success, false)
}

func (s *Simulator) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Actor-ID", s.pool.Actor.String())

	return s.client.Do(req)
}

// countOverlaps is the oracle: it counts pairs of occupying appointments that
// share a professional or a room and intersect in time.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const q = `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b ON a.id < b.id
			AND (a.professional_id = b.professional_id OR (a.room_id IS NOT NULL AND a.room_id = b.room_id))
			AND a.start_at < b.end_at AND b.start_at < a.end_at
		WHERE a.status = ANY($1) AND b.status = ANY($1)
	`
	statuses := make([]string, len(scheduling.OccupyingStatuses))
	for i, st := range scheduling.OccupyingStatuses {
		statuses[i] = string(st)
	}

	var n int
	if err := pool.QueryRow(ctx, q, statuses).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Professional", &s.metrics.ListByPro)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
