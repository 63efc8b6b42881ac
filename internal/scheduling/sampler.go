package scheduling

import (
	"sync"
	"time"
)

// Rand is the pseudo-random source threaded through sampling and policy
// draws. *gofakeit.Faker satisfies it; seed it explicitly for repeatable runs.
type Rand interface {
	Number(min, max int) int
	Float64() float64
}

type SamplerConfig struct {
	Location  *time.Location
	OpenHour  int
	CloseHour int
	Duration  time.Duration
	Now       func() time.Time
}

type Slot struct {
	Start    time.Time
	Duration time.Duration
}

func (s Slot) End() time.Time {
	return s.Start.Add(s.Duration)
}

func (s Slot) WithDuration(d time.Duration) Slot {
	if d > 0 {
		s.Duration = d
	}
	return s
}

// Sampler proposes candidate slots on the clinic's quarter-hour grid. It does
// not check conflicts; callers book and retry.
type Sampler struct {
	mu        sync.Mutex
	rng       Rand
	loc       *time.Location
	openHour  int
	closeHour int
	duration  time.Duration
	now       func() time.Time
}

func NewSampler(rng Rand, cfg SamplerConfig) *Sampler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.OpenHour == 0 && cfg.CloseHour == 0 {
		cfg.OpenHour, cfg.CloseHour = 8, 18
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sampler{
		rng:       rng,
		loc:       cfg.Location,
		openHour:  cfg.OpenHour,
		closeHour: cfg.CloseHour,
		duration:  cfg.Duration,
		now:       cfg.Now,
	}
}

// SampleSlot picks a day in [today-windowDays, today] (past) or
// [today, today+windowDays] (future) and a quarter-hour mark between the
// opening and closing hour, both inclusive.
//
// A future slot that is not after now is nudged to the next hour boundary; a
// past slot that is still ahead of now is pulled back to the hour before the
// current one.
func (s *Sampler) SampleSlot(past bool, windowDays int) Slot {
	if windowDays < 0 {
		windowDays = 0
	}

	now := s.now().In(s.loc)

	s.mu.Lock()
	offset := s.rng.Number(0, windowDays)
	mark := s.rng.Number(0, (s.closeHour-s.openHour)*4)
	s.mu.Unlock()

	if past {
		offset = -offset
	}

	day := now.AddDate(0, 0, offset)
	start := time.Date(day.Year(), day.Month(), day.Day(), s.openHour, mark*15, 0, 0, s.loc)

	switch {
	case !past && !start.After(now):
		start = time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, s.loc)
	case past && start.After(now):
		start = time.Date(now.Year(), now.Month(), now.Day(), now.Hour()-1, 0, 0, 0, s.loc)
	}

	return Slot{Start: start, Duration: s.duration}
}

// BlockWindow spans 1 to 7 days from start and ends at the clinic closing hour.
func (s *Sampler) BlockWindow(start time.Time) (time.Time, time.Time) {
	s.mu.Lock()
	days := s.rng.Number(1, 7)
	s.mu.Unlock()

	endDay := start.In(s.loc).AddDate(0, 0, days)
	end := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), s.closeHour, 0, 0, 0, s.loc)
	return start, end
}

// Chance reports true with probability p.
func (s *Sampler) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

// Float64 draws from [0, 1).
func (s *Sampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Pick returns an index in [0, n).
func (s *Sampler) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Number(0, n-1)
}
