package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var ErrNoPatients = errors.New("generator needs at least one patient")

type GeneratorConfig struct {
	MaxRetries             int
	MaxConsecutiveFailures int
}

type GenerateRequest struct {
	ProfessionalID uuid.UUID
	RoomIDs        []uuid.UUID // one is drawn per appointment; empty means no room
	PatientIDs     []uuid.UUID
	CreatedBy      uuid.UUID
	Count          int
	Past           bool
	WindowDays     int
}

type GenerateReport struct {
	Created   int
	Conflicts int
	Failures  int
	Aborted   bool
}

type GenerateBlocksRequest struct {
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	CreatedBy      uuid.UUID
	Count          int
	WindowDays     int
}

// Generator fills calendars with synthetic appointments for demos and load
// tests. Every write goes through BookingService and BlockManager.
type Generator struct {
	booking *BookingService
	blocks  *BlockManager
	sampler *Sampler
	cfg     GeneratorConfig
}

func NewGenerator(booking *BookingService, blocks *BlockManager, sampler *Sampler, cfg GeneratorConfig) *Generator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 25
	}
	return &Generator{booking: booking, blocks: blocks, sampler: sampler, cfg: cfg}
}

// Generate books up to req.Count appointments. Each one gets MaxRetries
// sample-and-book attempts; running out counts a failure. After
// MaxConsecutiveFailures failures in a row the batch stops with Aborted set.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (GenerateReport, error) {
	var report GenerateReport
	if len(req.PatientIDs) == 0 {
		return report, ErrNoPatients
	}

	consecutive := 0
	for i := 0; i < req.Count; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		booked, conflicts, err := g.bookOne(ctx, req)
		report.Conflicts += conflicts
		if err != nil {
			return report, err
		}

		if booked {
			report.Created++
			consecutive = 0
			continue
		}

		report.Failures++
		consecutive++
		if consecutive >= g.cfg.MaxConsecutiveFailures {
			report.Aborted = true
			log.Printf("generator aborted professional=%s created=%d consecutive_failures=%d",
				req.ProfessionalID, report.Created, consecutive)
			break
		}
	}

	log.Printf("generator finished professional=%s past=%t created=%d conflicts=%d failures=%d",
		req.ProfessionalID, req.Past, report.Created, report.Conflicts, report.Failures)
	return report, nil
}

func (g *Generator) bookOne(ctx context.Context, req GenerateRequest) (bool, int, error) {
	conflicts := 0
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		slot := g.sampler.SampleSlot(req.Past, req.WindowDays)
		br := BookRequest{
			PatientID:      req.PatientIDs[g.sampler.Pick(len(req.PatientIDs))],
			ProfessionalID: req.ProfessionalID,
			StartAt:        slot.Start,
			EndAt:          slot.End(),
			Kind:           Kinds[g.sampler.Pick(len(Kinds))],
			CreatedBy:      req.CreatedBy,
		}
		if len(req.RoomIDs) > 0 {
			br.RoomID = ptr(req.RoomIDs[g.sampler.Pick(len(req.RoomIDs))])
		}
		if req.Past {
			g.pastOutcome(&br)
		} else if g.sampler.Chance(0.3) {
			br.Status = ptr(StatusConfirmed)
		}

		_, err := g.booking.Book(ctx, br)
		switch {
		case err == nil:
			return true, conflicts, nil
		case errors.Is(err, ErrConflict):
			conflicts++
		case errors.Is(err, ErrCalendarBusy):
			// Contention, not a full calendar; resample without counting it.
		default:
			return false, conflicts, fmt.Errorf("generate appointment: %w", err)
		}
	}
	return false, conflicts, nil
}

// pastOutcome seeds a past appointment straight into a terminal status:
// roughly 70% completed, 20% cancelled, 10% no-show.
func (g *Generator) pastOutcome(br *BookRequest) {
	draw := g.sampler.Float64()
	switch {
	case draw < 0.7:
		checkIn := br.StartAt.Add(-time.Duration(g.sampler.Pick(11)) * time.Minute)
		started := br.StartAt.Add(time.Duration(g.sampler.Pick(11)) * time.Minute)
		completed := br.EndAt.Add(time.Duration(g.sampler.Pick(16)) * time.Minute)
		br.Status = ptr(StatusCompleted)
		br.Completion = &CompletionTimes{CheckedInAt: checkIn, StartedAt: started, CompletedAt: completed}
	case draw < 0.9:
		reasons := []CancellationReason{CancelledByPatient, CancelledByProfessional, CancelledByClinic}
		br.Status = ptr(StatusCancelled)
		br.CancellationReason = ptr(reasons[g.sampler.Pick(len(reasons))])
	default:
		br.Status = ptr(StatusNoShow)
	}
}

// GenerateBlocks creates demo unavailability windows starting on sampled
// future slots. Blocks never conflict so there is no retry.
func (g *Generator) GenerateBlocks(ctx context.Context, req GenerateBlocksRequest) ([]ScheduleBlock, error) {
	blocks := make([]ScheduleBlock, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		slot := g.sampler.SampleSlot(false, req.WindowDays)
		start, end := g.sampler.BlockWindow(slot.Start)
		kind := BlockKinds[g.sampler.Pick(len(BlockKinds))]

		b, err := g.blocks.CreateBlock(ctx, BlockRequest{
			ProfessionalID: req.ProfessionalID,
			RoomID:         req.RoomID,
			StartAt:        start,
			EndAt:          end,
			Kind:           kind,
			Reason:         blockReason(kind),
			CreatedBy:      req.CreatedBy,
		})
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, nil
}

func blockReason(k BlockKind) string {
	switch k {
	case BlockVacation:
		return "vacation"
	case BlockTraining:
		return "continuing education course"
	case BlockMaintenance:
		return "equipment maintenance"
	}
	return "blocked by staff"
}
