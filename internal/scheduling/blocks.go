package scheduling

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

type BlockRequest struct {
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Kind           BlockKind
	Reason         string
	CreatedBy      uuid.UUID
}

// BlockManager records unavailability windows. Blocks may overlap each other
// and existing appointments; whether booking honours them is up to the
// Checker's policy.
type BlockManager struct {
	repo Repository
	now  func() time.Time
}

func NewBlockManager(repo Repository, now func() time.Time) *BlockManager {
	if now == nil {
		now = time.Now
	}
	return &BlockManager{repo: repo, now: now}
}

func (m *BlockManager) CreateBlock(ctx context.Context, req BlockRequest) (*ScheduleBlock, error) {
	if !req.EndAt.After(req.StartAt) {
		return nil, fmt.Errorf("%w: start=%s end=%s", ErrInvalidTimeRange, req.StartAt.Format(time.RFC3339), req.EndAt.Format(time.RFC3339))
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBlockKind, req.Kind)
	}

	now := m.now()
	b := &ScheduleBlock{
		ID:             uuid.New(),
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		Kind:           req.Kind,
		Reason:         strings.TrimSpace(req.Reason),
		Active:         true,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.repo.CreateBlock(ctx, b); err != nil {
		return nil, fmt.Errorf("create schedule block: %w", err)
	}

	log.Printf("schedule block created id=%s professional=%s kind=%s start=%s end=%s",
		b.ID, b.ProfessionalID, b.Kind, b.StartAt.Format(time.RFC3339), b.EndAt.Format(time.RFC3339))
	return b, nil
}

// ActiveBlocks returns active blocks of the professional, or of the room when
// given, that intersect [start, end).
func (m *BlockManager) ActiveBlocks(ctx context.Context, professionalID uuid.UUID, roomID *uuid.UUID, start, end time.Time) ([]ScheduleBlock, error) {
	if !end.After(start) {
		return nil, ErrInvalidTimeRange
	}
	return activeBlocks(ctx, m.repo, professionalID, roomID, start, end)
}

func (m *BlockManager) List(ctx context.Context, f BlockFilter) ([]ScheduleBlock, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return m.repo.ListBlocks(ctx, f)
}

func (m *BlockManager) Get(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	return m.repo.GetBlock(ctx, id)
}

// DeactivateBlock flags the block inactive; blocks are never deleted.
func (m *BlockManager) DeactivateBlock(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	b, err := m.repo.SetBlockActive(ctx, id, false)
	if err != nil {
		return nil, err
	}
	log.Printf("schedule block deactivated id=%s", id)
	return b, nil
}
