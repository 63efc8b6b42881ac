package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverlapReader is the read side of the repository the checker needs.
type OverlapReader interface {
	FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error)
	ListBlocks(ctx context.Context, f BlockFilter) ([]ScheduleBlock, error)
}

// Checker decides whether a range is free on a professional's calendar and,
// optionally, a room's calendar. It has no side effects.
type Checker struct {
	repo          OverlapReader
	enforceBlocks bool
}

// NewChecker builds a checker. With enforceBlocks set, active schedule blocks
// count as conflicts after appointments have been checked.
func NewChecker(repo OverlapReader, enforceBlocks bool) *Checker {
	return &Checker{repo: repo, enforceBlocks: enforceBlocks}
}

func (c *Checker) HasConflict(ctx context.Context, professionalID uuid.UUID, roomID *uuid.UUID, start, end time.Time) (bool, error) {
	conflict, err := c.FindConflict(ctx, professionalID, roomID, start, end)
	if err != nil {
		return false, err
	}
	return conflict != nil, nil
}

// FindConflict returns the first conflict found, checking the professional's
// calendar, then the room's, then (if enforced) schedule blocks. nil means free.
func (c *Checker) FindConflict(ctx context.Context, professionalID uuid.UUID, roomID *uuid.UUID, start, end time.Time) (*Conflict, error) {
	existing, err := c.repo.FindOverlapping(ctx, OverlapQuery{
		ProfessionalID: &professionalID,
		Start:          start,
		End:            end,
		Statuses:       OccupyingStatuses,
		Limit:          1,
	})
	if err != nil {
		return nil, fmt.Errorf("check professional calendar: %w", err)
	}
	if len(existing) > 0 {
		return appointmentConflict(ConflictProfessional, existing[0]), nil
	}

	if roomID != nil {
		existing, err = c.repo.FindOverlapping(ctx, OverlapQuery{
			RoomID:   roomID,
			Start:    start,
			End:      end,
			Statuses: OccupyingStatuses,
			Limit:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("check room calendar: %w", err)
		}
		if len(existing) > 0 {
			return appointmentConflict(ConflictRoom, existing[0]), nil
		}
	}

	if !c.enforceBlocks {
		return nil, nil
	}

	blocks, err := activeBlocks(ctx, c.repo, professionalID, roomID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check schedule blocks: %w", err)
	}
	if len(blocks) > 0 {
		b := blocks[0]
		return &Conflict{Kind: ConflictBlock, BlockID: &b.ID, StartAt: b.StartAt, EndAt: b.EndAt}, nil
	}

	return nil, nil
}

func appointmentConflict(kind ConflictKind, a Appointment) *Conflict {
	id := a.ID
	return &Conflict{Kind: kind, AppointmentID: &id, StartAt: a.StartAt, EndAt: a.EndAt}
}

// activeBlocks returns active blocks intersecting [start, end) that belong to
// the professional or, when roomID is set, to the room.
func activeBlocks(ctx context.Context, repo OverlapReader, professionalID uuid.UUID, roomID *uuid.UUID, start, end time.Time) ([]ScheduleBlock, error) {
	blocks, err := repo.ListBlocks(ctx, BlockFilter{
		ProfessionalID: &professionalID,
		From:           &start,
		To:             &end,
		ActiveOnly:     true,
	})
	if err != nil {
		return nil, err
	}
	if roomID == nil {
		return blocks, nil
	}

	roomBlocks, err := repo.ListBlocks(ctx, BlockFilter{
		RoomID:     roomID,
		From:       &start,
		To:         &end,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(blocks))
	for _, b := range blocks {
		seen[b.ID] = true
	}
	for _, b := range roomBlocks {
		if !seen[b.ID] {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}
