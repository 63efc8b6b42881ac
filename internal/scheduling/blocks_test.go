package scheduling

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBlock(t *testing.T) {
	f := newFixture(t, testSchedulingConfig())
	ctx := context.Background()
	prof := uuid.New()

	b, err := f.svc.Blocks.CreateBlock(ctx, BlockRequest{
		ProfessionalID: prof,
		StartAt:        at(8, 0),
		EndAt:          at(18, 0),
		Kind:           BlockVacation,
		Reason:         "  holidays ",
		CreatedBy:      uuid.New(),
	})
	require.NoError(t, err)
	assert.True(t, b.Active)
	assert.Equal(t, "holidays", b.Reason)
	assert.Equal(t, f.clock.Now(), b.CreatedAt)

	// Overlapping blocks are allowed.
	_, err = f.svc.Blocks.CreateBlock(ctx, BlockRequest{
		ProfessionalID: prof,
		StartAt:        at(12, 0),
		EndAt:          at(13, 0),
		Kind:           BlockTraining,
		CreatedBy:      uuid.New(),
	})
	require.NoError(t, err)

	got, err := f.svc.Blocks.ActiveBlocks(ctx, prof, nil, at(12, 15), at(12, 45))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.svc.Blocks.ActiveBlocks(ctx, prof, nil, at(18, 0), at(19, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCreateBlock_Invalid(t *testing.T) {
	f := newFixture(t, testSchedulingConfig())
	ctx := context.Background()

	_, err := f.svc.Blocks.CreateBlock(ctx, BlockRequest{
		ProfessionalID: uuid.New(), StartAt: at(10, 0), EndAt: at(10, 0), Kind: BlockManual,
	})
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = f.svc.Blocks.CreateBlock(ctx, BlockRequest{
		ProfessionalID: uuid.New(), StartAt: at(10, 0), EndAt: at(11, 0), Kind: "sick",
	})
	require.ErrorIs(t, err, ErrInvalidBlockKind)
}

func TestDeactivateBlock(t *testing.T) {
	f := newFixture(t, testSchedulingConfig())
	ctx := context.Background()
	prof := uuid.New()
	room := uuid.New()

	b, err := f.svc.Blocks.CreateBlock(ctx, BlockRequest{
		ProfessionalID: prof, RoomID: &room, StartAt: at(8, 0), EndAt: at(12, 0), Kind: BlockMaintenance,
	})
	require.NoError(t, err)

	off, err := f.svc.Blocks.DeactivateBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)

	kept, err := f.svc.Blocks.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, kept.Active)

	active, err := f.svc.Blocks.ActiveBlocks(ctx, prof, &room, at(9, 0), at(10, 0))
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := f.svc.Blocks.List(ctx, BlockFilter{ProfessionalID: &prof})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.Blocks.DeactivateBlock(ctx, uuid.New())
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestEnforcedBlocksRejectBooking(t *testing.T) {
	cfg := testSchedulingConfig()
	cfg.EnforceScheduleBlocks = true
	f := newFixture(t, cfg)
	prof := uuid.New()

	_, err := f.svc.Blocks.CreateBlock(context.Background(), BlockRequest{
		ProfessionalID: prof, StartAt: at(8, 0), EndAt: at(18, 0), Kind: BlockVacation,
	})
	require.NoError(t, err)

	_, err = f.book(t, prof, nil, at(10, 0), at(10, 30))
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.book(t, uuid.New(), nil, at(10, 0), at(10, 30))
	require.NoError(t, err)
}
