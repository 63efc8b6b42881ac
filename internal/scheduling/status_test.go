package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	for _, from := range OccupyingStatuses {
		assert.True(t, CanTransition(from, StatusCancelled), "%s -> cancelled", from)
		assert.True(t, CanTransition(from, StatusCompleted), "%s -> completed", from)
	}

	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, terminal.Terminal())
		assert.False(t, terminal.Occupying())
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}

	assert.False(t, CanTransition(StatusScheduled, StatusInProgress))
	assert.False(t, CanTransition(StatusInProgress, StatusNoShow))
	assert.False(t, CanTransition(StatusConfirmed, StatusScheduled))
}

func TestValidatePath(t *testing.T) {
	id := uuid.New()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := func(min int, from *Status, to Status) StatusHistoryEntry {
		return StatusHistoryEntry{AppointmentID: id, PreviousStatus: from, NewStatus: to, CreatedAt: base.Add(time.Duration(min) * time.Minute)}
	}

	valid := []StatusHistoryEntry{
		entry(2, ptr(StatusConfirmed), StatusCancelled),
		entry(0, nil, StatusScheduled),
		entry(1, ptr(StatusScheduled), StatusConfirmed),
	}
	require.NoError(t, ValidatePath(valid))

	cases := map[string][]StatusHistoryEntry{
		"empty":              nil,
		"no creation entry":  {entry(0, ptr(StatusScheduled), StatusConfirmed)},
		"second creation":    {entry(0, nil, StatusScheduled), entry(1, nil, StatusConfirmed)},
		"skipped step":       {entry(0, nil, StatusScheduled), entry(1, ptr(StatusCheckedIn), StatusInProgress)},
		"undefined edge":     {entry(0, nil, StatusScheduled), entry(1, ptr(StatusScheduled), StatusInProgress)},
		"out of terminal":    {entry(0, nil, StatusCancelled), entry(1, ptr(StatusCancelled), StatusScheduled)},
		"unknown initial":    {entry(0, nil, Status("draft"))},
	}
	for name, history := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, ValidatePath(history), ErrInvalidHistory)
		})
	}
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 30, durationMinutes(start, start.Add(30*time.Minute)))
	assert.Equal(t, 46, durationMinutes(start, start.Add(45*time.Minute+40*time.Second)))
	assert.Equal(t, 30, durationMinutes(start, start))
	assert.Equal(t, 30, durationMinutes(start, start.Add(20*time.Second)))
}

func TestOverlaps(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 3, 1, h, m, 0, 0, time.UTC) }

	assert.True(t, overlaps(at(10, 0), at(10, 30), at(10, 15), at(10, 45)))
	assert.True(t, overlaps(at(10, 0), at(11, 0), at(10, 15), at(10, 30)))
	assert.False(t, overlaps(at(10, 0), at(10, 30), at(10, 30), at(11, 0)))
	assert.False(t, overlaps(at(10, 30), at(11, 0), at(10, 0), at(10, 30)))
}
