package scheduling

import (
	"fmt"
	"sort"
)

// OccupyingStatuses are the statuses that hold a calendar range. Professional
// and room conflict checks both read this one set.
var OccupyingStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusCheckedIn,
	StatusInProgress,
}

var RescheduleCandidateStatuses = []Status{StatusCancelled, StatusNoShow}

var AllStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusCheckedIn,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

// transitions lists the live-flow edges. Terminal statuses have none.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCheckedIn, StatusNoShow, StatusCancelled, StatusCompleted},
	StatusConfirmed:  {StatusCheckedIn, StatusNoShow, StatusCancelled, StatusCompleted},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled, StatusCompleted},
	StatusInProgress: {StatusCancelled, StatusCompleted},
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) Occupying() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidatePath replays history entries in timestamp order and checks that they
// start with a creation entry and only move along defined transitions.
func ValidatePath(history []StatusHistoryEntry) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: empty history", ErrInvalidHistory)
	}

	entries := make([]StatusHistoryEntry, len(history))
	copy(entries, history)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	first := entries[0]
	if first.PreviousStatus != nil {
		return fmt.Errorf("%w: first entry has previous status %s", ErrInvalidHistory, *first.PreviousStatus)
	}
	if !first.NewStatus.Valid() {
		return fmt.Errorf("%w: unknown initial status %q", ErrInvalidHistory, first.NewStatus)
	}

	current := first.NewStatus
	for _, e := range entries[1:] {
		if e.PreviousStatus == nil {
			return fmt.Errorf("%w: second creation entry at %s", ErrInvalidHistory, e.CreatedAt)
		}
		if *e.PreviousStatus != current {
			return fmt.Errorf("%w: entry starts at %s but appointment was %s", ErrInvalidHistory, *e.PreviousStatus, current)
		}
		if !CanTransition(current, e.NewStatus) {
			return fmt.Errorf("%w: %s -> %s is not a defined transition", ErrInvalidHistory, current, e.NewStatus)
		}
		current = e.NewStatus
	}

	return nil
}
