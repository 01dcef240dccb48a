// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielhkuo/livepoll/models"
)

var (
	// ErrUnderflow means a decrement would take a counter below zero, which
	// only happens when the store has drifted from the ledger.
	ErrUnderflow = errors.New("tally count would go negative")
	// ErrInvalidDelta rejects anything but a single vote transition.
	ErrInvalidDelta = errors.New("tally delta must be +1 or -1")
	// ErrStale rejects a reset computed against an older version of the poll.
	ErrStale = errors.New("tally changed since it was read")
)

// rebuildAttempts bounds how often Rebuild starts over after losing a race
// with concurrent adjustments.
const rebuildAttempts = 5

// Store holds per-option vote counts. Counters are only ever moved by one
// vote transition at a time, or replaced wholesale by a rebuild. Every change
// bumps the poll's version.
type Store interface {
	// Adjust atomically adds delta (+1 or -1) to one option's counter and
	// returns the new count.
	Adjust(ctx context.Context, pollID, optionID string, delta int64) (int64, error)

	// Snapshot returns a point-in-time view of every counter of a poll and
	// the version it was taken at.
	Snapshot(ctx context.Context, pollID string) (models.Tally, error)

	// Reset replaces a poll's counters if the poll is still at version and
	// returns the new version. Otherwise it fails with ErrStale.
	Reset(ctx context.Context, pollID string, version int64, counts map[string]int64) (int64, error)
}

// Source is the ledger side of reconciliation.
type Source interface {
	CountVotes(ctx context.Context, pollID string) (map[string]int64, error)
	PollIDs(ctx context.Context) ([]string, error)
}

// Rebuild recomputes one poll's counters from the ledger. An adjustment that
// lands while the ledger is being counted makes the reset stale, and the
// rebuild starts over.
//
// Rebuild cannot see votes that are committed but not yet adjusted; callers
// keep vote transitions for the poll out while it runs.
func Rebuild(ctx context.Context, src Source, store Store, pollID string) (models.Tally, error) {
	var err error
	for range rebuildAttempts {
		var t models.Tally
		t, err = rebuildOnce(ctx, src, store, pollID)
		if !errors.Is(err, ErrStale) {
			return t, err
		}
	}
	return models.Tally{}, fmt.Errorf("rebuild %s after %d attempts: %w", pollID, rebuildAttempts, err)
}

func rebuildOnce(ctx context.Context, src Source, store Store, pollID string) (models.Tally, error) {
	before, err := store.Snapshot(ctx, pollID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("read tally for %s: %w", pollID, err)
	}
	counts, err := src.CountVotes(ctx, pollID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("count votes for %s: %w", pollID, err)
	}
	version, err := store.Reset(ctx, pollID, before.Version, counts)
	if err != nil {
		return models.Tally{}, fmt.Errorf("reset tally for %s: %w", pollID, err)
	}
	t := models.NewTally(pollID, counts)
	t.Version = version
	return t, nil
}

// RebuildAll recomputes the counters of every poll the ledger knows about
// and returns how many polls were rebuilt.
func RebuildAll(ctx context.Context, src Source, store Store) (int, error) {
	ids, err := src.PollIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list polls: %w", err)
	}
	for i, id := range ids {
		if _, err := Rebuild(ctx, src, store, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

func checkDelta(delta int64) error {
	if delta != 1 && delta != -1 {
		return fmt.Errorf("%w: got %d", ErrInvalidDelta, delta)
	}
	return nil
}

func checkCounts(pollID string, counts map[string]int64) error {
	for option, count := range counts {
		if count < 0 {
			return fmt.Errorf("option %s in poll %s: %w", option, pollID, ErrUnderflow)
		}
	}
	return nil
}
