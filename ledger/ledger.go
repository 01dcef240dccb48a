// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ledger

import (
	"context"

	"github.com/danielhkuo/livepoll/models"
)

// Replacement is the outcome of a committed ReplaceVote.
// Previous is nil for a first vote.
type Replacement struct {
	Previous *string
	Vote     models.Vote
}

// Changed reports whether the replacement moved an existing vote.
func (r Replacement) Changed() bool {
	return r.Previous != nil
}

// Ledger is the durable record of the current vote per (identity, poll).
// It is the only authority on vote uniqueness.
type Ledger interface {
	// FindCurrentVote returns the identity's vote on the poll, if any.
	FindCurrentVote(ctx context.Context, identity, pollID string) (models.Vote, bool, error)

	// ReplaceVote establishes or changes the identity's vote in one
	// conditional transaction. It fails with models.ErrDuplicateVote when the
	// identity already holds optionID, models.ErrNotFound when the option is
	// not part of the poll, and models.ErrConflict when a concurrent writer
	// changed the vote between read and commit.
	ReplaceVote(ctx context.Context, identity, pollID, optionID string) (Replacement, error)

	// CountVotes returns the live vote count per option for a poll.
	CountVotes(ctx context.Context, pollID string) (map[string]int64, error)

	// PollIDs lists every poll known to the ledger.
	PollIDs(ctx context.Context) ([]string, error)
}
