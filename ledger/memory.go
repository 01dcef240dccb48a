// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/livepoll/models"
)

type voteKey struct {
	identity string
	pollID   string
}

// MemoryLedger keeps votes in process memory with the same optimistic
// concurrency contract as SQLLedger: the current vote is read under a shared
// lock and the write commits only if that vote is still current.
type MemoryLedger struct {
	mu      sync.RWMutex
	votes   map[voteKey]models.Vote
	options map[string]string // option id -> poll id
	polls   map[string]struct{}
	now     func() time.Time

	// beforeCommit runs between the read and the commit; tests use it to
	// interleave a competing writer.
	beforeCommit func()
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		votes:   make(map[voteKey]models.Vote),
		options: make(map[string]string),
		polls:   make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddPoll registers a poll and its options so votes for them are accepted.
func (l *MemoryLedger) AddPoll(pollID string, optionIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.polls[pollID] = struct{}{}
	for _, id := range optionIDs {
		l.options[id] = pollID
	}
}

func (l *MemoryLedger) FindCurrentVote(_ context.Context, identity, pollID string) (models.Vote, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	vote, ok := l.votes[voteKey{identity: identity, pollID: pollID}]
	return vote, ok, nil
}

func (l *MemoryLedger) ReplaceVote(ctx context.Context, identity, pollID, optionID string) (Replacement, error) {
	if err := ctx.Err(); err != nil {
		return Replacement{}, fmt.Errorf("replace vote: %w: %v", models.ErrUnavailable, err)
	}
	key := voteKey{identity: identity, pollID: pollID}

	l.mu.RLock()
	optionPollID, known := l.options[optionID]
	current, found := l.votes[key]
	l.mu.RUnlock()

	if !known || optionPollID != pollID {
		return Replacement{}, fmt.Errorf("option %s in poll %s: %w", optionID, pollID, models.ErrNotFound)
	}
	if found && current.OptionID == optionID {
		return Replacement{}, models.ErrDuplicateVote
	}

	vote := models.Vote{
		ID:        uuid.NewString(),
		Identity:  identity,
		PollID:    pollID,
		OptionID:  optionID,
		Version:   1,
		CreatedAt: l.now(),
	}
	var previous *string
	if found {
		prev := current.OptionID
		previous = &prev
		vote.Version = current.Version + 1
	}

	if l.beforeCommit != nil {
		l.beforeCommit()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	latest, stillFound := l.votes[key]
	if stillFound != found || (found && latest.ID != current.ID) {
		return Replacement{}, fmt.Errorf("vote for %s changed concurrently: %w", pollID, models.ErrConflict)
	}
	l.votes[key] = vote

	return Replacement{Previous: previous, Vote: vote}, nil
}

func (l *MemoryLedger) CountVotes(_ context.Context, pollID string) (map[string]int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int64)
	for key, vote := range l.votes {
		if key.pollID == pollID {
			counts[vote.OptionID]++
		}
	}
	return counts, nil
}

func (l *MemoryLedger) PollIDs(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.polls))
	for id := range l.polls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
