// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/danielhkuo/livepoll/models"
)

type pollCounts struct {
	mu      sync.Mutex
	counts  map[string]int64
	version int64
}

// MemoryStore keeps counters in process. Each poll has its own lock, so
// unrelated polls never contend.
type MemoryStore struct {
	mu    sync.RWMutex
	polls map[string]*pollCounts
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{polls: make(map[string]*pollCounts)}
}

func (s *MemoryStore) poll(pollID string) *pollCounts {
	s.mu.RLock()
	p, ok := s.polls[pollID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.polls[pollID]; !ok {
		p = &pollCounts{counts: make(map[string]int64)}
		s.polls[pollID] = p
	}
	return p
}

func (s *MemoryStore) Adjust(_ context.Context, pollID, optionID string, delta int64) (int64, error) {
	if err := checkDelta(delta); err != nil {
		return 0, err
	}
	p := s.poll(pollID)

	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.counts[optionID] + delta
	if next < 0 {
		return 0, fmt.Errorf("option %s in poll %s: %w", optionID, pollID, ErrUnderflow)
	}
	p.counts[optionID] = next
	p.version++
	return next, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, pollID string) (models.Tally, error) {
	s.mu.RLock()
	p, ok := s.polls[pollID]
	s.mu.RUnlock()
	if !ok {
		return models.NewTally(pollID, nil), nil
	}

	p.mu.Lock()
	counts := maps.Clone(p.counts)
	version := p.version
	p.mu.Unlock()

	t := models.NewTally(pollID, counts)
	t.Version = version
	return t, nil
}

func (s *MemoryStore) Reset(_ context.Context, pollID string, version int64, counts map[string]int64) (int64, error) {
	if err := checkCounts(pollID, counts); err != nil {
		return 0, err
	}
	p := s.poll(pollID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.version != version {
		return 0, fmt.Errorf("poll %s at version %d, reset computed at %d: %w", pollID, p.version, version, ErrStale)
	}
	p.counts = maps.Clone(counts)
	if p.counts == nil {
		p.counts = make(map[string]int64)
	}
	p.version++
	return p.version, nil
}
