// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package hub

import (
	"sync"

	"github.com/danielhkuo/livepoll/models"
)

// Subscription is one observer's attachment to a poll.
type Subscription struct {
	pollID string
	ch     chan models.StreamMessage
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
	// primed is set once the snapshot is queued. Until then the newest
	// update waits in pending.
	primed  bool
	pending *models.StreamMessage
	version int64
}

func newSubscription(pollID string, buffer int) *Subscription {
	return &Subscription{
		pollID: pollID,
		ch:     make(chan models.StreamMessage, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) PollID() string {
	return s.pollID
}

// Messages yields the snapshot and then updates. It is closed when the
// subscription ends; Err tells why.
func (s *Subscription) Messages() <-chan models.StreamMessage {
	return s.ch
}

// Done is closed when the subscription ends, before any buffered messages
// have necessarily been read.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns nil while the subscription is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// offer queues an update without blocking. Updates no newer than what the
// observer already has are skipped. It reports false when the buffer is full.
func (s *Subscription) offer(msg models.StreamMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if !s.primed {
		if s.pending == nil || msg.Version > s.pending.Version {
			s.pending = &msg
		}
		return true
	}
	return s.send(msg)
}

// prime queues the snapshot, then any held update newer than it.
func (s *Subscription) prime(snapshot models.StreamMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	s.primed = true
	s.version = snapshot.Version - 1
	if !s.send(snapshot) {
		return false
	}
	if s.pending != nil {
		msg := *s.pending
		s.pending = nil
		return s.send(msg)
	}
	return true
}

// send requires s.mu.
func (s *Subscription) send(msg models.StreamMessage) bool {
	if msg.Version <= s.version {
		return true
	}
	select {
	case s.ch <- msg:
		s.version = msg.Version
		return true
	default:
		return false
	}
}

// close ends the subscription and reports whether this call closed it.
func (s *Subscription) close(reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = reason
	close(s.ch)
	close(s.done)
	return true
}
