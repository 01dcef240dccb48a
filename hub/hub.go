// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielhkuo/livepoll/metrics"
	"github.com/danielhkuo/livepoll/models"
)

var (
	ErrDropped      = errors.New("observer dropped: buffer full")
	ErrUnsubscribed = errors.New("observer unsubscribed")
	ErrClosed       = errors.New("hub closed")
)

const defaultBuffer = 16

// SnapshotSource provides the baseline every new observer receives.
type SnapshotSource interface {
	Snapshot(ctx context.Context, pollID string) (models.Tally, error)
}

type topic struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	removed bool
}

// Hub fans tally updates out to the observers of each poll.
type Hub struct {
	source  SnapshotSource
	buffer  int
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type Option func(*Hub)

// WithBuffer sets how many messages an observer may fall behind before it
// is dropped.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func New(source SnapshotSource, opts ...Option) *Hub {
	h := &Hub{
		source: source,
		buffer: defaultBuffer,
		logger: slog.Default(),
		topics: make(map[string]*topic),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe attaches an observer to a poll. The first message on the
// subscription is always a full snapshot; later messages carry strictly
// newer versions.
func (h *Hub) Subscribe(ctx context.Context, pollID string) (*Subscription, error) {
	sub, err := h.attach(pollID)
	if err != nil {
		return nil, err
	}
	h.metrics.ObserverAdded()

	// Updates published while the snapshot is read are held by the
	// subscription and released after it, newest only.
	snap, err := h.source.Snapshot(ctx, pollID)
	if err != nil {
		h.remove(sub, ErrUnsubscribed)
		return nil, fmt.Errorf("initial snapshot for %s: %w", pollID, err)
	}
	if !sub.prime(models.SnapshotMessage(snap)) {
		h.remove(sub, ErrDropped)
		h.metrics.BroadcastDropped(metrics.DropSlowObserver)
	}

	h.logger.Debug("observer subscribed", "poll_id", pollID, "version", snap.Version)
	return sub, nil
}

// attach registers a new subscription on the poll's topic.
func (h *Hub) attach(pollID string) (*Subscription, error) {
	for {
		t, err := h.topic(pollID)
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		if t.removed {
			// Lost a race with the last unsubscribe of this poll
			t.mu.Unlock()
			continue
		}
		sub := newSubscription(pollID, h.buffer)
		t.subs[sub] = struct{}{}
		t.mu.Unlock()
		return sub, nil
	}
}

// Publish delivers an update to every current observer of the poll without
// waiting on any of them. Observers that cannot keep up are dropped.
func (h *Hub) Publish(_ context.Context, update models.TallyUpdate) error {
	h.mu.Lock()
	t := h.topics[update.PollID]
	h.mu.Unlock()
	if t == nil {
		return nil
	}

	t.mu.RLock()
	subs := make([]*Subscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	msg := models.UpdateMessage(update)
	for _, sub := range subs {
		if !sub.offer(msg) {
			h.remove(sub, ErrDropped)
			h.metrics.BroadcastDropped(metrics.DropSlowObserver)
			h.logger.Warn("dropped slow observer", "poll_id", update.PollID)
		}
	}
	return nil
}

// Unsubscribe detaches an observer. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, ErrUnsubscribed)
}

// Observers returns the number of live observers of a poll.
func (h *Hub) Observers(pollID string) int {
	h.mu.Lock()
	t := h.topics[pollID]
	h.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close detaches every observer and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]*topic)
	h.closed = true
	h.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		t.removed = true
		for sub := range t.subs {
			if sub.close(ErrClosed) {
				h.metrics.ObserverRemoved()
			}
		}
		t.subs = nil
		t.mu.Unlock()
	}
}

func (h *Hub) topic(pollID string) (*topic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	t, ok := h.topics[pollID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[pollID] = t
	}
	return t, nil
}

func (h *Hub) remove(sub *Subscription, reason error) {
	h.mu.Lock()
	t := h.topics[sub.pollID]
	h.mu.Unlock()

	if t != nil {
		t.mu.Lock()
		delete(t.subs, sub)
		empty := len(t.subs) == 0
		t.mu.Unlock()
		if empty {
			h.release(sub.pollID, t)
		}
	}

	if sub.close(reason) {
		h.metrics.ObserverRemoved()
		h.logger.Debug("observer removed", "poll_id", sub.pollID, "reason", reason)
	}
}

// release forgets a topic once its last observer is gone.
func (h *Hub) release(pollID string, t *topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 && h.topics[pollID] == t {
		t.removed = true
		delete(h.topics, pollID)
	}
}
