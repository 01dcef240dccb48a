// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielhkuo/livepoll/metrics"
	"github.com/danielhkuo/livepoll/models"
)

// ErrQueueFull is returned by Enqueue when the dispatcher is saturated.
var ErrQueueFull = errors.New("broadcast queue full")

const defaultQueueSize = 1024

// Sink receives tally updates for delivery to observers.
type Sink interface {
	Publish(ctx context.Context, update models.TallyUpdate) error
}

// Dispatcher decouples vote admission from fan-out. Enqueue never blocks;
// Run drains the queue into the sink until the context ends.
type Dispatcher struct {
	sink    Sink
	queue   chan models.TallyUpdate
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(sink Sink, size int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan models.TallyUpdate, size),
		logger:  logger,
		metrics: m,
	}
}

// Enqueue hands an update to the dispatcher without waiting.
func (d *Dispatcher) Enqueue(update models.TallyUpdate) error {
	select {
	case d.queue <- update:
		return nil
	default:
		d.metrics.BroadcastDropped(metrics.DropQueueFull)
		d.logger.Warn("broadcast queue full, update dropped", "poll_id", update.PollID)
		return ErrQueueFull
	}
}

// Pending returns the number of queued updates.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run delivers queued updates in order. Sink failures are logged and the
// update is discarded; observers catch up on the next update or reconnect.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-d.queue:
			if err := d.sink.Publish(ctx, update); err != nil {
				d.metrics.BroadcastDropped(metrics.DropSinkError)
				d.logger.Error("failed to publish tally update",
					"poll_id", update.PollID,
					"error", err,
				)
			}
		}
	}
}
