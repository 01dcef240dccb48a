// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livepoll"

// Vote outcomes
const (
	OutcomeAccepted  = "accepted"
	OutcomeChanged   = "changed"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// Broadcast drop reasons
const (
	DropQueueFull    = "queue_full"
	DropSlowObserver = "slow_observer"
	DropSinkError    = "sink_error"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, so components can run without a registry.
type Metrics struct {
	votes            *prometheus.CounterVec
	voteRetries      prometheus.Counter
	broadcastDropped *prometheus.CounterVec
	observers        prometheus.Gauge
	tallyRebuilds    prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote submissions by outcome.",
		}, []string{"outcome"}),
		voteRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_retries_total",
			Help:      "Vote attempts retried after an optimistic-concurrency conflict.",
		}),
		broadcastDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Tally updates or observers dropped on the broadcast path.",
		}, []string{"reason"}),
		observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Live observers across all polls.",
		}),
		tallyRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tally_rebuilds_total",
			Help:      "Poll tallies recomputed from the ledger.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Vote(outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) VoteRetry() {
	if m == nil {
		return
	}
	m.voteRetries.Inc()
}

func (m *Metrics) BroadcastDropped(reason string) {
	if m == nil {
		return
	}
	m.broadcastDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserverAdded() {
	if m == nil {
		return
	}
	m.observers.Inc()
}

func (m *Metrics) ObserverRemoved() {
	if m == nil {
		return
	}
	m.observers.Dec()
}

func (m *Metrics) TallyRebuilt() {
	if m == nil {
		return
	}
	m.tallyRebuilds.Inc()
}
