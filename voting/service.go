// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/danielhkuo/livepoll/ledger"
	"github.com/danielhkuo/livepoll/metrics"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/tally"
)

// ErrMissingIdentity is returned when no identity token is supplied.
var ErrMissingIdentity = errors.New("identity token required")

const (
	DefaultMaxAttempts = 3
	defaultBackoff     = 10 * time.Millisecond
)

// Broadcaster accepts tally updates for asynchronous delivery.
type Broadcaster interface {
	Enqueue(update models.TallyUpdate) error
}

// errTallyDrift marks a vote that committed but could not be applied to the
// tally.
var errTallyDrift = errors.New("tally adjust failed")

// Result describes an accepted vote.
type Result struct {
	Vote     models.Vote
	Previous *string
	// Counts holds every count of the poll right after the vote, nil when
	// the tally could not be read back.
	Counts map[string]int64
}

// Changed reports whether the vote replaced an earlier one.
func (r Result) Changed() bool {
	return r.Previous != nil
}

// Service admits votes. It is the only place that moves tally counters, and
// it moves them exactly once per ledger transition.
type Service struct {
	Ledger    ledger.Ledger
	Tally     tally.Store
	Broadcast Broadcaster

	// MaxAttempts bounds how often a lost optimistic race is retried.
	MaxAttempts int
	// Backoff is the base delay between attempts; jitter is added on top.
	Backoff time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Vote transitions hold their poll shared; a rebuild holds it
	// exclusively so it never counts a vote whose adjustment is pending.
	polls keyLock
	// Transitions of one identity on one poll are applied to the tally in
	// ledger commit order, so a decrement never overtakes its increment.
	inflight keyLock
}

// SubmitVote records identity's vote for optionID on pollID, replacing any
// earlier vote, and schedules a broadcast of the poll's tally.
//
// Errors: models.ErrDuplicateVote when the identity already holds optionID,
// models.ErrNotFound for an unknown poll or option, models.ErrConflict when
// every attempt lost a race, models.ErrUnavailable for storage failures.
// A broadcast failure never fails the vote.
func (s *Service) SubmitVote(ctx context.Context, identity, pollID, optionID string) (Result, error) {
	logger := s.logger()
	if identity == "" {
		return Result{}, ErrMissingIdentity
	}

	rep, err := s.apply(ctx, identity, pollID, optionID)
	if err != nil && !errors.Is(err, errTallyDrift) {
		s.Metrics.Vote(outcome(err))
		if errors.Is(err, models.ErrDuplicateVote) {
			logger.Info("duplicate vote rejected", "poll_id", pollID, "option_id", optionID)
		} else {
			logger.Warn("vote rejected", "poll_id", pollID, "option_id", optionID, "error", err)
		}
		return Result{}, err
	}

	result := Result{Vote: rep.Vote, Previous: rep.Previous}
	var current models.Tally
	readable := true
	if err != nil {
		logger.Warn("tally adjust failed, rebuilding from ledger", "poll_id", pollID, "error", err)
		var rerr error
		current, rerr = s.rebuild(ctx, pollID)
		if rerr != nil {
			// The vote is durable; only the derived counters are lost.
			s.Metrics.Vote(metrics.OutcomeError)
			logger.Error("vote committed but tally unavailable",
				"poll_id", pollID,
				"option_id", optionID,
				"error", rerr,
			)
			return result, fmt.Errorf("%w: %w", models.ErrUnavailable, errors.Join(err, rerr))
		}
	} else if current, err = s.Tally.Snapshot(ctx, pollID); err != nil {
		// Counters are in step; only this broadcast is lost.
		readable = false
		logger.Warn("tally not readable after vote", "poll_id", pollID, "error", err)
	}

	if rep.Changed() {
		s.Metrics.Vote(metrics.OutcomeChanged)
	} else {
		s.Metrics.Vote(metrics.OutcomeAccepted)
	}
	logger.Info("vote accepted",
		"poll_id", pollID,
		"option_id", optionID,
		"changed", rep.Changed(),
		"version", rep.Vote.Version,
	)

	if readable {
		result.Counts = current.Counts
		s.broadcast(models.UpdateFromTally(current))
	}
	return result, nil
}

// apply commits the transition and moves the tally while holding the poll
// shared and the (poll, identity) pair exclusively.
func (s *Service) apply(ctx context.Context, identity, pollID, optionID string) (ledger.Replacement, error) {
	release := s.polls.rlock(pollID)
	defer release()
	unlock := s.inflight.lock(pollID + "\x00" + identity)
	defer unlock()

	rep, err := s.replace(ctx, identity, pollID, optionID)
	if err != nil {
		return ledger.Replacement{}, err
	}
	if err := s.adjust(ctx, pollID, rep); err != nil {
		return rep, fmt.Errorf("%w: %w", errTallyDrift, err)
	}
	return rep, nil
}

// replace runs the ledger transaction, retrying lost races.
func (s *Service) replace(ctx context.Context, identity, pollID, optionID string) (ledger.Replacement, error) {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		rep, err := s.Ledger.ReplaceVote(ctx, identity, pollID, optionID)
		if err == nil {
			return rep, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return ledger.Replacement{}, err
		}
		if attempt >= attempts {
			return ledger.Replacement{}, fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		s.Metrics.VoteRetry()
		s.logger().Debug("retrying vote after conflict", "poll_id", pollID, "attempt", attempt)
		if err := s.wait(ctx, attempt); err != nil {
			return ledger.Replacement{}, fmt.Errorf("%w: %w", models.ErrUnavailable, err)
		}
	}
}

// wait sleeps for a jittered, linearly growing delay or until ctx ends.
func (s *Service) wait(ctx context.Context, attempt int) error {
	base := s.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	delay := time.Duration(attempt)*base + rand.N(base)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// adjust applies one ledger transition to the tally.
func (s *Service) adjust(ctx context.Context, pollID string, rep ledger.Replacement) error {
	if rep.Previous != nil {
		if _, err := s.Tally.Adjust(ctx, pollID, *rep.Previous, -1); err != nil {
			return err
		}
	}
	_, err := s.Tally.Adjust(ctx, pollID, rep.Vote.OptionID, 1)
	return err
}

// rebuild recomputes a poll's tally from the ledger while no vote of this
// service is in flight for the poll.
func (s *Service) rebuild(ctx context.Context, pollID string) (models.Tally, error) {
	release := s.polls.lock(pollID)
	defer release()

	t, err := tally.Rebuild(ctx, s.Ledger, s.Tally, pollID)
	if err != nil {
		return models.Tally{}, err
	}
	s.Metrics.TallyRebuilt()
	return t, nil
}

func (s *Service) broadcast(update models.TallyUpdate) {
	if s.Broadcast == nil {
		return
	}
	if err := s.Broadcast.Enqueue(update); err != nil {
		s.logger().Warn("tally update not broadcast", "poll_id", update.PollID, "error", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrDuplicateVote):
		return metrics.OutcomeDuplicate
	case errors.Is(err, models.ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, models.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
