// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, domain, and error types shared by
every other package.

# Request Types

Types for parsing incoming JSON:

  - CreatePollRequest: title, options
  - SubmitVoteRequest: poll_option_id

# Response Types

Types for JSON responses:

  - CreatePollResponse: poll_id
  - SubmitVoteResponse: poll_id, option_id, previous_option_id, message
  - PollWithOptions: poll, options with live votes, total
  - ErrorResponse: error, message

# Domain Types

  - Poll, Option: catalog records
  - Vote: the single current vote of an identity on a poll
  - Tally: per-option counts plus total for one poll
  - TallyUpdate: every count of a poll as of a tally version

# Observer Messages

Observers receive StreamMessage values. The first is always a snapshot:

	{"type":"snapshot","poll_id":"...","counts":{"<option>":3},"total":3,"version":7}

followed by updates carrying the poll's counts at a newer version:

	{"type":"update","poll_id":"...","counts":{"<old>":2,"<new>":1},"total":3,"version":9}

Versions only grow, and an observer is never sent a version it has already
passed, so the last message it receives shows the final counts.

# Errors

	ErrDuplicateVote  identical resubmission, nothing changed
	ErrConflict       lost an optimistic-concurrency race
	ErrNotFound       poll or option does not exist
	ErrUnavailable    storage or broadcast infrastructure unreachable

Callers test them with errors.Is; lower layers wrap with %w.
*/
package models
