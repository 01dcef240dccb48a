// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "errors"

var (
	// ErrDuplicateVote means the identity already holds a vote for that option.
	ErrDuplicateVote = errors.New("already voted for this option")
	// ErrConflict means a concurrent writer changed the vote first.
	ErrConflict = errors.New("vote conflict")
	// ErrNotFound means the poll or option does not exist.
	ErrNotFound = errors.New("poll or option not found")
	// ErrUnavailable means storage or broadcast infrastructure is unreachable.
	ErrUnavailable = errors.New("service unavailable")
)
