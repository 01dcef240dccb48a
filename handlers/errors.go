// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/models"
)

// writeVoteError maps the vote error taxonomy onto HTTP statuses.
func writeVoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrDuplicateVote):
		middleware.ErrorResponse(w, http.StatusBadRequest, "You already voted on this poll.")
	case errors.Is(err, models.ErrNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll or option not found")
	case errors.Is(err, models.ErrConflict):
		middleware.ErrorResponse(w, http.StatusConflict, "Vote changed concurrently, please retry")
	case errors.Is(err, models.ErrUnavailable):
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		slog.Error("vote submission failed", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit vote")
	}
}
