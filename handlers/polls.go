// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/tally"
)

type PollHandler struct {
	db    *sql.DB
	tally tally.Store
	cfg   cliparse.Config
}

func NewPollHandler(db *sql.DB, store tally.Store, cfg cliparse.Config) *PollHandler {
	return &PollHandler{db: db, tally: store, cfg: cfg}
}

// CreatePoll handles POST /polls
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// Validate input
	title := strings.TrimSpace(req.Title)
	if title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(req.Options) < 2 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Poll must have at least 2 options")
		return
	}
	for _, opt := range req.Options {
		if strings.TrimSpace(opt) == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "option titles must not be empty")
			return
		}
	}

	ctx := r.Context()
	pollID := uuid.NewString()

	// Poll and options land together or not at all
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll (id, title, created_at)
		VALUES ($1, $2, $3)
	`, pollID, title, time.Now().UTC())
	if err != nil {
		slog.Error("failed to insert poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create poll")
		return
	}

	for i, opt := range req.Options {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO poll_option (id, poll_id, title, position)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), pollID, strings.TrimSpace(opt), i)
		if err != nil {
			slog.Error("failed to insert option", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create poll")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create poll")
		return
	}

	slog.Info("poll created", "poll_id", pollID, "options", len(req.Options))

	middleware.JSONResponse(w, http.StatusCreated, models.CreatePollResponse{
		PollID: pollID,
	})
}

// GetPoll handles GET /polls/{pollId}
// Vote counts come from the live tally, not the vote table.
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("pollId")
	if uuid.Validate(pollID) != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "pollId must be a UUID")
		return
	}

	ctx := r.Context()
	var poll models.Poll
	err := h.db.QueryRowContext(ctx, `
		SELECT id, title, created_at FROM poll WHERE id = $1
	`, pollID).Scan(&poll.ID, &poll.Title, &poll.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to query poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, title
		FROM poll_option
		WHERE poll_id = $1
		ORDER BY position
	`, pollID)
	if err != nil {
		slog.Error("failed to query options", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	options := []models.OptionWithVotes{}
	for rows.Next() {
		var opt models.OptionWithVotes
		if err := rows.Scan(&opt.ID, &opt.Title); err != nil {
			slog.Error("failed to scan option", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		slog.Error("failed to read options", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	snap, err := h.tally.Snapshot(ctx, pollID)
	if err != nil {
		slog.Error("failed to read tally", "poll_id", pollID, "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Results temporarily unavailable")
		return
	}

	var total int64
	for i := range options {
		options[i].Votes = snap.Count(options[i].ID)
		total += options[i].Votes
	}

	middleware.JSONResponse(w, http.StatusOK, models.PollWithOptions{
		Poll:    poll,
		Options: options,
		Total:   total,
	})
}
