// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/voting"
)

// VoteSubmitter is the vote admission core.
type VoteSubmitter interface {
	SubmitVote(ctx context.Context, identity, pollID, optionID string) (voting.Result, error)
}

type VotingHandler struct {
	votes VoteSubmitter
	cfg   cliparse.Config
}

func NewVotingHandler(votes VoteSubmitter, cfg cliparse.Config) *VotingHandler {
	return &VotingHandler{votes: votes, cfg: cfg}
}

// SubmitVote handles POST /polls/{pollId}/votes
func (h *VotingHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("pollId")
	if uuid.Validate(pollID) != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "pollId must be a UUID")
		return
	}

	var req models.SubmitVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if uuid.Validate(req.PollOptionID) != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_option_id must be a UUID")
		return
	}

	identity, err := resolveIdentity(w, r, h.cfg.SessionSecret)
	if err != nil {
		slog.Error("failed to issue identity", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit vote")
		return
	}

	result, err := h.votes.SubmitVote(r.Context(), identity, pollID, req.PollOptionID)
	if err != nil {
		writeVoteError(w, err)
		return
	}

	message := "Vote recorded"
	if result.Changed() {
		message = "Vote changed"
	}
	middleware.JSONResponse(w, http.StatusCreated, models.SubmitVoteResponse{
		PollID:           pollID,
		OptionID:         result.Vote.OptionID,
		PreviousOptionID: result.Previous,
		Message:          message,
	})
}
