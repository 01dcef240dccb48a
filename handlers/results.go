// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/hub"
	"github.com/danielhkuo/livepoll/middleware"
)

type ResultsHandler struct {
	db  *sql.DB
	hub *hub.Hub
	cfg cliparse.Config
}

func NewResultsHandler(db *sql.DB, h *hub.Hub, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{db: db, hub: h, cfg: cfg}
}

// StreamResults handles GET /polls/{pollId}/results
// The connection is upgraded to a websocket that receives a snapshot of the
// tally followed by an update for every accepted vote.
func (h *ResultsHandler) StreamResults(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("pollId")
	if uuid.Validate(pollID) != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "pollId must be a UUID")
		return
	}

	var exists bool
	err := h.db.QueryRowContext(r.Context(), `
		SELECT EXISTS(SELECT 1 FROM poll WHERE id = $1)
	`, pollID).Scan(&exists)
	if err != nil {
		slog.Error("failed to query poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Poll not found")
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns(h.cfg.AllowedOrigins)}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.hub.Subscribe(ctx, pollID)
	if err != nil {
		slog.Error("failed to subscribe observer", "poll_id", pollID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer h.hub.Unsubscribe(sub)

	// Observers only listen; reading detects the client going away.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	timeout := h.cfg.ObserverWriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-readErr:
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				if errors.Is(sub.Err(), hub.ErrDropped) {
					conn.Close(websocket.StatusPolicyViolation, "too slow")
				} else {
					conn.Close(websocket.StatusGoingAway, "closed")
				}
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, timeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				slog.Debug("observer write failed", "poll_id", pollID, "error", err)
				conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

// originPatterns turns allowed origin URLs into the host patterns the
// websocket origin check expects.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
