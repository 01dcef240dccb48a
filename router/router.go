// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/handlers"
	"github.com/danielhkuo/livepoll/hub"
	"github.com/danielhkuo/livepoll/metrics"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/tally"
)

// Deps are the components the routes are served from
type Deps struct {
	DB     *sql.DB
	Tally  tally.Store
	Hub    *hub.Hub
	Votes  handlers.VoteSubmitter
	Config cliparse.Config
	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
}

func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	pollHandler := handlers.NewPollHandler(deps.DB, deps.Tally, deps.Config)
	votingHandler := handlers.NewVotingHandler(deps.Votes, deps.Config)
	resultsHandler := handlers.NewResultsHandler(deps.DB, deps.Hub, deps.Config)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.DB.PingContext(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(deps.Gatherer))
	}

	// Poll catalog
	mux.HandleFunc("POST /polls", middleware.WithLogging(pollHandler.CreatePoll))
	mux.HandleFunc("GET /polls/{pollId}", middleware.WithLogging(pollHandler.GetPoll))

	// Voting (identity from the signed session cookie)
	mux.HandleFunc("POST /polls/{pollId}/votes", middleware.WithLogging(votingHandler.SubmitVote))

	// Live results over websocket
	mux.HandleFunc("GET /polls/{pollId}/results", middleware.WithLogging(resultsHandler.StreamResults))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("livepoll API v1"))
	})

	return mux
}

// NewHandler is NewRouter behind the CORS policy, ready to serve.
func NewHandler(deps Deps) http.Handler {
	return middleware.CORS(deps.Config.AllowedOrigins)(NewRouter(deps))
}
