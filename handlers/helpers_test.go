// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/livepoll/broadcast"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/hub"
	"github.com/danielhkuo/livepoll/ledger"
	"github.com/danielhkuo/livepoll/tally"
	"github.com/danielhkuo/livepoll/testutil"
	"github.com/danielhkuo/livepoll/voting"
)

// testApp wires the handlers to real components backed by a test database
type testApp struct {
	db    *sql.DB
	cfg   cliparse.Config
	store tally.Store
	hub   *hub.Hub
	svc   *voting.Service

	polls   *PollHandler
	votes   *VotingHandler
	results *ResultsHandler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	store := tally.NewMemoryStore()
	h := hub.New(store, hub.WithBuffer(cfg.ObserverBuffer))

	dispatcher := broadcast.NewDispatcher(h, cfg.BroadcastQueueSize, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.Close()
	})

	svc := &voting.Service{
		Ledger:      ledger.NewSQLLedger(db),
		Tally:       store,
		Broadcast:   dispatcher,
		MaxAttempts: cfg.VoteMaxAttempts,
	}

	return &testApp{
		db:      db,
		cfg:     cfg,
		store:   store,
		hub:     h,
		svc:     svc,
		polls:   NewPollHandler(db, store, cfg),
		votes:   NewVotingHandler(svc, cfg),
		results: NewResultsHandler(db, h, cfg),
	}
}

// mux mirrors the production routes for end-to-end tests
func (a *testApp) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /polls", a.polls.CreatePoll)
	mux.HandleFunc("GET /polls/{pollId}", a.polls.GetPoll)
	mux.HandleFunc("POST /polls/{pollId}/votes", a.votes.SubmitVote)
	mux.HandleFunc("GET /polls/{pollId}/results", a.results.StreamResults)
	return mux
}

// vote posts a vote and returns the recorder; cookie may be nil
func (a *testApp) vote(pollID, optionID string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := testutil.MakeRequest("POST", "/polls/"+pollID+"/votes",
		map[string]string{"poll_option_id": optionID}, nil)
	req.SetPathValue("pollId", pollID)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	a.votes.SubmitVote(w, req)
	return w
}

// sessionCookie returns the session cookie set on a response, if any
func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}
