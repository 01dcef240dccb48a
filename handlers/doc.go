// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the livepoll API.

# Handler Types

Each handler is a struct built by a constructor with its dependencies:

  - PollHandler: Poll catalog (create, read with live counts)
  - VotingHandler: Vote submission through the voting core
  - ResultsHandler: Live results over websocket

	pollHandler := handlers.NewPollHandler(db, store, cfg)
	votingHandler := handlers.NewVotingHandler(svc, cfg)
	resultsHandler := handlers.NewResultsHandler(db, hub, cfg)

# Voting Flow

	POST /polls/{pollId}/votes {"poll_option_id": "..."}

The participant is identified by the signed sessionId cookie. A missing or
invalid cookie gets a fresh identity (httpOnly, path /, 30 days) before the
vote is submitted. Errors map as:

	duplicate vote → 400 "You already voted on this poll."
	unknown poll/option → 404
	concurrent change lost every retry → 409
	storage unavailable → 503

# Live Results

	GET /polls/{pollId}/results

Upgrades to a websocket. The first message is {"type":"snapshot"} with all
counts, the total and the tally version; each accepted vote then sends
{"type":"update"} with the poll's counts at a newer version. Observers that
fall behind are disconnected.
*/
package handlers
