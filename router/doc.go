// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the livepoll API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints; NewHandler
adds the CORS policy on top:

	handler := router.NewHandler(router.Deps{DB: db, Tally: store, Hub: h, Votes: svc, Config: cfg})

# Endpoints

Operational:

	GET /health  - database ping
	GET /metrics - Prometheus exposition (when a Gatherer is set)

Polls:

	POST /polls                  - Create poll with options
	GET  /polls/{pollId}         - Poll, options and live vote counts
	POST /polls/{pollId}/votes   - Cast or change a vote (sessionId cookie)
	GET  /polls/{pollId}/results - Websocket: snapshot then updates

Routes use Go 1.22+ method and wildcard patterns.
*/
package router
