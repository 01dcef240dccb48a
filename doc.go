// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the livepoll API server.

livepoll lets participants cast a single, changeable vote on a poll and
watch the per-option tally update live over a websocket.

# Starting the Server

The server requires environment variables or CLI flags for configuration:

	DATABASE_URL=livepoll.db SESSION_SECRET=... go run .

Or with flags:

	go run . -p 3333 -t postgres -d "postgres://..." -redis redis://localhost:6379/0

A .env file in the working directory is loaded first if present.

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite path or PostgreSQL connection string
  - SESSION_SECRET (-session-secret): Secret for signing session cookies

Optional settings:

  - PORT (-p): Server port (default: 3333)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - REDIS_URL (-redis): Shared tally store and cross-instance broadcast
  - ALLOWED_ORIGINS (-origins): Comma separated CORS origins
  - VOTE_MAX_ATTEMPTS (-vote-attempts): Retries on concurrent vote changes (default: 3)
  - BROADCAST_QUEUE_SIZE (-broadcast-queue): Pending update capacity (default: 1024)
  - OBSERVER_BUFFER (-observer-buffer): Messages per observer before drop (default: 16)
  - OBSERVER_WRITE_TIMEOUT (-observer-write-timeout): Per-message write bound (default: 5s)
  - RECONCILE_ON_START (-reconcile): Rebuild Redis tallies from the ledger on start (default: false; memory tallies are always rebuilt)

# Architecture

A vote flows ledger → tally → broadcast queue → hub → observers:

  - ledger: Durable current vote per (session, poll) with optimistic concurrency
  - tally: Per-option counters (memory or Redis)
  - voting: Vote admission, retries and tally maintenance
  - broadcast: Non-blocking dispatch, optional Redis Pub/Sub relay
  - hub: Per-poll observer fan-out with snapshot on subscribe
  - handlers, router, middleware: HTTP and websocket surface
  - metrics: Prometheus collectors
  - auth: Session identity tokens
  - db: Connection and schema
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
