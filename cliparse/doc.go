// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles configuration parsing from CLI flags, environment
variables, and an optional .env file.

# Precedence

	CLI flags > environment variables > .env file > defaults

The .env file is loaded with godotenv and never overrides variables that are
already set. Environment variables are decoded with caarlos0/env struct tags.

# Settings

Required:

  - DATABASE_URL (-d): database connection string or SQLite path
  - SESSION_SECRET (--session-secret): HMAC secret for identity cookies

Optional:

  - PORT (-p): server port (default 3333)
  - DATABASE_TYPE (-t): sqlite or postgres (default sqlite)
  - REDIS_URL (--redis): shared tally store and cross-instance broadcast
  - ALLOWED_ORIGINS (--origins): comma separated CORS origins
  - VOTE_MAX_ATTEMPTS (--vote-attempts): conflict retries per vote (default 3)
  - BROADCAST_QUEUE_SIZE (--broadcast-queue): pending broadcasts (default 1024)
  - OBSERVER_BUFFER (--observer-buffer): per observer buffer (default 16)
  - OBSERVER_WRITE_TIMEOUT (--observer-write-timeout): default 5s
  - RECONCILE_ON_START (--reconcile): rebuild Redis tallies at boot (default false)

# Usage

	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}
*/
package cliparse
