// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens database connections and creates the schema.

# Connections

Open picks the driver from the configured database type:

	conn, err := db.Open(ctx, db.TypePostgres, "postgres://...")
	conn, err := db.Open(ctx, db.TypeSQLite, "/var/lib/livepoll.db")

Postgres uses github.com/lib/pq; SQLite uses modernc.org/sqlite with foreign
keys enabled and a single pooled connection.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - poll: poll metadata
  - poll_option: options per poll
  - vote: the current vote per (session_id, poll_id)

# Relationships

	poll 1──* poll_option
	poll 1──* vote
	poll_option 1──* vote

All foreign keys use ON DELETE CASCADE.

# Indexes

  - poll_option.poll_id
  - vote.(session_id, poll_id) (unique; point lookup for the ledger)
  - vote.poll_id (tally reconciliation)
*/
package db
