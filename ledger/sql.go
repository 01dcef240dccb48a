// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/livepoll/models"
)

// SQLLedger stores votes in the vote table through database/sql.
// It works against both Postgres (lib/pq) and SQLite (modernc).
type SQLLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (l *SQLLedger) FindCurrentVote(ctx context.Context, identity, pollID string) (models.Vote, bool, error) {
	vote, found, err := findVote(ctx, l.db, identity, pollID)
	if err != nil {
		return models.Vote{}, false, classify("find vote", err)
	}
	return vote, found, nil
}

func (l *SQLLedger) ReplaceVote(ctx context.Context, identity, pollID, optionID string) (Replacement, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Replacement{}, classify("begin transaction", err)
	}
	defer tx.Rollback()

	// The option must belong to the poll
	var optionPollID string
	err = tx.QueryRowContext(ctx, `
		SELECT poll_id FROM poll_option WHERE id = $1
	`, optionID).Scan(&optionPollID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && optionPollID != pollID) {
		return Replacement{}, fmt.Errorf("option %s in poll %s: %w", optionID, pollID, models.ErrNotFound)
	}
	if err != nil {
		return Replacement{}, classify("query option", err)
	}

	current, found, err := findVote(ctx, tx, identity, pollID)
	if err != nil {
		return Replacement{}, classify("find vote", err)
	}

	if found && current.OptionID == optionID {
		return Replacement{}, models.ErrDuplicateVote
	}

	version := int64(1)
	var previous *string
	if found {
		// Delete only the row we observed; a concurrent change removes it first
		res, err := tx.ExecContext(ctx, `
			DELETE FROM vote WHERE id = $1 AND version = $2
		`, current.ID, current.Version)
		if err != nil {
			return Replacement{}, classify("delete vote", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Replacement{}, classify("delete vote", err)
		}
		if n == 0 {
			return Replacement{}, fmt.Errorf("vote %s changed concurrently: %w", current.ID, models.ErrConflict)
		}
		prev := current.OptionID
		previous = &prev
		version = current.Version + 1
	}

	vote := models.Vote{
		ID:        uuid.NewString(),
		Identity:  identity,
		PollID:    pollID,
		OptionID:  optionID,
		Version:   version,
		CreatedAt: l.now(),
	}

	// UNIQUE (session_id, poll_id) rejects a concurrent first vote
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vote (id, session_id, poll_id, option_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, vote.ID, vote.Identity, vote.PollID, vote.OptionID, vote.Version, vote.CreatedAt)
	if err != nil {
		return Replacement{}, classify("insert vote", err)
	}

	if err := tx.Commit(); err != nil {
		return Replacement{}, classify("commit vote", err)
	}

	return Replacement{Previous: previous, Vote: vote}, nil
}

func (l *SQLLedger) CountVotes(ctx context.Context, pollID string) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT option_id, COUNT(*) FROM vote WHERE poll_id = $1 GROUP BY option_id
	`, pollID)
	if err != nil {
		return nil, classify("count votes", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var optionID string
		var count int64
		if err := rows.Scan(&optionID, &count); err != nil {
			return nil, classify("scan vote count", err)
		}
		counts[optionID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify("count votes", err)
	}
	return counts, nil
}

func (l *SQLLedger) PollIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id FROM poll ORDER BY id`)
	if err != nil {
		return nil, classify("list polls", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan poll", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list polls", err)
	}
	return ids, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findVote(ctx context.Context, q queryRower, identity, pollID string) (models.Vote, bool, error) {
	vote := models.Vote{Identity: identity, PollID: pollID}
	err := q.QueryRowContext(ctx, `
		SELECT id, option_id, version, created_at
		FROM vote
		WHERE session_id = $1 AND poll_id = $2
	`, identity, pollID).Scan(&vote.ID, &vote.OptionID, &vote.Version, &vote.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vote{}, false, nil
	}
	if err != nil {
		return models.Vote{}, false, err
	}
	return vote, true, nil
}
