// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/danielhkuo/livepoll/models"
)

// Postgres SQLSTATE codes the ledger maps.
const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqAdminShutdown        = "57P01"
	pqConnectionException  = "08"
)

// classify maps driver errors onto the models error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrDuplicateVote) || errors.Is(err, models.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation,
			pqErr.Code == pqSerializationFailure,
			pqErr.Code == pqDeadlockDetected:
			return fmt.Errorf("%s: %w: %v", op, models.ErrConflict, err)
		case pqErr.Code == pqForeignKeyViolation:
			return fmt.Errorf("%s: %w: %v", op, models.ErrNotFound, err)
		case pqErr.Code == pqAdminShutdown, string(pqErr.Code.Class()) == pqConnectionException:
			return fmt.Errorf("%s: %w: %v", op, models.ErrUnavailable, err)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w: %v", op, models.ErrNotFound, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT,
			code&0xff == sqlite3.SQLITE_BUSY,
			code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, models.ErrConflict, err)
		}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
