// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ledger is the durable record of each participant's current vote.

The ledger is the only authority on the invariant that an identity holds at
most one vote per poll. ReplaceVote is a single conditional transaction:

 1. the option must belong to the poll (models.ErrNotFound otherwise)
 2. the current vote is read; holding the same option is models.ErrDuplicateVote
 3. the observed row is deleted only if its version is unchanged
 4. the new row is inserted with version + 1 under UNIQUE (session_id, poll_id)
 5. commit

A lost race at step 3, 4 or 5 surfaces as models.ErrConflict and the caller
retries the whole operation.

# Implementations

  - SQLLedger: database/sql against Postgres (lib/pq) or SQLite (modernc)
  - MemoryLedger: in-process, same optimistic contract, used by tests and
    single-node development

Driver errors are mapped onto the models taxonomy: unique and serialization
failures become ErrConflict, foreign-key failures ErrNotFound, and lost
connections or deadlines ErrUnavailable.
*/
package ledger
