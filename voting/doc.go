// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package voting admits votes and keeps the live tally in step with the ledger.

Service.SubmitVote is the only code path that changes a participant's vote:

 1. ledger.ReplaceVote commits the transition, or rejects an identical
    resubmission with models.ErrDuplicateVote
 2. the tally moves by -1 on the previous option (if any) and +1 on the new one
 3. the poll's tally is read back and enqueued for broadcast with its version

A lost optimistic race (models.ErrConflict) is retried with jittered backoff
up to MaxAttempts. Transitions hold their poll shared and a rebuild holds it
exclusively, so a rebuild never counts a vote whose adjustment is pending.
If the tally store fails after the ledger committed, the poll's tally is
rebuilt from the ledger; only when that also fails is the
vote reported as models.ErrUnavailable, and even then the vote stands.
Broadcast is fire-and-forget: a full queue is logged, never returned.
*/
package voting
