// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package tally keeps live per-option vote counts.

The tally is an accelerator derived from the vote ledger; it is never
consulted for vote uniqueness. Counters move by exactly +1 or -1 per ledger
transition, and Rebuild/RebuildAll recompute them from the ledger after a
restart or when drift is detected (ErrUnderflow).

# Stores

  - MemoryStore: single process, one lock per poll
  - RedisStore: sorted set per poll (livepoll:tally:<poll>), ZINCRBY inside a
    script, shared by every service instance

Snapshots are point-in-time: MemoryStore copies under the poll lock and
RedisStore reads the whole sorted set in one ZRANGE.
*/
package tally
