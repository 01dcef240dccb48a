// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package hub delivers live tally updates to observers of a poll.

Each poll has a topic holding its observers. Subscribe registers the
observer first and reads the tally afterwards, without holding the topic
lock, so a slow store never stalls Publish. Updates published during that
read are held by the subscription; only the newest is kept and it is queued
after the snapshot if it is newer.

Every message carries the tally version. A subscription forwards only
versions above the last one it queued, so updates that arrive out of order
are skipped and an observer always ends on the newest counts.

# Backpressure

Publish never blocks. Each observer owns a bounded buffer; an observer whose
buffer is full is dropped and its channel closed with ErrDropped. Other
observers of the same poll are unaffected.

# Usage

	h := hub.New(store, hub.WithBuffer(16), hub.WithLogger(logger))
	sub, err := h.Subscribe(ctx, pollID)
	defer h.Unsubscribe(sub)
	for msg := range sub.Messages() {
		// first msg.Type is "snapshot", then "update"
	}
*/
package hub
