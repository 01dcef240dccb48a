package models

import "time"

// Observer message types
const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "update"
)

// Request types

type CreatePollRequest struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

type SubmitVoteRequest struct {
	PollOptionID string `json:"poll_option_id"`
}

// Response types

type CreatePollResponse struct {
	PollID string `json:"poll_id"`
}

type SubmitVoteResponse struct {
	PollID           string  `json:"poll_id"`
	OptionID         string  `json:"option_id"`
	PreviousOptionID *string `json:"previous_option_id,omitempty"`
	Message          string  `json:"message"`
}

// Domain types

type Poll struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Option struct {
	ID     string `json:"id"`
	PollID string `json:"poll_id"`
	Title  string `json:"title"`
}

type OptionWithVotes struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Votes int64  `json:"votes"`
}

type PollWithOptions struct {
	Poll    Poll              `json:"poll"`
	Options []OptionWithVotes `json:"options"`
	Total   int64             `json:"total"`
}

// Vote is the single current vote of an identity on a poll.
// Identity is the opaque session token and is never exposed.
type Vote struct {
	ID        string    `json:"id"`
	Identity  string    `json:"-"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Tally is a point-in-time view of a poll's per-option counts.
// Version grows with every change to the poll's counters, so of two views
// of the same poll the one with the higher Version is the newer.
type Tally struct {
	PollID  string           `json:"poll_id"`
	Counts  map[string]int64 `json:"counts"`
	Total   int64            `json:"total"`
	Version int64            `json:"version"`
}

// NewTally builds a Tally and computes its total.
func NewTally(pollID string, counts map[string]int64) Tally {
	if counts == nil {
		counts = map[string]int64{}
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return Tally{PollID: pollID, Counts: counts, Total: total}
}

// Count returns the count for an option, zero when the option has no votes.
func (t Tally) Count(optionID string) int64 {
	return t.Counts[optionID]
}

// TallyUpdate carries every count of a poll as of Version. Updates may be
// delivered out of order; receivers keep the highest Version they have seen.
type TallyUpdate struct {
	PollID  string           `json:"poll_id"`
	Counts  map[string]int64 `json:"counts"`
	Total   int64            `json:"total"`
	Version int64            `json:"version"`
}

// UpdateFromTally builds the broadcast form of a tally.
func UpdateFromTally(t Tally) TallyUpdate {
	return TallyUpdate{PollID: t.PollID, Counts: t.Counts, Total: t.Total, Version: t.Version}
}

// StreamMessage is what observers receive: one snapshot first, then updates
// with strictly increasing versions.
type StreamMessage struct {
	Type    string           `json:"type"`
	PollID  string           `json:"poll_id"`
	Counts  map[string]int64 `json:"counts"`
	Total   *int64           `json:"total,omitempty"`
	Version int64            `json:"version"`
}

// SnapshotMessage wraps a full tally for delivery to an observer.
func SnapshotMessage(t Tally) StreamMessage {
	total := t.Total
	return StreamMessage{Type: MessageSnapshot, PollID: t.PollID, Counts: t.Counts, Total: &total, Version: t.Version}
}

// UpdateMessage wraps a tally update for delivery to an observer.
func UpdateMessage(u TallyUpdate) StreamMessage {
	total := u.Total
	return StreamMessage{Type: MessageUpdate, PollID: u.PollID, Counts: u.Counts, Total: &total, Version: u.Version}
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
