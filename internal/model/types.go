package model

import "time"

// ImageRef identifies one NFT image by content address, with an optional
// pre-resolved URL hint from the catalog feed. Immutable once attached to
// an NFT record.
type ImageRef struct {
	CID     string `json:"cid"`
	URLHint string `json:"url_hint,omitempty"`
}

// NFT is one catalog entry. It is the canonical type for storage, the
// catalog feed, and matchup assembly.
type NFT struct {
	TokenID    string    `json:"token_id"`
	Collection string    `json:"collection"`
	Name       string    `json:"name"`
	Image      ImageRef  `json:"image"`
	Matchups   int64     `json:"matchups"`
	Wins       int64     `json:"wins"`
	AddedAt    time.Time `json:"added_at"`
}

// SessionKind tags how a matchup session was produced. The delivery
// pipeline treats it as opaque.
type SessionKind string

const (
	KindStandard SessionKind = "standard"
)

// MatchupSession is one pair of NFTs presented together for a single vote.
// Immutable once received from the supplier.
type MatchupSession struct {
	ID    string      `json:"id"`
	Left  NFT         `json:"left"`
	Right NFT         `json:"right"`
	Kind  SessionKind `json:"kind"`
}

// VoteRecord is one completed vote, ready for journaling and storage.
type VoteRecord struct {
	SessionID  string      `json:"session_id"`
	WinnerID   string      `json:"winner_id"`
	LoserID    string      `json:"loser_id"`
	SuperVote  bool        `json:"super_vote"`
	Kind       SessionKind `json:"kind"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// DiscardRecord captures one matchup abandoned because an image never
// became renderable. Telemetry only; the user never sees these.
type DiscardRecord struct {
	SessionID  string    `json:"session_id"`
	FailedSide string    `json:"failed_side"` // "left" or "right"
	TokenID    string    `json:"token_id"`
	CID        string    `json:"cid"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GatewayStat reports one gateway endpoint's standing in the registry.
type GatewayStat struct {
	BaseURL      string `json:"base_url"`
	SuccessCount int64  `json:"success_count"`
	Rank         int    `json:"rank"`
}

// VoteTotals aggregates vote counters for status surfaces.
type VoteTotals struct {
	Total    int64 `json:"total"`
	Super    int64 `json:"super"`
	LastHour int64 `json:"last_hour"`
}

// SlotInfo is the externally visible state of one stack slot.
type SlotInfo struct {
	Position  int    `json:"position"`
	SessionID string `json:"session_id"`
	LeftID    string `json:"left_id"`
	RightID   string `json:"right_id"`
	Visible   bool   `json:"visible"`
	Exiting   bool   `json:"exiting"`
	Resolved  bool   `json:"resolved"`
}

// StackSnapshot is a point-in-time view of the session stack.
type StackSnapshot struct {
	TargetDepth int        `json:"target_depth"`
	Depth       int        `json:"depth"`
	Slots       []SlotInfo `json:"slots"`
	Discards    int64      `json:"discards"`
	Consumed    int64      `json:"consumed"`
}
