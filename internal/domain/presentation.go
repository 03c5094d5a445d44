package domain

import (
	"math"
	"time"
)

// Presentation is a conference talk plus the aggregate fields derived
// from its vote log. Display fields are opaque to the scoring core;
// only the derived fields are ever written back, and only by the
// reconciliation paths. Aggregates are always rebuilt wholesale from
// the vote log, never patched incrementally, so stale reads are
// self-healing rather than cumulative.
type Presentation struct {
	ID string

	// Display fields, carried through untouched.
	Title       string
	Authors     []string
	Room        string
	ScheduledAt time.Time

	// JudgeScores holds the normalized score of every judge vote
	// that scored above zero. A zero normalization means "not yet
	// scored" and is never persisted as a recorded score. A nil
	// slice means the cache is missing or was undecodable.
	JudgeScores []float64

	// JudgeTotal is the plain sum of JudgeScores.
	JudgeTotal float64

	// SpectatorLikes counts spectator votes.
	SpectatorLikes int

	// LastUpdated records when the aggregates were last rebuilt.
	LastUpdated time.Time
}

// HasMalformedScores reports whether the cached judge scores need the
// conservative repair: the cache is missing (nil), or any entry is
// non-finite or non-positive. An empty non-nil slice is a valid
// "no scores yet" cache, not a fault.
func (p Presentation) HasMalformedScores() bool {
	if p.JudgeScores == nil {
		return true
	}
	for _, s := range p.JudgeScores {
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return true
		}
	}
	return false
}
