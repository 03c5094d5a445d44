// Package domain contains the pure scoring model for conference
// presentations: votes, presentations, score normalization, and
// aggregation. It performs no I/O and has no infrastructure
// dependencies so every rule can be tested in isolation.
package domain

import "time"

// Role identifies the kind of voter that cast a vote.
type Role string

// Voter roles recognized by the scoring core.
const (
	// RoleJudge marks a scored evaluation from an assigned judge.
	// Judge votes contribute to JudgeScores and JudgeTotal.
	RoleJudge Role = "judge"

	// RoleSpectator marks an attendee engagement signal.
	// Spectator votes are counted, never summed into the ranking total.
	RoleSpectator Role = "spectator"
)

// Valid reports whether r is one of the recognized voter roles.
func (r Role) Valid() bool { return r == RoleJudge || r == RoleSpectator }

// CategoryRating is a single per-category score inside a ratings
// payload. Scores are raw integers in practice (typically 0-5), but
// the field is a float because historical documents are not strict.
type CategoryRating struct {
	CategoryID string
	Score      float64
}

// ScorePayload is the tagged union of the three historical vote
// shapes. Exactly one variant is attached to a vote; resolution from
// raw document fields happens once, in PayloadFromFields, so the rest
// of the system never probes optional fields.
//
// A nil ScorePayload means the vote carries no usable score and
// normalizes to zero.
type ScorePayload interface {
	scorePayload()
}

// FlatScore is the oldest vote shape: one flat number.
type FlatScore struct {
	Score float64
}

func (FlatScore) scorePayload() {}

// TotalScore is the intermediate vote shape: a precomputed total.
// Stored totals go stale when the scoring rubric changes, which is
// why Ratings always takes precedence during normalization.
type TotalScore struct {
	Total float64
}

func (TotalScore) scorePayload() {}

// Ratings is the current vote shape: per-category raw scores that
// are summed, never weighted, to produce the canonical score.
type Ratings struct {
	Entries []CategoryRating
}

func (Ratings) scorePayload() {}

// Vote is a single submitted evaluation. At most one vote per
// (UserID, PresentationID) pair is authoritative; duplicates are a
// recoverable data-integrity fault repaired by deduplication, never
// a hard error.
type Vote struct {
	// ID is the vote document identity.
	ID string

	// UserID identifies the voter.
	UserID string

	// PresentationID identifies the presentation being scored.
	PresentationID string

	// Role classifies the voter. It may be empty on old documents
	// that predate role denormalization; callers resolve it from the
	// users collection before aggregating.
	Role Role

	// Payload holds the score in one of the three historical shapes,
	// or nil when the vote carries no usable score.
	Payload ScorePayload

	// Timestamp is the submission time used to pick the winner when
	// deduplicating. Zero means unknown.
	Timestamp time.Time
}

// NormalizedScore returns the canonical non-negative score for this
// vote. See NormalizeScore for the fallback policy.
func (v Vote) NormalizedScore() float64 { return NormalizeScore(v.Payload) }

// SupersededBy reports whether other should win over v when both
// belong to the same (user, presentation) pair. The later timestamp
// wins; equal or missing timestamps fall back to the lexicographically
// greater vote ID so the outcome is deterministic.
func (v Vote) SupersededBy(other Vote) bool {
	if other.Timestamp.After(v.Timestamp) {
		return true
	}
	if v.Timestamp.After(other.Timestamp) {
		return false
	}
	return other.ID > v.ID
}
