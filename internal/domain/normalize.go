package domain

import "math"

// NormalizeScore converts a score payload into the single canonical
// number used everywhere else in the system. The fallback order is
// load-bearing and must not change, because it defines what "the
// score" means across historical documents:
//
//  1. Ratings: sum every entry's score, treating non-numeric entries
//     as 0. Pure addition, no weighting. Ratings beat stored totals
//     because totals go stale when the rubric changes.
//  2. TotalScore: use the stored total.
//  3. FlatScore: use the flat number.
//  4. nil payload: 0.
//
// The result is always finite and non-negative; negative or
// non-finite inputs coerce to 0 rather than propagating, so NaN can
// never reach a persisted aggregate or a leaderboard.
func NormalizeScore(p ScorePayload) float64 {
	switch s := p.(type) {
	case Ratings:
		var sum float64
		for _, e := range s.Entries {
			sum += clampScore(e.Score)
		}
		return clampScore(sum)
	case TotalScore:
		return clampScore(s.Total)
	case FlatScore:
		return clampScore(s.Score)
	}
	return 0
}

// PayloadFromFields resolves the raw optional fields of a vote
// document into a single payload variant. Historical documents can
// carry more than one shape at once (a current-format vote may still
// have a stale totalScore cached on it); the precedence here is the
// same as NormalizeScore's: non-empty ratings, then a finite total,
// then a finite flat score, then nothing.
//
// This is the only place the three-shape wire reality is probed;
// codecs call it once at the decode boundary.
func PayloadFromFields(ratings []CategoryRating, total, flat *float64) ScorePayload {
	if len(ratings) > 0 {
		return Ratings{Entries: ratings}
	}
	if total != nil && isFinite(*total) {
		return TotalScore{Total: *total}
	}
	if flat != nil && isFinite(*flat) {
		return FlatScore{Score: *flat}
	}
	return nil
}

// clampScore coerces NaN, infinite, and negative values to 0.
func clampScore(v float64) float64 {
	if !isFinite(v) || v < 0 {
		return 0
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
