package domain

import "sort"

// AggregateResult is the full derived-field set for one presentation.
// Writers always replace the whole set at once, which sidesteps
// lost-update races at the cost of redundant recomputation.
type AggregateResult struct {
	JudgeScores    []float64
	JudgeTotal     float64
	SpectatorLikes int
}

// Aggregate reduces a presentation's votes into its aggregate fields.
// It is pure and deterministic: the same vote set produces identical
// output regardless of input ordering, because JudgeScores is sorted
// ascending before return. Callers rely on this for safe concurrent
// recomputation and for reconciliation idempotence.
//
// Judge votes are normalized and kept only when the normalized value
// is greater than zero; a judge vote that normalizes to 0 means "no
// score submitted", not "scored zero", and is dropped. JudgeTotal is
// the plain sum of the kept scores with no averaging or weighting.
// Spectator votes are counted. Votes with any other role are ignored.
func Aggregate(votes []Vote) AggregateResult {
	res := AggregateResult{JudgeScores: []float64{}}
	for _, v := range votes {
		switch v.Role {
		case RoleJudge:
			if s := v.NormalizedScore(); s > 0 {
				res.JudgeScores = append(res.JudgeScores, s)
			}
		case RoleSpectator:
			res.SpectatorLikes++
		}
	}
	sort.Float64s(res.JudgeScores)
	for _, s := range res.JudgeScores {
		res.JudgeTotal += s
	}
	return res
}
