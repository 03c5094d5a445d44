package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_PresentationRoundtrip(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()

	in := domain.Presentation{
		ID:          "p1",
		Title:       "Streaming Without Tears",
		Authors:     []string{"B. Builder"},
		Room:        "main-hall",
		JudgeScores: []float64{13, 20},
		JudgeTotal:  33,
		LastUpdated: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutPresentation(in))

	got, err := s.GetPresentation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	list, err := s.ListPresentations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)

	_, err = s.GetPresentation(ctx, "missing")
	assert.Equal(t, ports.CodeNotFound, ports.CodeOf(err))
}

// TestBadgerStore_VoteShapes persists one vote of each historical
// score shape and checks they decode to the right payload variant.
func TestBadgerStore_VoteShapes(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()

	votes := []domain.Vote{
		{ID: "v-flat", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.FlatScore{Score: 4}},
		{ID: "v-total", UserID: "u2", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.TotalScore{Total: 17}},
		{ID: "v-ratings", UserID: "u3", PresentationID: "p2", Role: domain.RoleJudge, Payload: domain.Ratings{Entries: []domain.CategoryRating{
			{CategoryID: "clarity", Score: 4},
			{CategoryID: "depth", Score: 5},
		}}},
		{ID: "v-like", UserID: "u4", PresentationID: "p1", Role: domain.RoleSpectator},
	}
	for _, v := range votes {
		_, err := s.PutVote(v)
		require.NoError(t, err)
	}

	all, err := s.ListVotes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	byID := make(map[string]domain.Vote, len(all))
	for _, v := range all {
		byID[v.ID] = v
	}
	assert.Equal(t, domain.FlatScore{Score: 4}, byID["v-flat"].Payload)
	assert.Equal(t, domain.TotalScore{Total: 17}, byID["v-total"].Payload)
	assert.Equal(t, 9.0, byID["v-ratings"].NormalizedScore())
	assert.Nil(t, byID["v-like"].Payload)

	forP1, err := s.ListVotesByPresentation(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, forP1, 3)

	require.NoError(t, s.DeleteVote(ctx, "v-flat"))
	require.NoError(t, s.DeleteVote(ctx, "v-flat"), "delete is idempotent")
	all, err = s.ListVotes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestBadgerStore_LegacyVoteDocument decodes a raw document written by
// an old client: a stale cached totalScore sitting next to current
// per-category ratings. The ratings must win.
func TestBadgerStore_LegacyVoteDocument(t *testing.T) {
	s := newTestBadger(t)

	raw := []byte(`{
		"id": "v-legacy",
		"userId": "u1",
		"presentationId": "p1",
		"role": "judge",
		"totalScore": 99,
		"ratings": [
			{"categoryId": "clarity", "score": 3},
			{"categoryId": "depth", "score": 4}
		]
	}`)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(votePrefix+"v-legacy"), raw)
	}))

	votes, err := s.ListVotesByPresentation(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, 7.0, votes[0].NormalizedScore())
}

// TestBadgerStore_NonNumericVoteScores decodes vote documents whose
// score fields hold junk written by old clients. A malformed score is
// a data-integrity fault to normalize around; it must never fail the
// listings the reconciliation jobs are built on.
func TestBadgerStore_NonNumericVoteScores(t *testing.T) {
	s := newTestBadger(t)

	docs := map[string]string{
		"v-junk-rating": `{"id":"v-junk-rating","userId":"u1","presentationId":"p1","role":"judge",
			"ratings":[{"categoryId":"clarity","score":"three"},{"categoryId":"depth","score":4}]}`,
		"v-junk-total": `{"id":"v-junk-total","userId":"u2","presentationId":"p1","role":"judge",
			"totalScore":"n/a","score":6}`,
		"v-junk-list": `{"id":"v-junk-list","userId":"u3","presentationId":"p1","role":"judge",
			"ratings":"oops","totalScore":12}`,
	}
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		for id, doc := range docs {
			if err := txn.Set([]byte(votePrefix+id), []byte(doc)); err != nil {
				return err
			}
		}
		return nil
	}))

	votes, err := s.ListVotes(context.Background())
	require.NoError(t, err)
	require.Len(t, votes, 3)

	scores := make(map[string]float64, len(votes))
	for _, v := range votes {
		scores[v.ID] = v.NormalizedScore()
	}
	assert.Equal(t, 4.0, scores["v-junk-rating"], "non-numeric rating entry counts as zero")
	assert.Equal(t, 6.0, scores["v-junk-total"], "non-numeric total falls through to the flat score")
	assert.Equal(t, 12.0, scores["v-junk-list"], "non-sequence ratings field is treated as absent")
}

// TestBadgerStore_CancelledListing classifies a caller-cancelled scan
// as canceled rather than retryable unavailability.
func TestBadgerStore_CancelledListing(t *testing.T) {
	s := newTestBadger(t)
	_, err := s.PutVote(domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.ListVotes(ctx)
	require.Error(t, err)
	assert.Equal(t, ports.CodeCanceled, ports.CodeOf(err))
	assert.False(t, ports.IsRetryable(err))
}

// TestBadgerStore_MalformedScoresDecodeLeniently writes a presentation
// document whose cached judgeScores field holds junk; the read must
// succeed and surface a document the repair job will flag.
func TestBadgerStore_MalformedScoresDecodeLeniently(t *testing.T) {
	s := newTestBadger(t)

	raw := []byte(`{
		"id": "p-bad",
		"title": "Corrupted Cache",
		"judgeScores": [12, "oops", 20],
		"judgeTotal": 32
	}`)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(presentationPrefix+"p-bad"), raw)
	}))

	p, err := s.GetPresentation(context.Background(), "p-bad")
	require.NoError(t, err)
	require.Len(t, p.JudgeScores, 3)
	assert.True(t, math.IsNaN(p.JudgeScores[1]))
	assert.True(t, p.HasMalformedScores())
}

func TestBadgerStore_UpdateAggregates(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()
	require.NoError(t, s.PutPresentation(domain.Presentation{ID: "p1", Title: "Talk", Room: "r2"}))

	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.UpdateAggregates(ctx, "p1", domain.AggregateResult{
		JudgeScores:    []float64{8},
		JudgeTotal:     8,
		SpectatorLikes: 5,
	}, now))

	p, err := s.GetPresentation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Talk", p.Title)
	assert.Equal(t, "r2", p.Room)
	assert.Equal(t, []float64{8}, p.JudgeScores)
	assert.Equal(t, 5, p.SpectatorLikes)
	assert.Equal(t, now, p.LastUpdated)

	err = s.UpdateAggregates(ctx, "missing", domain.AggregateResult{}, now)
	assert.Equal(t, ports.CodeNotFound, ports.CodeOf(err))
}

func TestBadgerStore_UserRoles(t *testing.T) {
	s := newTestBadger(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser("u1", domain.RoleSpectator))
	role, err := s.GetUserRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSpectator, role)

	_, err = s.GetUserRole(ctx, "ghost")
	assert.Equal(t, ports.CodeNotFound, ports.CodeOf(err))
}
