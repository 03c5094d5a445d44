package application

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscore/scoresync/infrastructure/store"
	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
	"github.com/confscore/scoresync/internal/testutils"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestReconciler(t *testing.T, s ports.DocumentStore) (*Reconciler, *testutils.FakeClock) {
	t.Helper()
	clock := testutils.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	r := NewReconciler(s, ReconcilerConfig{
		Clock:  clock,
		Logger: discardLogger(),
	})
	return r, clock
}

func seedVote(t *testing.T, s *store.MemoryStore, v domain.Vote) {
	t.Helper()
	_, err := s.PutVote(v)
	require.NoError(t, err)
}

// TestDeduplicateVotes_KeepsLatest seeds three votes from the same
// user for the same presentation and checks only the most recent
// survives.
func TestDeduplicateVotes_KeepsLatest(t *testing.T) {
	mem := store.NewMemoryStore()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base})
	seedVote(t, mem, domain.Vote{ID: "v2", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base.Add(2 * time.Minute)})
	seedVote(t, mem, domain.Vote{ID: "v3", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base.Add(time.Minute)})
	// Same user, different presentation: not a duplicate.
	seedVote(t, mem, domain.Vote{ID: "v4", UserID: "u1", PresentationID: "p2", Role: domain.RoleJudge, Timestamp: base})

	r, _ := newTestReconciler(t, mem)
	report, err := r.DeduplicateVotes(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed, "two (user, presentation) groups")
	assert.Equal(t, 2, report.Removed)
	assert.Zero(t, report.Failed)

	remaining, err := mem.ListVotes(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(remaining))
	for _, v := range remaining {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"v2", "v4"}, ids)
}

// TestDeduplicateVotes_TimestampTieBreak verifies equal timestamps
// resolve deterministically to the greater vote id.
func TestDeduplicateVotes_TimestampTieBreak(t *testing.T) {
	mem := store.NewMemoryStore()
	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	seedVote(t, mem, domain.Vote{ID: "aaa", UserID: "u1", PresentationID: "p1", Role: domain.RoleSpectator, Timestamp: ts})
	seedVote(t, mem, domain.Vote{ID: "zzz", UserID: "u1", PresentationID: "p1", Role: domain.RoleSpectator, Timestamp: ts})

	r, _ := newTestReconciler(t, mem)
	_, err := r.DeduplicateVotes(context.Background())
	require.NoError(t, err)

	remaining, err := mem.ListVotes(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "zzz", remaining[0].ID)
}

// TestDeduplicateVotes_Idempotent runs the job twice; the second run
// must find nothing to remove.
func TestDeduplicateVotes_Idempotent(t *testing.T) {
	mem := store.NewMemoryStore()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base})
	seedVote(t, mem, domain.Vote{ID: "v2", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base.Add(time.Minute)})

	r, _ := newTestReconciler(t, mem)
	first, err := r.DeduplicateVotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Removed)

	second, err := r.DeduplicateVotes(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Removed)
}

// TestDeduplicateVotes_ContinuesPastFailures verifies a failed delete
// is counted and skipped without aborting the batch.
func TestDeduplicateVotes_ContinuesPastFailures(t *testing.T) {
	mem := store.NewMemoryStore()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	seedVote(t, mem, domain.Vote{ID: "a1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base})
	seedVote(t, mem, domain.Vote{ID: "a2", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base.Add(time.Minute)})
	seedVote(t, mem, domain.Vote{ID: "b1", UserID: "u2", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base})
	seedVote(t, mem, domain.Vote{ID: "b2", UserID: "u2", PresentationID: "p1", Role: domain.RoleJudge, Timestamp: base.Add(time.Minute)})

	flaky := testutils.NewFlakyStore(mem)
	flaky.FailNext("DeleteVote", 1, ports.NewStoreError(ports.CodeUnavailable, "votes.delete", errors.New("net down")))

	r, _ := newTestReconciler(t, flaky)
	report, err := r.DeduplicateVotes(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, flaky.Calls("DeleteVote"))
}

// TestRecalculateAllStats rebuilds aggregates from a mixed vote log:
// the two-judge, two-spectator scenario across two presentations.
func TestRecalculateAllStats(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{ID: "p1", Title: "Talk A"}))
	require.NoError(t, mem.PutPresentation(domain.Presentation{ID: "p2", Title: "Talk B"}))

	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.Ratings{Entries: []domain.CategoryRating{
		{Score: 3}, {Score: 4}, {Score: 3}, {Score: 3},
	}}})
	seedVote(t, mem, domain.Vote{ID: "v2", UserID: "u2", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.TotalScore{Total: 20}})
	seedVote(t, mem, domain.Vote{ID: "v3", UserID: "u3", PresentationID: "p1", Role: domain.RoleSpectator})
	seedVote(t, mem, domain.Vote{ID: "v4", UserID: "u4", PresentationID: "p1", Role: domain.RoleSpectator})
	seedVote(t, mem, domain.Vote{ID: "v5", UserID: "u1", PresentationID: "p2", Role: domain.RoleJudge, Payload: domain.FlatScore{Score: 9}})

	r, clock := newTestReconciler(t, mem)
	report, err := r.RecalculateAllStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Updated)
	assert.Zero(t, report.Failed)

	p1, err := mem.GetPresentation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []float64{13, 20}, p1.JudgeScores)
	assert.Equal(t, 33.0, p1.JudgeTotal)
	assert.Equal(t, 2, p1.SpectatorLikes)
	assert.Equal(t, clock.Now(), p1.LastUpdated)

	p2, err := mem.GetPresentation(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, p2.JudgeScores)
	assert.Zero(t, p2.SpectatorLikes)
}

// TestRecalculateAllStats_Idempotent verifies a second run with the
// same vote log reproduces identical aggregates.
func TestRecalculateAllStats_Idempotent(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{ID: "p1"}))
	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.FlatScore{Score: 7}})

	r, _ := newTestReconciler(t, mem)
	ctx := context.Background()

	_, err := r.RecalculateAllStats(ctx)
	require.NoError(t, err)
	first, err := mem.GetPresentation(ctx, "p1")
	require.NoError(t, err)

	_, err = r.RecalculateAllStats(ctx)
	require.NoError(t, err)
	second, err := mem.GetPresentation(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, first.JudgeScores, second.JudgeScores)
	assert.Equal(t, first.JudgeTotal, second.JudgeTotal)
	assert.Equal(t, first.SpectatorLikes, second.SpectatorLikes)
}

// TestRecalculateAllStats_ResolvesRolesFromUsers covers votes written
// before roles were denormalized onto the vote document: the role
// comes from the users collection, and votes whose voter is unknown
// are left out of the totals.
func TestRecalculateAllStats_ResolvesRolesFromUsers(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{ID: "p1"}))
	require.NoError(t, mem.PutUser("u-judge", domain.RoleJudge))
	require.NoError(t, mem.PutUser("u-fan", domain.RoleSpectator))

	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u-judge", PresentationID: "p1", Payload: domain.FlatScore{Score: 6}})
	seedVote(t, mem, domain.Vote{ID: "v2", UserID: "u-fan", PresentationID: "p1"})
	seedVote(t, mem, domain.Vote{ID: "v3", UserID: "u-ghost", PresentationID: "p1", Payload: domain.FlatScore{Score: 9}})

	r, _ := newTestReconciler(t, mem)
	_, err := r.RecalculateAllStats(context.Background())
	require.NoError(t, err)

	p, err := mem.GetPresentation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []float64{6}, p.JudgeScores)
	assert.Equal(t, 1, p.SpectatorLikes)
}

// TestRepairMalformedScores resets corrupted score caches while
// leaving healthy documents alone.
func TestRepairMalformedScores(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{
		ID:             "p-bad",
		JudgeScores:    []float64{12, math.NaN(), 20},
		JudgeTotal:     math.NaN(),
		SpectatorLikes: 4,
	}))
	require.NoError(t, mem.PutPresentation(domain.Presentation{
		ID:          "p-missing",
		JudgeScores: nil,
		JudgeTotal:  15,
	}))
	require.NoError(t, mem.PutPresentation(domain.Presentation{
		ID:          "p-ok",
		JudgeScores: []float64{13, 20},
		JudgeTotal:  33,
		LastUpdated: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}))

	r, clock := newTestReconciler(t, mem)
	report, err := r.RepairMalformedScores(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Updated)

	bad, err := mem.GetPresentation(context.Background(), "p-bad")
	require.NoError(t, err)
	assert.Equal(t, []float64{}, bad.JudgeScores)
	assert.Zero(t, bad.JudgeTotal, "non-finite total is zeroed")
	assert.Equal(t, 4, bad.SpectatorLikes, "spectator likes survive the repair")
	assert.Equal(t, clock.Now(), bad.LastUpdated)

	missing, err := mem.GetPresentation(context.Background(), "p-missing")
	require.NoError(t, err)
	assert.Equal(t, []float64{}, missing.JudgeScores)
	assert.Equal(t, 15.0, missing.JudgeTotal, "finite total is preserved")

	ok, err := mem.GetPresentation(context.Background(), "p-ok")
	require.NoError(t, err)
	assert.Equal(t, []float64{13, 20}, ok.JudgeScores)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), ok.LastUpdated, "healthy documents untouched")
}

// TestRecomputePresentation covers the single-presentation path run
// after a vote write.
func TestRecomputePresentation(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{ID: "p1"}))
	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.FlatScore{Score: 11}})

	r, _ := newTestReconciler(t, mem)
	require.NoError(t, r.RecomputePresentation(context.Background(), "p1"))

	p, err := mem.GetPresentation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []float64{11}, p.JudgeScores)
	assert.Equal(t, 11.0, p.JudgeTotal)
}

// TestRunAll wires the three jobs together: duplicates removed first,
// corrupted caches cleared, then everything rebuilt from the surviving
// votes.
func TestRunAll(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{
		ID:          "p1",
		JudgeScores: []float64{math.Inf(1)},
	}))
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	// u1 voted twice; only the newer score of 20 may count.
	seedVote(t, mem, domain.Vote{ID: "v1", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.FlatScore{Score: 5}, Timestamp: base})
	seedVote(t, mem, domain.Vote{ID: "v2", UserID: "u1", PresentationID: "p1", Role: domain.RoleJudge, Payload: domain.TotalScore{Total: 20}, Timestamp: base.Add(time.Minute)})
	seedVote(t, mem, domain.Vote{ID: "v3", UserID: "u2", PresentationID: "p1", Role: domain.RoleSpectator, Timestamp: base})

	r, _ := newTestReconciler(t, mem)
	report, err := r.RunAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.GreaterOrEqual(t, report.Updated, 2, "one repair plus one recalculation")

	p, err := mem.GetPresentation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []float64{20}, p.JudgeScores)
	assert.Equal(t, 20.0, p.JudgeTotal)
	assert.Equal(t, 1, p.SpectatorLikes)
}
