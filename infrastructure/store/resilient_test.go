package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
	"github.com/confscore/scoresync/internal/testutils"
)

func newTestResilient(t *testing.T, cfg ResilientConfig) (*ResilientStore, *testutils.FlakyStore, *ConnManager) {
	t.Helper()
	mem := NewMemoryStore()
	require.NoError(t, mem.PutPresentation(domain.Presentation{ID: "p1", Title: "Talk"}))
	flaky := testutils.NewFlakyStore(mem)

	conn := NewConnManager(flaky.Ping, ConnManagerConfig{
		Clock:     testutils.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)),
		Scheduler: testutils.NewFakeScheduler(),
		Logger:    discardLogger(),
	})
	t.Cleanup(conn.Close)

	runner, _ := newTestRunner(conn, cfg.Runner)
	return NewResilientStore(flaky, conn, runner, cfg), flaky, conn
}

// TestResilientStore_RetryThenSuccess verifies a transient failure is
// absorbed by the retry envelope without surfacing to the caller.
func TestResilientStore_RetryThenSuccess(t *testing.T) {
	rs, flaky, conn := newTestResilient(t, ResilientConfig{
		Runner: RunnerConfig{Retries: 2, Delay: time.Millisecond},
	})
	flaky.FailNext("GetPresentation", 1, errUnavailable)

	p, err := rs.GetPresentation(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, "Talk", p.Title)
	assert.Equal(t, 2, flaky.Calls("GetPresentation"))
	assert.Equal(t, StateOnline, conn.State())
}

// TestResilientStore_TerminalErrorSurfaces verifies non-retryable
// codes pass through after a single attempt with their code intact.
func TestResilientStore_TerminalErrorSurfaces(t *testing.T) {
	rs, flaky, _ := newTestResilient(t, ResilientConfig{
		Runner: RunnerConfig{Retries: 2, Delay: time.Millisecond},
	})
	flaky.FailNext("DeleteVote", 1, ports.NewStoreError(ports.CodePermissionDenied, "votes.delete", errors.New("denied")))

	err := rs.DeleteVote(context.Background(), "v1")

	require.Error(t, err)
	assert.Equal(t, ports.CodePermissionDenied, ports.CodeOf(err))
	assert.Equal(t, 1, flaky.Calls("DeleteVote"))
}

// TestResilientStore_OfflineFailFast verifies calls against an offline
// store return immediately without reaching the backend.
func TestResilientStore_OfflineFailFast(t *testing.T) {
	rs, flaky, conn := newTestResilient(t, ResilientConfig{
		Runner: RunnerConfig{Retries: 2, Delay: time.Millisecond},
	})
	conn.ForceOffline()

	_, err := rs.ListVotes(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrStoreOffline)
	assert.Equal(t, ports.CodeUnavailable, ports.CodeOf(err))
	assert.Zero(t, flaky.Calls("ListVotes"))
}

// TestResilientStore_PingBypassesOfflineGate verifies the probe path
// stays open while the store is offline; without it the connection
// manager could never observe recovery.
func TestResilientStore_PingBypassesOfflineGate(t *testing.T) {
	rs, flaky, conn := newTestResilient(t, ResilientConfig{})
	conn.ForceOffline()

	require.NoError(t, rs.Ping(context.Background()))
	assert.Equal(t, 1, flaky.Calls("Ping"))
}

// TestResilientStore_ResourceExhaustedNotRetried verifies quota
// pressure surfaces after one attempt instead of being hammered.
func TestResilientStore_ResourceExhaustedNotRetried(t *testing.T) {
	rs, flaky, _ := newTestResilient(t, ResilientConfig{
		Runner: RunnerConfig{Retries: 2, Delay: time.Millisecond},
	})
	flaky.FailNext("ListVotes", -1, ports.NewStoreError(ports.CodeResourceExhausted, "votes.list", errors.New("quota")))

	_, err := rs.ListVotes(context.Background())

	require.Error(t, err)
	assert.Equal(t, ports.CodeResourceExhausted, ports.CodeOf(err))
	assert.Equal(t, 1, flaky.Calls("ListVotes"))
}

// TestResilientStore_CancellationNotATimeout verifies caller
// cancellation at the pacing gate is classified as canceled, not as a
// store timeout, and never reaches the backend.
func TestResilientStore_CancellationNotATimeout(t *testing.T) {
	rs, flaky, _ := newTestResilient(t, ResilientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rs.ListVotes(ctx)

	require.Error(t, err)
	assert.Equal(t, ports.CodeCanceled, ports.CodeOf(err))
	assert.Zero(t, flaky.Calls("ListVotes"))
}

// TestResilientStore_WriteThrough exercises the mutating paths end to
// end through the full stack.
func TestResilientStore_WriteThrough(t *testing.T) {
	rs, _, _ := newTestResilient(t, ResilientConfig{})
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, rs.UpdateAggregates(ctx, "p1", domain.AggregateResult{
		JudgeScores:    []float64{13, 20},
		JudgeTotal:     33,
		SpectatorLikes: 2,
	}, now))

	p, err := rs.GetPresentation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 33.0, p.JudgeTotal)
	assert.Equal(t, now, p.LastUpdated)
}
