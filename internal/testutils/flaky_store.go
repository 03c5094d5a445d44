package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
)

var _ ports.DocumentStore = (*FlakyStore)(nil)

// FlakyStore wraps a DocumentStore and injects scripted failures so
// tests can exercise the retry envelope and the continue-on-failure
// contract of the batch jobs.
type FlakyStore struct {
	next ports.DocumentStore

	mu       sync.Mutex
	failures map[string]*failureScript
	calls    map[string]int
}

type failureScript struct {
	remaining int
	err       error
}

// NewFlakyStore wraps next with no failures scripted.
func NewFlakyStore(next ports.DocumentStore) *FlakyStore {
	return &FlakyStore{
		next:     next,
		failures: make(map[string]*failureScript),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of the named method return err.
// Method names are "Ping", "ListPresentations", "GetPresentation",
// "UpdateAggregates", "ListVotes", "ListVotesByPresentation",
// "DeleteVote", and "GetUserRole".
func (s *FlakyStore) FailNext(method string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = &failureScript{remaining: n, err: err}
}

// Calls returns how many times the named method was invoked,
// including calls that failed by script.
func (s *FlakyStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *FlakyStore) intercept(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if script, ok := s.failures[method]; ok && script.remaining != 0 {
		if script.remaining > 0 {
			script.remaining--
		}
		return script.err
	}
	return nil
}

// Ping delegates unless a failure is scripted.
func (s *FlakyStore) Ping(ctx context.Context) error {
	if err := s.intercept("Ping"); err != nil {
		return err
	}
	return s.next.Ping(ctx)
}

// ListPresentations delegates unless a failure is scripted.
func (s *FlakyStore) ListPresentations(ctx context.Context) ([]domain.Presentation, error) {
	if err := s.intercept("ListPresentations"); err != nil {
		return nil, err
	}
	return s.next.ListPresentations(ctx)
}

// GetPresentation delegates unless a failure is scripted.
func (s *FlakyStore) GetPresentation(ctx context.Context, id string) (domain.Presentation, error) {
	if err := s.intercept("GetPresentation"); err != nil {
		return domain.Presentation{}, err
	}
	return s.next.GetPresentation(ctx, id)
}

// UpdateAggregates delegates unless a failure is scripted.
func (s *FlakyStore) UpdateAggregates(ctx context.Context, presentationID string, agg domain.AggregateResult, updatedAt time.Time) error {
	if err := s.intercept("UpdateAggregates"); err != nil {
		return err
	}
	return s.next.UpdateAggregates(ctx, presentationID, agg, updatedAt)
}

// ListVotes delegates unless a failure is scripted.
func (s *FlakyStore) ListVotes(ctx context.Context) ([]domain.Vote, error) {
	if err := s.intercept("ListVotes"); err != nil {
		return nil, err
	}
	return s.next.ListVotes(ctx)
}

// ListVotesByPresentation delegates unless a failure is scripted.
func (s *FlakyStore) ListVotesByPresentation(ctx context.Context, presentationID string) ([]domain.Vote, error) {
	if err := s.intercept("ListVotesByPresentation"); err != nil {
		return nil, err
	}
	return s.next.ListVotesByPresentation(ctx, presentationID)
}

// DeleteVote delegates unless a failure is scripted.
func (s *FlakyStore) DeleteVote(ctx context.Context, id string) error {
	if err := s.intercept("DeleteVote"); err != nil {
		return err
	}
	return s.next.DeleteVote(ctx, id)
}

// GetUserRole delegates unless a failure is scripted.
func (s *FlakyStore) GetUserRole(ctx context.Context, userID string) (domain.Role, error) {
	if err := s.intercept("GetUserRole"); err != nil {
		return "", err
	}
	return s.next.GetUserRole(ctx, userID)
}
