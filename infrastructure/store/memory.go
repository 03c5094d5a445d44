package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
)

var _ ports.DocumentStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory DocumentStore used by tests and local
// runs. Listings are sorted by document id so results are
// deterministic. All methods are safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	presentations map[string]domain.Presentation
	votes         map[string]domain.Vote
	users         map[string]domain.Role
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		presentations: make(map[string]domain.Presentation),
		votes:         make(map[string]domain.Vote),
		users:         make(map[string]domain.Role),
	}
}

// Ping implements the reconnection probe; the in-memory store is
// always reachable.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// PutPresentation inserts or replaces a presentation document.
// This is the seeding path used by tests and fixtures; the scoring
// core itself only ever updates aggregate fields.
func (s *MemoryStore) PutPresentation(p domain.Presentation) error {
	if p.ID == "" {
		return domain.ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentations[p.ID] = clonePresentation(p)
	return nil
}

// PutVote inserts or replaces a vote document, assigning a fresh
// UUID when the vote has no id. Vote writes belong to the UI side of
// the system; the core only deletes.
func (s *MemoryStore) PutVote(v domain.Vote) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[v.ID] = v
	return v.ID, nil
}

// PutUser records a user's role for role lookups.
func (s *MemoryStore) PutUser(userID string, role domain.Role) error {
	if userID == "" {
		return domain.ErrEmptyID
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = role
	return nil
}

// ListPresentations returns every presentation sorted by id.
func (s *MemoryStore) ListPresentations(context.Context) ([]domain.Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Presentation, 0, len(s.presentations))
	for _, p := range s.presentations {
		out = append(out, clonePresentation(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPresentation returns one presentation by id.
func (s *MemoryStore) GetPresentation(_ context.Context, id string) (domain.Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presentations[id]
	if !ok {
		return domain.Presentation{}, ports.NewStoreError(ports.CodeNotFound, "presentations.get",
			fmt.Errorf("presentation %q not found", id))
	}
	return clonePresentation(p), nil
}

// UpdateAggregates overwrites the derived fields of a presentation.
func (s *MemoryStore) UpdateAggregates(_ context.Context, presentationID string, agg domain.AggregateResult, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presentations[presentationID]
	if !ok {
		return ports.NewStoreError(ports.CodeNotFound, "presentations.update",
			fmt.Errorf("presentation %q not found", presentationID))
	}
	p.JudgeScores = append([]float64(nil), agg.JudgeScores...)
	if p.JudgeScores == nil {
		p.JudgeScores = []float64{}
	}
	p.JudgeTotal = agg.JudgeTotal
	p.SpectatorLikes = agg.SpectatorLikes
	p.LastUpdated = updatedAt
	s.presentations[presentationID] = p
	return nil
}

// ListVotes returns the full vote log sorted by id.
func (s *MemoryStore) ListVotes(context.Context) ([]domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Vote, 0, len(s.votes))
	for _, v := range s.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListVotesByPresentation returns one presentation's votes sorted by id.
func (s *MemoryStore) ListVotesByPresentation(_ context.Context, presentationID string) ([]domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Vote, 0)
	for _, v := range s.votes {
		if v.PresentationID == presentationID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteVote removes a vote; deleting an absent vote is a no-op.
func (s *MemoryStore) DeleteVote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, id)
	return nil
}

// GetUserRole resolves a voter's role from the users collection.
func (s *MemoryStore) GetUserRole(_ context.Context, userID string) (domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.users[userID]
	if !ok {
		return "", ports.NewStoreError(ports.CodeNotFound, "users.get",
			fmt.Errorf("user %q not found", userID))
	}
	return role, nil
}

// clonePresentation deep-copies the slices so callers cannot alias
// stored state.
func clonePresentation(p domain.Presentation) domain.Presentation {
	if p.JudgeScores != nil {
		p.JudgeScores = append([]float64(nil), p.JudgeScores...)
	}
	if p.Authors != nil {
		p.Authors = append([]string(nil), p.Authors...)
	}
	return p
}
