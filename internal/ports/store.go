// Package ports defines the interfaces between the scoring core and
// its infrastructure: the document store holding presentations,
// votes, and users, plus the clock, scheduler, and metrics seams that
// keep time-dependent logic testable.
package ports

import (
	"context"
	"time"

	"github.com/confscore/scoresync/internal/domain"
)

// DocumentStore is the port to the remote document store. The store
// is eventually consistent; no ordering is assumed between a vote
// write and a subsequent read of aggregate fields, which is why
// aggregates are always rebuilt from the full vote log.
//
// The core writes only presentation aggregate fields and vote
// deletions. Vote content is created and mutated exclusively by the
// originating UI. Implementations must be safe for concurrent use
// and should return *StoreError values so callers can classify
// failures.
type DocumentStore interface {
	// Ping probes connectivity. It is the reconnection probe used by
	// the connection manager and should be cheap.
	Ping(ctx context.Context) error

	// ListPresentations returns every presentation document.
	ListPresentations(ctx context.Context) ([]domain.Presentation, error)

	// GetPresentation returns one presentation by id.
	GetPresentation(ctx context.Context, id string) (domain.Presentation, error)

	// UpdateAggregates overwrites the derived fields of a
	// presentation (judge scores, judge total, spectator likes) and
	// stamps LastUpdated. No other field is touched.
	UpdateAggregates(ctx context.Context, presentationID string, agg domain.AggregateResult, updatedAt time.Time) error

	// ListVotes returns the full vote log.
	ListVotes(ctx context.Context) ([]domain.Vote, error)

	// ListVotesByPresentation returns the votes for one presentation.
	ListVotesByPresentation(ctx context.Context, presentationID string) ([]domain.Vote, error)

	// DeleteVote removes a vote document. Deduplication is the only
	// caller; deleting an absent vote is not an error.
	DeleteVote(ctx context.Context, id string) error

	// GetUserRole resolves the voter role for votes that predate
	// role denormalization onto the vote document.
	GetUserRole(ctx context.Context, userID string) (domain.Role, error)
}
