package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
)

// Key prefixes for the three collections.
const (
	presentationPrefix = "presentation:"
	votePrefix         = "vote:"
	userPrefix         = "user:"
)

var _ ports.DocumentStore = (*BadgerStore)(nil)

// BadgerStore is an embedded persistent DocumentStore backed by
// Badger. Documents are JSON-encoded under per-collection key
// prefixes. It serves local deployments and durable test fixtures;
// remote deployments plug their own DocumentStore behind the same
// port.
type BadgerStore struct {
	db     *badger.DB
	logger logrus.FieldLogger
}

// NewBadgerStore opens (or creates) a Badger database at path.
func NewBadgerStore(path string, logger logrus.FieldLogger) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's internal logging is too chatty.
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	logger.WithField("path", path).Info("badger store opened")
	return &BadgerStore{db: db, logger: logger}, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

// Ping verifies the database is still usable.
func (s *BadgerStore) Ping(context.Context) error {
	err := s.db.View(func(*badger.Txn) error { return nil })
	if err != nil {
		return mapBadgerErr("ping", err)
	}
	return nil
}

// PutPresentation inserts or replaces a presentation document.
func (s *BadgerStore) PutPresentation(p domain.Presentation) error {
	if p.ID == "" {
		return domain.ErrEmptyID
	}
	data, err := encodePresentation(p)
	if err != nil {
		return fmt.Errorf("marshal presentation: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(presentationPrefix+p.ID), data)
	})
	return mapBadgerErr("presentations.put", err)
}

// PutVote inserts or replaces a vote document, assigning a fresh UUID
// when the vote has no id.
func (s *BadgerStore) PutVote(v domain.Vote) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	data, err := encodeVote(v)
	if err != nil {
		return "", fmt.Errorf("marshal vote: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(votePrefix+v.ID), data)
	})
	if err != nil {
		return "", mapBadgerErr("votes.put", err)
	}
	return v.ID, nil
}

// PutUser records a user's role for role lookups.
func (s *BadgerStore) PutUser(userID string, role domain.Role) error {
	if userID == "" {
		return domain.ErrEmptyID
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(userPrefix+userID), []byte(role))
	})
	return mapBadgerErr("users.put", err)
}

// ListPresentations returns every presentation sorted by id.
func (s *BadgerStore) ListPresentations(ctx context.Context) ([]domain.Presentation, error) {
	var out []domain.Presentation
	err := s.scanPrefix(ctx, presentationPrefix, func(val []byte) error {
		p, err := decodePresentation(val)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr("presentations.list", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPresentation returns one presentation by id.
func (s *BadgerStore) GetPresentation(_ context.Context, id string) (domain.Presentation, error) {
	var p domain.Presentation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(presentationPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			p, derr = decodePresentation(val)
			return derr
		})
	})
	if err != nil {
		return domain.Presentation{}, mapBadgerErr("presentations.get", err)
	}
	return p, nil
}

// UpdateAggregates overwrites only the derived fields of a
// presentation, leaving display fields untouched.
func (s *BadgerStore) UpdateAggregates(_ context.Context, presentationID string, agg domain.AggregateResult, updatedAt time.Time) error {
	key := []byte(presentationPrefix + presentationID)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var p domain.Presentation
		if err := item.Value(func(val []byte) error {
			var derr error
			p, derr = decodePresentation(val)
			return derr
		}); err != nil {
			return err
		}
		p.JudgeScores = append([]float64{}, agg.JudgeScores...)
		p.JudgeTotal = agg.JudgeTotal
		p.SpectatorLikes = agg.SpectatorLikes
		p.LastUpdated = updatedAt
		data, err := encodePresentation(p)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	return mapBadgerErr("presentations.update", err)
}

// ListVotes returns the full vote log sorted by id.
func (s *BadgerStore) ListVotes(ctx context.Context) ([]domain.Vote, error) {
	votes, err := s.listVotes(ctx, "")
	if err != nil {
		return nil, mapBadgerErr("votes.list", err)
	}
	return votes, nil
}

// ListVotesByPresentation returns one presentation's votes sorted by id.
func (s *BadgerStore) ListVotesByPresentation(ctx context.Context, presentationID string) ([]domain.Vote, error) {
	votes, err := s.listVotes(ctx, presentationID)
	if err != nil {
		return nil, mapBadgerErr("votes.list_by_presentation", err)
	}
	return votes, nil
}

func (s *BadgerStore) listVotes(ctx context.Context, presentationID string) ([]domain.Vote, error) {
	var out []domain.Vote
	err := s.scanPrefix(ctx, votePrefix, func(val []byte) error {
		v, err := decodeVote(val)
		if err != nil {
			return err
		}
		if presentationID == "" || v.PresentationID == presentationID {
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteVote removes a vote; deleting an absent vote is a no-op.
func (s *BadgerStore) DeleteVote(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(votePrefix + id))
	})
	return mapBadgerErr("votes.delete", err)
}

// GetUserRole resolves a voter's role from the users collection.
func (s *BadgerStore) GetUserRole(_ context.Context, userID string) (domain.Role, error) {
	var role domain.Role
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			role = domain.Role(string(val))
			return nil
		})
	})
	if err != nil {
		return "", mapBadgerErr("users.get", err)
	}
	return role, nil
}

// scanPrefix iterates every value under a key prefix, honoring
// context cancellation between items.
func (s *BadgerStore) scanPrefix(ctx context.Context, prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(func(val []byte) error {
				return fn(append([]byte(nil), val...))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func isDecodeErr(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// mapBadgerErr wraps a badger failure in the store error taxonomy.
func mapBadgerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return ports.NewStoreError(ports.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled):
		return ports.NewStoreError(ports.CodeCanceled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return ports.NewStoreError(ports.CodeDeadlineExceeded, op, err)
	case isDecodeErr(err):
		// Undecodable documents are a data-integrity fault for the
		// repair job, not a connectivity problem.
		return ports.NewStoreError(ports.CodeFailedPrecondition, op, err)
	default:
		return ports.NewStoreError(ports.CodeUnavailable, op, err)
	}
}
