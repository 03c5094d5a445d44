package store

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
)

// Default pacing for remote store calls.
const (
	// DefaultRateLimit is the sustained request rate.
	DefaultRateLimit rate.Limit = 50

	// DefaultBurst allows temporary spikes above the sustained rate.
	DefaultBurst = 25
)

var _ ports.DocumentStore = (*ResilientStore)(nil)

// ResilientStore wraps any DocumentStore with the full resilience
// stack: token-bucket pacing, the bounded retry envelope, connection
// manager notification, offline fail-fast, and per-operation tracing.
// Errors it returns are already retried and classified; callers that
// must never fault layer SafeRun on top.
type ResilientStore struct {
	next    ports.DocumentStore
	conn    *ConnManager
	runner  *Runner
	limiter *rate.Limiter
	tracer  trace.Tracer
	metrics ports.MetricsCollector
}

// ResilientConfig tunes the resilience stack. Zero values fall back
// to the defaults above.
type ResilientConfig struct {
	// Runner is the retry envelope configuration.
	Runner RunnerConfig

	// RateLimit is the sustained request rate against the store.
	RateLimit rate.Limit

	// Burst is the token bucket size.
	Burst int

	// Metrics receives latency and pacing signals. Optional.
	Metrics ports.MetricsCollector
}

// NewResilientStore wraps next with the resilience stack, reporting
// outcomes to the given connection manager.
func NewResilientStore(next ports.DocumentStore, conn *ConnManager, runner *Runner, cfg ResilientConfig) *ResilientStore {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &ResilientStore{
		next:    next,
		conn:    conn,
		runner:  runner,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		tracer:  otel.Tracer("scoresync/store"),
		metrics: cfg.Metrics,
	}
}

// resilient runs one store call through pacing, offline gating,
// tracing, and the retry envelope.
func resilient[T any](ctx context.Context, s *ResilientStore, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	// Forced and cooled-down offline states fail fast with a
	// distinct status instead of burning retries.
	switch s.conn.State() {
	case StateForcedOffline, StateOffline:
		return zero, ports.NewStoreError(ports.CodeUnavailable, op, ports.ErrStoreOffline)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		// Caller cancellation is not a store timeout.
		code := ports.CodeDeadlineExceeded
		if errors.Is(err, context.Canceled) {
			code = ports.CodeCanceled
		}
		return zero, ports.NewStoreError(code, op, err)
	}

	ctx, span := s.tracer.Start(ctx, "store."+op,
		trace.WithAttributes(attribute.String("store.operation", op)))
	defer span.End()

	start := time.Now()
	v, err := Do(ctx, s.runner, op, fn)
	if s.metrics != nil {
		s.metrics.RecordLatency(op, time.Since(start), map[string]string{"operation": op})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ports.CodeOf(err) == ports.CodeResourceExhausted {
			s.slowDown(op)
		}
		return zero, err
	}
	span.SetStatus(codes.Ok, "")
	return v, nil
}

// slowDown reacts to a resource-exhausted signal by draining the
// token bucket, which forces subsequent calls to pace down to the
// sustained rate.
func (s *ResilientStore) slowDown(op string) {
	s.limiter.ReserveN(time.Now(), s.limiter.Burst())
	if s.metrics != nil {
		s.metrics.RecordCounter("store_slowdowns_total", 1, map[string]string{"operation": op})
	}
}

// Ping probes the wrapped store directly; it is the connection
// manager's probe and must bypass the offline gate.
func (s *ResilientStore) Ping(ctx context.Context) error { return s.next.Ping(ctx) }

// ListPresentations lists presentations through the resilience stack.
func (s *ResilientStore) ListPresentations(ctx context.Context) ([]domain.Presentation, error) {
	return resilient(ctx, s, "presentations.list", s.next.ListPresentations)
}

// GetPresentation fetches one presentation through the resilience stack.
func (s *ResilientStore) GetPresentation(ctx context.Context, id string) (domain.Presentation, error) {
	return resilient(ctx, s, "presentations.get", func(ctx context.Context) (domain.Presentation, error) {
		return s.next.GetPresentation(ctx, id)
	})
}

// UpdateAggregates writes derived fields through the resilience stack.
func (s *ResilientStore) UpdateAggregates(ctx context.Context, presentationID string, agg domain.AggregateResult, updatedAt time.Time) error {
	_, err := resilient(ctx, s, "presentations.update", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.UpdateAggregates(ctx, presentationID, agg, updatedAt)
	})
	return err
}

// ListVotes lists the vote log through the resilience stack.
func (s *ResilientStore) ListVotes(ctx context.Context) ([]domain.Vote, error) {
	return resilient(ctx, s, "votes.list", s.next.ListVotes)
}

// ListVotesByPresentation lists one presentation's votes through the
// resilience stack.
func (s *ResilientStore) ListVotesByPresentation(ctx context.Context, presentationID string) ([]domain.Vote, error) {
	return resilient(ctx, s, "votes.list_by_presentation", func(ctx context.Context) ([]domain.Vote, error) {
		return s.next.ListVotesByPresentation(ctx, presentationID)
	})
}

// DeleteVote deletes a vote through the resilience stack.
func (s *ResilientStore) DeleteVote(ctx context.Context, id string) error {
	_, err := resilient(ctx, s, "votes.delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.DeleteVote(ctx, id)
	})
	return err
}

// GetUserRole resolves a role through the resilience stack.
func (s *ResilientStore) GetUserRole(ctx context.Context, userID string) (domain.Role, error) {
	return resilient(ctx, s, "users.get", func(ctx context.Context) (domain.Role, error) {
		return s.next.GetUserRole(ctx, userID)
	})
}
