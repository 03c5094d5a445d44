// Package application orchestrates the scoring core: the
// reconciliation jobs that repair and rebuild presentation aggregates
// from the authoritative vote log, and the configuration surface of
// the service.
package application

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/confscore/scoresync/internal/domain"
	"github.com/confscore/scoresync/internal/ports"
)

// DefaultMaxConcurrent bounds the per-presentation fan-out so batch
// jobs do not trip the remote store's rate limits.
const DefaultMaxConcurrent = 8

// JobReport summarizes one reconciliation run. Per-item failures
// never abort a batch; they are counted here and logged, which is the
// documented contract rather than an incidental side effect.
type JobReport struct {
	// Processed counts the records the job examined.
	Processed int

	// Updated counts successful writes (aggregate rebuilds, repairs).
	Updated int

	// Removed counts deleted duplicate votes.
	Removed int

	// Failed counts per-item failures that were skipped over.
	Failed int
}

func (r *JobReport) merge(other JobReport) {
	r.Processed += other.Processed
	r.Updated += other.Updated
	r.Removed += other.Removed
	r.Failed += other.Failed
}

// Reconciler runs the idempotent batch jobs over the vote and
// presentation collections. Every job is safe to re-run any number of
// times and safe to interleave with live vote submissions; eventual
// consistency is acceptable because aggregates are always rebuilt
// from the full vote log.
type Reconciler struct {
	store         ports.DocumentStore
	clock         ports.Clock
	logger        logrus.FieldLogger
	metrics       ports.MetricsCollector
	maxConcurrent int
	tracer        trace.Tracer
}

// ReconcilerConfig carries the collaborators and tuning of a
// Reconciler. Zero values fall back to the system clock, the standard
// logger, no metrics, and DefaultMaxConcurrent.
type ReconcilerConfig struct {
	Clock         ports.Clock
	Logger        logrus.FieldLogger
	Metrics       ports.MetricsCollector
	MaxConcurrent int
}

// NewReconciler creates a Reconciler over the given store.
func NewReconciler(store ports.DocumentStore, cfg ReconcilerConfig) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Reconciler{
		store:         store,
		clock:         cfg.Clock,
		logger:        cfg.Logger.WithField("component", "reconciler"),
		metrics:       cfg.Metrics,
		maxConcurrent: cfg.MaxConcurrent,
		tracer:        otel.Tracer("scoresync/reconciler"),
	}
}

// DeduplicateVotes enforces the one-vote-per-user-per-presentation
// invariant: votes are grouped by (userID, presentationID) and every
// group keeps only its winner — the most recently timestamped vote,
// with equal or missing timestamps broken by the lexicographically
// greater vote id. The losers are deleted. Processed counts the
// groups examined, Removed the deleted votes, Failed the deletions
// that were skipped after an error.
func (r *Reconciler) DeduplicateVotes(ctx context.Context) (JobReport, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.deduplicate_votes")
	defer span.End()

	votes, err := r.store.ListVotes(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JobReport{}, err
	}

	groups := make(map[[2]string][]domain.Vote)
	for _, v := range votes {
		key := [2]string{v.UserID, v.PresentationID}
		groups[key] = append(groups[key], v)
	}

	keys := make([][2]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var mu sync.Mutex
	var report JobReport
	report.Processed = len(keys)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			winner := group[0]
			for _, v := range group[1:] {
				if winner.SupersededBy(v) {
					winner = v
				}
			}
			var item JobReport
			for _, v := range group {
				if v.ID == winner.ID {
					continue
				}
				if err := r.store.DeleteVote(gctx, v.ID); err != nil {
					r.logger.WithError(err).WithField("vote_id", v.ID).
						Warn("failed to delete duplicate vote, continuing")
					item.Failed++
					continue
				}
				item.Removed++
			}
			r.countItems("dedupe", item)
			mu.Lock()
			report.merge(item)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	span.SetAttributes(
		attribute.Int("votes.removed", report.Removed),
		attribute.Int("items.failed", report.Failed),
	)
	r.logger.WithFields(logrus.Fields{
		"groups":  report.Processed,
		"removed": report.Removed,
		"failed":  report.Failed,
	}).Info("vote deduplication finished")
	return report, nil
}

// RecalculateAllStats rebuilds every presentation's aggregate fields
// from its votes. This is the canonical "rebuild state from the event
// log" operation and the ground-truth recovery path for any other
// bug. Running it twice with no intervening vote changes yields
// identical aggregates.
func (r *Reconciler) RecalculateAllStats(ctx context.Context) (JobReport, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.recalculate_all")
	defer span.End()

	presentations, err := r.store.ListPresentations(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JobReport{}, err
	}

	roles := newRoleCache(r.store, r.logger)

	var mu sync.Mutex
	var report JobReport
	report.Processed = len(presentations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for _, p := range presentations {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var item JobReport
			if err := r.recompute(gctx, p.ID, roles); err != nil {
				r.logger.WithError(err).WithField("presentation_id", p.ID).
					Warn("failed to recalculate presentation, continuing")
				item.Failed++
			} else {
				item.Updated++
			}
			r.countItems("recalculate", item)
			mu.Lock()
			report.merge(item)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	span.SetAttributes(
		attribute.Int("presentations.updated", report.Updated),
		attribute.Int("items.failed", report.Failed),
	)
	r.logger.WithFields(logrus.Fields{
		"presentations": report.Processed,
		"updated":       report.Updated,
		"failed":        report.Failed,
	}).Info("aggregate recalculation finished")
	return report, nil
}

// RepairMalformedScores resets the cached judge scores of every
// presentation whose cache is missing, undecodable, or contains a
// non-finite or non-positive entry. The repair is conservative: it
// clears the corrupted cache rather than guessing corrected values,
// so the next recalculation rebuilds it cleanly. A non-finite cached
// total is zeroed at the same time so the document becomes
// persistable again.
func (r *Reconciler) RepairMalformedScores(ctx context.Context) (JobReport, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.repair_malformed")
	defer span.End()

	presentations, err := r.store.ListPresentations(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JobReport{}, err
	}

	var mu sync.Mutex
	var report JobReport
	report.Processed = len(presentations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for _, p := range presentations {
		p := p
		if !p.HasMalformedScores() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			repaired := domain.AggregateResult{
				JudgeScores:    []float64{},
				JudgeTotal:     finiteOrZero(p.JudgeTotal),
				SpectatorLikes: p.SpectatorLikes,
			}
			var item JobReport
			if err := r.store.UpdateAggregates(gctx, p.ID, repaired, r.clock.Now()); err != nil {
				r.logger.WithError(err).WithField("presentation_id", p.ID).
					Warn("failed to repair presentation, continuing")
				item.Failed++
			} else {
				item.Updated++
			}
			r.countItems("repair", item)
			mu.Lock()
			report.merge(item)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	span.SetAttributes(
		attribute.Int("presentations.repaired", report.Updated),
		attribute.Int("items.failed", report.Failed),
	)
	r.logger.WithFields(logrus.Fields{
		"presentations": report.Processed,
		"repaired":      report.Updated,
		"failed":        report.Failed,
	}).Info("malformed score repair finished")
	return report, nil
}

// RecomputePresentation is the narrow single-presentation path run
// after a vote write: fetch the presentation's votes, aggregate, and
// overwrite the derived fields. Vote submission handlers never touch
// derived fields directly; they write the vote and call this.
func (r *Reconciler) RecomputePresentation(ctx context.Context, presentationID string) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.recompute_presentation",
		trace.WithAttributes(attribute.String("presentation.id", presentationID)))
	defer span.End()

	err := r.recompute(ctx, presentationID, newRoleCache(r.store, r.logger))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RunAll runs the three jobs in repair order: deduplicate first so
// recalculation sees a clean vote log, then repair corrupted caches,
// then rebuild everything.
func (r *Reconciler) RunAll(ctx context.Context) (JobReport, error) {
	var total JobReport

	dedup, err := r.DeduplicateVotes(ctx)
	total.merge(dedup)
	if err != nil {
		return total, err
	}

	repair, err := r.RepairMalformedScores(ctx)
	total.merge(repair)
	if err != nil {
		return total, err
	}

	recalc, err := r.RecalculateAllStats(ctx)
	total.merge(recalc)
	return total, err
}

func (r *Reconciler) recompute(ctx context.Context, presentationID string, roles *roleCache) error {
	votes, err := r.store.ListVotesByPresentation(ctx, presentationID)
	if err != nil {
		return err
	}
	votes = roles.resolve(ctx, votes)
	agg := domain.Aggregate(votes)
	return r.store.UpdateAggregates(ctx, presentationID, agg, r.clock.Now())
}

func (r *Reconciler) countItems(job string, item JobReport) {
	if r.metrics == nil {
		return
	}
	if n := item.Updated + item.Removed; n > 0 {
		r.metrics.RecordCounter("reconcile_items_total", float64(n),
			map[string]string{"operation": job, "status": "ok"})
	}
	if item.Failed > 0 {
		r.metrics.RecordCounter("reconcile_items_total", float64(item.Failed),
			map[string]string{"operation": job, "status": "failed"})
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// roleCache resolves voter roles for votes that predate role
// denormalization, caching user lookups for the duration of one job.
// A vote whose role cannot be resolved is dropped from aggregation
// with a warning; counting an unclassifiable vote in either bucket
// would corrupt the totals.
type roleCache struct {
	store  ports.DocumentStore
	logger logrus.FieldLogger

	mu    sync.Mutex
	roles map[string]domain.Role
}

func newRoleCache(store ports.DocumentStore, logger logrus.FieldLogger) *roleCache {
	return &roleCache{store: store, logger: logger, roles: make(map[string]domain.Role)}
}

func (c *roleCache) resolve(ctx context.Context, votes []domain.Vote) []domain.Vote {
	out := votes[:0]
	for _, v := range votes {
		if v.Role.Valid() {
			out = append(out, v)
			continue
		}
		role, ok := c.lookup(ctx, v.UserID)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"vote_id": v.ID,
				"user_id": v.UserID,
			}).Warn("could not resolve voter role, skipping vote")
			continue
		}
		v.Role = role
		out = append(out, v)
	}
	return out
}

func (c *roleCache) lookup(ctx context.Context, userID string) (domain.Role, bool) {
	c.mu.Lock()
	if role, ok := c.roles[userID]; ok {
		c.mu.Unlock()
		return role, role.Valid()
	}
	c.mu.Unlock()

	role, err := c.store.GetUserRole(ctx, userID)
	if err != nil || !role.Valid() {
		role = ""
	}

	c.mu.Lock()
	c.roles[userID] = role
	c.mu.Unlock()
	return role, role.Valid()
}
