// Command reconcile runs the reconciliation jobs against the
// configured document store: duplicate-vote pruning, full aggregate
// recalculation, and malformed-score repair.
//
// Usage:
//
//	reconcile -job all -config config.yaml
//	reconcile -job dedupe -store badger -dir ./data
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/confscore/scoresync/infrastructure/middleware"
	"github.com/confscore/scoresync/infrastructure/store"
	"github.com/confscore/scoresync/internal/application"
	"github.com/confscore/scoresync/internal/ports"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("reconciliation failed")
	}
}

func run() error {
	job := flag.String("job", "all", "job to run: dedupe, recalc, repair, or all")
	configPath := flag.String("config", "", "path to YAML configuration")
	backend := flag.String("store", "", "store backend override: memory or badger")
	dir := flag.String("dir", "", "badger database directory override")
	flag.Parse()

	// Best-effort .env load; absence is fine.
	_ = godotenv.Load()

	cfg := application.DefaultConfig()
	if *configPath == "" {
		*configPath = os.Getenv("SCORESYNC_CONFIG")
	}
	if *configPath != "" {
		loaded, err := application.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *dir != "" {
		cfg.Store.Dir = *dir
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	backing, cleanup, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	conn := store.NewConnManager(backing.Ping, store.ConnManagerConfig{
		Logger:  logger,
		Metrics: metrics,
	})
	defer conn.Close()

	runner := store.NewRunner(conn, store.RunnerConfig{
		Retries: cfg.Retry.Retries,
		Delay:   cfg.Retry.Delay.Std(),
	}, logger, metrics)

	resilient := store.NewResilientStore(backing, conn, runner, store.ResilientConfig{
		RateLimit: rate.Limit(cfg.Store.RateLimit),
		Burst:     cfg.Store.Burst,
		Metrics:   metrics,
	})

	reconciler := application.NewReconciler(resilient, application.ReconcilerConfig{
		Logger:        logger,
		Metrics:       metrics,
		MaxConcurrent: cfg.Reconcile.MaxConcurrent,
	})

	report, err := runJob(ctx, reconciler, *job)
	logger.WithFields(logrus.Fields{
		"job":       *job,
		"processed": report.Processed,
		"updated":   report.Updated,
		"removed":   report.Removed,
		"failed":    report.Failed,
	}).Info("reconciliation report")
	return err
}

func runJob(ctx context.Context, r *application.Reconciler, job string) (application.JobReport, error) {
	switch job {
	case "dedupe":
		return r.DeduplicateVotes(ctx)
	case "recalc":
		return r.RecalculateAllStats(ctx)
	case "repair":
		return r.RepairMalformedScores(ctx)
	case "all":
		return r.RunAll(ctx)
	default:
		return application.JobReport{}, fmt.Errorf("unknown job %q", job)
	}
}

func openStore(cfg application.StoreConfig, logger logrus.FieldLogger) (ports.DocumentStore, func(), error) {
	switch cfg.Backend {
	case "badger":
		s, err := store.NewBadgerStore(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "memory", "":
		return store.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
