package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/confscore/scoresync/internal/ports"
)

// Default retry envelope settings for store operations.
const (
	// DefaultRetries is how many times a failed operation is retried
	// after its first attempt.
	DefaultRetries = 2

	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = time.Second
)

// RunnerConfig controls the retry envelope. Unlike the reconnection
// backoff, the per-operation delay is fixed; escalation is the
// connection manager's job.
type RunnerConfig struct {
	// Retries is the number of retries after the first attempt.
	Retries int

	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// DefaultRunnerConfig returns the standard envelope: two retries with
// a one-second fixed delay.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Retries: DefaultRetries, Delay: DefaultRetryDelay}
}

// Runner executes store operations through a bounded retry envelope
// and feeds every outcome into the connection manager. It holds no
// connectivity state of its own; it is a consumer of the manager's
// reset capability, not an owner.
type Runner struct {
	conn    *ConnManager
	cfg     RunnerConfig
	logger  logrus.FieldLogger
	metrics ports.MetricsCollector

	// sleep is swapped out in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner bound to the given connection manager.
// A nil logger falls back to the standard logger; a nil metrics
// collector disables metrics.
func NewRunner(conn *ConnManager, cfg RunnerConfig, logger logrus.FieldLogger, metrics ports.MetricsCollector) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryDelay
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Runner{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.WithField("component", "safe_run"),
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do executes op with bounded retries and a fixed delay between
// attempts, reporting every outcome to the connection manager. It
// returns the last error once attempts are exhausted or the failure
// is classified as not retryable. Internal-corruption signatures
// trigger the manager's long-cooldown reset before the next attempt.
func Do[T any](ctx context.Context, r *Runner, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if r.conn != nil {
				r.conn.ReportSuccess()
			}
			return v, nil
		}
		lastErr = err

		code := ports.CodeOf(err)
		if r.metrics != nil {
			r.metrics.RecordCounter("store_operation_failures_total", 1,
				map[string]string{"operation": name, "status": string(code)})
		}
		if r.conn != nil {
			r.conn.ReportFailure(err)
		}
		if !ports.IsRetryable(err) {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"operation": name,
				"code":      code,
			}).Warn("store operation failed, not retrying")
			return zero, err
		}
		if attempt == r.cfg.Retries {
			break
		}
		if err := r.sleep(ctx, r.cfg.Delay); err != nil {
			return zero, err
		}
	}

	r.logger.WithError(lastErr).WithFields(logrus.Fields{
		"operation": name,
		"attempts":  r.cfg.Retries + 1,
	}).Warn("store operation exhausted retries")
	return zero, lastErr
}

// SafeRun is the never-fault variant of Do: after retries exhaust it
// returns the supplied fallback instead of an error. Callers above
// this boundary always receive a value; the failure is reported
// out of band through the log and the fallback counter. The UI-facing
// read paths depend on this to never crash-loop on transient
// connectivity.
func SafeRun[T any](ctx context.Context, r *Runner, name string, op func(context.Context) (T, error), fallback T) T {
	v, err := Do(ctx, r, name, op)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordCounter("store_operation_fallbacks_total", 1,
				map[string]string{"operation": name})
		}
		return fallback
	}
	return v
}
