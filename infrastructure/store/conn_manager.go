// Package store provides the document store implementations and the
// resilience layer around them: the connection state machine, the
// bounded-retry safe operation wrapper, and the resilient middleware
// that composes them with rate limiting and tracing around any
// ports.DocumentStore.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/confscore/scoresync/internal/ports"
)

// ConnState represents the connectivity state of the store client.
type ConnState int

// Connection states.
const (
	// StateOnline means the store client is believed healthy and
	// operations flow through normally.
	StateOnline ConnState = iota

	// StateReconnecting means a connectivity failure was observed
	// and a reconnection probe is scheduled with exponential backoff.
	StateReconnecting

	// StateOffline means reconnection attempts exhausted, or an
	// internal-corruption failure forced a long cooldown. A timer
	// re-arms reconnection once the cooldown expires.
	StateOffline

	// StateForcedOffline is the operator-requested offline switch.
	// It only exits via an explicit operator reconnect.
	StateForcedOffline
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	case StateForcedOffline:
		return "forced-offline"
	}
	return "unknown"
}

// Reconnection timing constants.
const (
	// MaxReconnectAttempts is how many backed-off probes run before
	// the manager gives up and enters the offline cooldown.
	MaxReconnectAttempts = 3

	// OfflineCooldown is how long the manager waits in the offline
	// state before re-arming reconnection. Internal-corruption
	// failures skip straight here because short retries historically
	// cannot fix a corrupted client.
	OfflineCooldown = 30 * time.Second

	backoffBase  = time.Second
	backoffCap   = 30 * time.Second
	probeTimeout = 10 * time.Second
)

// Backoff returns the reconnection delay for the given attempt
// number: min(2^n * 1s, 30s). Attempts below 1 are treated as 1.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return backoffCap
	}
	d := time.Duration(1<<uint(attempt)) * backoffBase
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// ProbeFunc checks whether the remote store is reachable again.
// DocumentStore.Ping is the usual probe.
type ProbeFunc func(ctx context.Context) error

// ConnStatus is a point-in-time snapshot of the state machine.
type ConnStatus struct {
	// State is the current connection state.
	State ConnState

	// Attempt is the current reconnection attempt number, valid
	// while reconnecting.
	Attempt int

	// RetryAt is when the next probe fires, valid while reconnecting.
	RetryAt time.Time

	// CooldownUntil is when the offline cooldown expires, valid
	// while offline.
	CooldownUntil time.Time
}

// ConnManagerConfig carries the injectable collaborators of the
// connection manager. Zero values fall back to the real clock, the
// real scheduler, the standard logger, and no metrics.
type ConnManagerConfig struct {
	Clock     ports.Clock
	Scheduler ports.Scheduler
	Logger    logrus.FieldLogger
	Metrics   ports.MetricsCollector
}

// ConnManager is the connection state machine. It is the single owner
// of connectivity state in the core; every other component reports
// failures and successes to it, or reads its state, and nothing else
// mutates connectivity. It is an explicit, constructible object with
// an injectable clock, scheduler, and failure classifier so tests
// never depend on wall-clock time or globals.
type ConnManager struct {
	probe   ProbeFunc
	clock   ports.Clock
	sched   ports.Scheduler
	logger  logrus.FieldLogger
	metrics ports.MetricsCollector

	cancel context.CancelFunc
	ctx    context.Context

	mu            sync.Mutex
	state         ConnState
	attempt       int
	retryAt       time.Time
	cooldownUntil time.Time
	timer         ports.Timer
	closed        bool
}

// NewConnManager creates a connection manager starting in the online
// state. The probe is invoked from scheduled reconnection attempts.
func NewConnManager(probe ProbeFunc, cfg ConnManagerConfig) *ConnManager {
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = ports.SystemScheduler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &ConnManager{
		probe:   probe,
		clock:   cfg.Clock,
		sched:   cfg.Scheduler,
		logger:  cfg.Logger.WithField("component", "conn_manager"),
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateOnline,
	}
	return m
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether operations should flow through normally.
func (m *ConnManager) Online() bool { return m.State() == StateOnline }

// Status returns a snapshot of the state machine.
func (m *ConnManager) Status() ConnStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnStatus{
		State:         m.state,
		Attempt:       m.attempt,
		RetryAt:       m.retryAt,
		CooldownUntil: m.cooldownUntil,
	}
}

// ReportFailure feeds an operation failure into the state machine.
// Internal-corruption signatures skip the short backoff and go
// straight to the offline cooldown; ordinary connectivity failures
// start the backed-off reconnection sequence; anything else (denied
// permissions, preconditions) does not affect connectivity.
func (m *ConnManager) ReportFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state == StateForcedOffline {
		return
	}
	switch {
	case ports.IsInternalCorruption(err):
		m.logger.WithError(err).Warn("internal store corruption, switching to offline mode")
		m.goOfflineLocked()
	case ports.IsConnectivity(err):
		if m.state == StateOnline {
			m.enterReconnectingLocked(1)
		}
	}
}

// ReportSuccess feeds an operation success into the state machine,
// returning it to online from any non-forced state.
func (m *ConnManager) ReportSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state == StateForcedOffline {
		return
	}
	m.goOnlineLocked()
}

// ForceOffline is the operator-requested offline switch. Probes and
// failure reports are ignored until ForceReconnect.
func (m *ConnManager) ForceOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.stopTimerLocked()
	m.setStateLocked(StateForcedOffline)
	m.attempt = 0
}

// ForceReconnect is the operator-requested exit from forced-offline.
// It schedules an immediate reconnection probe.
func (m *ConnManager) ForceReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateForcedOffline {
		return
	}
	m.setStateLocked(StateReconnecting)
	m.attempt = 1
	m.retryAt = m.clock.Now()
	m.armLocked(0)
}

// Close cancels any scheduled probe and stops the manager.
func (m *ConnManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.stopTimerLocked()
	m.cancel()
}

// goOnlineLocked transitions to online and cancels pending probes.
func (m *ConnManager) goOnlineLocked() {
	if m.state != StateOnline {
		m.logger.Info("store connection restored")
	}
	m.stopTimerLocked()
	m.setStateLocked(StateOnline)
	m.attempt = 0
	m.retryAt = time.Time{}
	m.cooldownUntil = time.Time{}
}

// goOfflineLocked enters the long cooldown and arms the timer that
// re-starts reconnection once the cooldown expires.
func (m *ConnManager) goOfflineLocked() {
	m.setStateLocked(StateOffline)
	m.attempt = 0
	m.cooldownUntil = m.clock.Now().Add(OfflineCooldown)
	if m.metrics != nil {
		m.metrics.RecordCounter("offline_cooldowns_total", 1, nil)
	}
	m.logger.WithField("cooldown_until", m.cooldownUntil).Warn("store offline, cooling down")
	m.armLocked(OfflineCooldown)
}

// enterReconnectingLocked schedules probe number attempt after the
// exponential backoff delay.
func (m *ConnManager) enterReconnectingLocked(attempt int) {
	delay := Backoff(attempt)
	m.setStateLocked(StateReconnecting)
	m.attempt = attempt
	m.retryAt = m.clock.Now().Add(delay)
	if m.metrics != nil {
		m.metrics.RecordCounter("reconnect_attempts_total", 1, nil)
	}
	m.logger.WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay,
	}).Info("scheduling reconnection probe")
	m.armLocked(delay)
}

// armLocked replaces the pending timer with a new one.
func (m *ConnManager) armLocked(delay time.Duration) {
	m.stopTimerLocked()
	m.timer = m.sched.AfterFunc(delay, m.onTimer)
}

func (m *ConnManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnManager) setStateLocked(s ConnState) {
	m.state = s
	if m.metrics != nil {
		m.metrics.RecordGauge("connection_state", float64(s), map[string]string{"state": s.String()})
	}
}

// onTimer fires when a scheduled delay elapses: either the offline
// cooldown expired (re-arm reconnection from attempt 1) or a
// reconnection probe is due.
func (m *ConnManager) onTimer() {
	m.mu.Lock()
	if m.closed || m.state == StateForcedOffline || m.state == StateOnline {
		m.mu.Unlock()
		return
	}
	if m.state == StateOffline {
		m.enterReconnectingLocked(1)
		m.mu.Unlock()
		return
	}
	attempt := m.attempt
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, probeTimeout)
	err := m.probe(ctx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateReconnecting || m.attempt != attempt {
		return
	}
	switch {
	case err == nil:
		m.goOnlineLocked()
	case ports.IsInternalCorruption(err):
		m.logger.WithError(err).Warn("internal store corruption during probe")
		m.goOfflineLocked()
	case attempt < MaxReconnectAttempts:
		m.enterReconnectingLocked(attempt + 1)
	default:
		m.goOfflineLocked()
	}
}
