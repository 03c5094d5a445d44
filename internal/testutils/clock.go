// Package testutils provides deterministic test doubles for the
// scoring core: a fake clock and scheduler for time-dependent logic,
// and a flaky store wrapper for failure injection.
package testutils

import (
	"sync"
	"time"

	"github.com/confscore/scoresync/internal/ports"
)

var _ ports.Clock = (*FakeClock)(nil)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ ports.Scheduler = (*FakeScheduler)(nil)

// FakeScheduler records scheduled callbacks so tests can fire them
// deterministically instead of waiting on real timers.
type FakeScheduler struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

// NewFakeScheduler creates an empty scheduler.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

// FakeTimer is a recorded callback with its requested delay.
type FakeTimer struct {
	// Delay is the requested delay.
	Delay time.Duration

	fn      func()
	mu      *sync.Mutex
	stopped bool
	fired   bool
}

// Stop prevents the callback from firing. It reports whether the
// callback had not already fired.
func (t *FakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc records f to run after d when fired manually.
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) ports.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &FakeTimer{Delay: d, fn: f, mu: &s.mu}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor
// been stopped.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// NextDelay returns the delay of the oldest pending timer.
func (s *FakeScheduler) NextDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			return t.Delay, true
		}
	}
	return 0, false
}

// FireNext runs the oldest pending callback synchronously and
// returns its requested delay. The callback runs outside the
// scheduler lock so it may schedule new timers.
func (s *FakeScheduler) FireNext() (time.Duration, bool) {
	s.mu.Lock()
	var next *FakeTimer
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return 0, false
	}
	next.fired = true
	fn := next.fn
	delay := next.Delay
	s.mu.Unlock()

	fn()
	return delay, true
}
