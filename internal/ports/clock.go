package ports

import "time"

// Clock abstracts wall-clock access so backoff and cooldown logic can
// be driven by a fake clock in tests instead of real time.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the real time package.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Timer is a handle to a scheduled callback. Stop reports whether the
// callback was prevented from running.
type Timer interface {
	Stop() bool
}

// Scheduler schedules callbacks to run after a delay. It replaces
// free-running background timers so reconnection re-arms can be
// cancelled, and fired manually in tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler implements Scheduler with time.AfterFunc.
type SystemScheduler struct{}

// AfterFunc schedules f on a real timer.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
