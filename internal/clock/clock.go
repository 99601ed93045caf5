// Package clock provides the injectable time source used by the cycle
// engine, state-machine contexts and simulated devices.
//
// Production code uses Real. Tests use testutil.ManualClock so timing
// sensitive transitions (settle durations, retry windows) are deterministic.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
//
// Thread-safety: implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t according to c.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Leap is a simulation clock that starts at a given instant and only moves
// when Leap is called. The simulator leaps it once per cycle.
type Leap struct {
	mu  sync.Mutex
	now time.Time
}

// NewLeap creates a Leap clock at start.
func NewLeap(start time.Time) *Leap {
	return &Leap{now: start}
}

// Now implements Clock.
func (l *Leap) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Leap moves the clock forward by d and returns the new time.
func (l *Leap) Leap(d time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > 0 {
		l.now = l.now.Add(d)
	}
	return l.now
}
