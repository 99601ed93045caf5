package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the start time of a ManualClock created with NewManualClock.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a clock.Clock that only moves when told to.
//
// State-machine tests advance it past settle durations and retry windows
// instead of sleeping, which keeps scenario traces identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock set to DefaultEpoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: DefaultEpoch}
}

// NewManualClockAt creates a clock set to t.
func NewManualClockAt(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored so
// the clock stays monotonic.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t. Used to jump to a time of day in scheduler tests.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset returns the clock to DefaultEpoch.
func (c *ManualClock) Reset() {
	c.Set(DefaultEpoch)
}
