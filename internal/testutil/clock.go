// Package testutil provides deterministic time sources for tests.
package testutil

import (
	"sync"
	"time"
)

// SteppingClock is a fake wall clock that advances by a fixed step on
// every reading. It makes captured I/O log delays exact instead of
// timing-dependent.
//
// Thread-safety: Now is safe for concurrent use; output scanners read
// the clock from multiple goroutines.
type SteppingClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewSteppingClock creates a clock that starts at start and advances by
// step per reading.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{t: start, step: step}
}

// Now returns the current reading and advances the clock.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.t
	c.t = c.t.Add(c.step)
	return current
}

// Set rewinds or jumps the clock to a specific instant.
func (c *SteppingClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
