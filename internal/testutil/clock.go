package testutil

import (
	"sync"
	"time"
)

// FixedClock returns a predetermined instant from every call, advancing by
// a fixed step per call when one is configured.
//
// Used to make lineage stamps and audit event timestamps deterministic for
// golden comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFixedClock creates a clock frozen at start.
func NewFixedClock(start time.Time) *FixedClock {
	return &FixedClock{now: start}
}

// NewSteppingClock creates a clock that advances by step on every call to
// Now, starting at start.
func NewSteppingClock(start time.Time, step time.Duration) *FixedClock {
	return &FixedClock{now: start, step: step}
}

// Now returns the clock's current instant, then advances it by the step.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}
