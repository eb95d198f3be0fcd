package testutil

import (
	"sync"
	"time"

	"rack-go/internal/rack"
)

// StubClock is a rack.Clock under test control. With a non-zero step every
// call to Now advances it, so consecutive commits get distinct timestamps.
// Safe for concurrent use.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

var _ rack.Clock = (*StubClock)(nil)

// NewStubClock creates a StubClock that stays at t until advanced.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// NewTickingClock creates a StubClock starting at t that moves forward by
// step after each reading.
func NewTickingClock(t time.Time, step time.Duration) *StubClock {
	return &StubClock{now: t, step: step}
}

// FixedClock returns a StubClock set to 2025-03-02 08:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC))
}

// Now returns the current reading, then applies the step.
func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Peek returns the next reading without advancing a ticking clock.
func (c *StubClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
