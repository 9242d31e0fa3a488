package clock

import (
	"sync"
	"time"
)

// Clock abstracts the current time so cookie expiry can be tested
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// NewSystemClock creates a clock backed by time.Now
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current system time
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixtureClock is a controllable clock for tests.
// It is safe for concurrent use.
type FixtureClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFixtureClock creates a fixture clock starting at start, or time.Now when start is zero
func NewFixtureClock(start time.Time) *FixtureClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &FixtureClock{current: start}
}

// Now returns the fixture time
func (c *FixtureClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to t
func (c *FixtureClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the clock forward by d
func (c *FixtureClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
