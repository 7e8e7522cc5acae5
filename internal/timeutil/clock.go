// Package timeutil provides a testable clock for stage timings.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source used to measure pipeline stages.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// MockClock is a manually controlled clock for testing. With a non-zero
// step, every call to Now advances the clock by that step after reading it,
// so consecutive stage measurements come out as exact multiples of step.
type MockClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// NewSteppingClock creates a MockClock that advances by step on every Now.
func NewSteppingClock(t time.Time, step time.Duration) *MockClock {
	return &MockClock{now: t, step: step}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Since returns the duration between t and the current mocked time. It does
// not advance a stepping clock.
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Stopwatch measures elapsed time on a Clock.
type Stopwatch struct {
	clock Clock
	start time.Time
}

// StartStopwatch starts a stopwatch. A nil clock means RealClock.
func StartStopwatch(c Clock) Stopwatch {
	if c == nil {
		c = RealClock{}
	}
	return Stopwatch{clock: c, start: c.Now()}
}

// Elapsed returns the time since the stopwatch started.
func (s Stopwatch) Elapsed() time.Duration {
	return s.clock.Since(s.start)
}

// Millis converts d to fractional milliseconds, the unit experiment logs use.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
