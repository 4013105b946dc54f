// Package platform carries the small timing and scheduling primitives the
// workers are built on: a monotonic millisecond clock, a condition variable
// with absolute-deadline waits, and thread-priority elevation.
package platform

import "time"

// Clock is a monotonic millisecond clock zeroed at creation.
type Clock struct {
	start time.Time
}

// NewClock starts a clock at zero.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Now returns elapsed milliseconds since the clock was created.
func (c *Clock) Now() float64 {
	return float64(time.Since(c.start)) / float64(time.Millisecond)
}
