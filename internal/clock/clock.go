// Package clock abstracts time so that window arithmetic can run against
// wall-clock time in production and a manually driven clock in tests and
// simulations.
package clock

import "time"

// Clock is the time source used by stores and limiters.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock delegates to the standard time package.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

// NowMillis returns c.Now() as unix epoch milliseconds, the unit window
// boundaries are stored in.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// OrReal returns c, or a RealClock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return NewRealClock()
	}
	return c
}
