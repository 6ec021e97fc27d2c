package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every timeline event of a run is
// stamped with a strictly increasing seq from it, so events recorded by
// concurrently testing pilots still have one total order.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
