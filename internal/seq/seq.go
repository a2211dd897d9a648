// Package seq provides the per-room sequence clock used to stamp
// authoritative snapshots. Sequence numbers are strictly increasing for
// the lifetime of a room, across host transfers.
package seq

import "sync/atomic"

// Clock hands out monotonically increasing sequence numbers.
type Clock struct {
	last atomic.Uint64
}

// NewClock returns a clock whose first Next() is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() uint64 {
	return c.last.Add(1)
}

// Last returns the most recently issued sequence number, or 0 if none.
func (c *Clock) Last() uint64 {
	return c.last.Load()
}

// ResumeAfter advances the clock so that every subsequent Next() is
// strictly greater than n. A new host resumes the room-wide counter this
// way; resetting to zero would make the new authority's broadcasts look
// stale to every participant.
func (c *Clock) ResumeAfter(n uint64) {
	for {
		cur := c.last.Load()
		if cur >= n {
			return
		}
		if c.last.CompareAndSwap(cur, n) {
			return
		}
	}
}
