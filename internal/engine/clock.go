package engine

import "sync/atomic"

// Clock issues write ids. Ids are strictly increasing, and the write tree
// relies on that: a later write always layers over an earlier one.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The engine only calls Next from its loop.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at start. Used after restoring
// pending writes so new ids sort after the restored ones.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next id.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last id issued without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
