package testutil

import "sync"

// SeqClock hands out global sequence indices for hand-built logs.
//
// Safe for concurrent use. Indices start at Base+Step and grow by Step, so a
// gap between indices can be simulated with Step > 1.
type SeqClock struct {
	mu   sync.Mutex
	next int64
	base int64
	step int64
}

// NewSeqClock returns a clock whose first index is 1.
func NewSeqClock() *SeqClock {
	return NewSeqClockFrom(0, 1)
}

// NewSeqClockFrom returns a clock whose first index is base+step.
func NewSeqClockFrom(base, step int64) *SeqClock {
	if step < 1 {
		step = 1
	}
	return &SeqClock{next: base, base: base, step: step}
}

// Next advances the clock and returns the new index.
func (c *SeqClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next += c.step
	return c.next
}

// Current returns the last index handed out, or the base if none was.
func (c *SeqClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Reset rewinds the clock to its base.
func (c *SeqClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.base
}
