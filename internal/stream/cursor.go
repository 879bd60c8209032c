package stream

import "fmt"

// Cursor is the height watermark of a merge: the last height handed to the output.
// It is owned by a single goroutine and needs no locking.
type Cursor struct {
	last uint64
}

// NewCursor returns a cursor positioned at start. Use from-1 so that from is the next expected height.
func NewCursor(start uint64) *Cursor {
	return &Cursor{last: start}
}

// Last returns the last emitted height.
func (c *Cursor) Last() uint64 {
	return c.last
}

// Next returns the height expected after Last.
func (c *Cursor) Next() uint64 {
	return c.last + 1
}

// Advance moves the cursor to height, which must be above the current position.
func (c *Cursor) Advance(height uint64) error {
	if height <= c.last {
		return fmt.Errorf("cursor cannot move from %d to %d", c.last, height)
	}
	c.last = height
	return nil
}
