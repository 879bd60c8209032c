package stream

import (
	"context"
	"errors"
	"sync"
)

type item struct {
	height uint64
	src    string
}

func heightOf(i item) uint64 { return i.height }

var errFetch = errors.New("fetch failed")

// fakeHistory serves every height of an unbounded chain, except the ones in skip.
type fakeHistory struct {
	mu     sync.Mutex
	calls  [][2]uint64
	skip   map[uint64]bool
	failAt uint64
	// before runs at the start of each call, outside the lock.
	before func(from, to uint64)
}

func (f *fakeHistory) fetch(ctx context.Context, from, to uint64, yield func(item) error) error {
	f.mu.Lock()
	f.calls = append(f.calls, [2]uint64{from, to})
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before(from, to)
	}
	for h := from; h <= to; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.skip[h] {
			continue
		}
		if f.failAt != 0 && h == f.failAt {
			return errFetch
		}
		if err := yield(item{height: h, src: "historical"}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeHistory) Calls() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]uint64, len(f.calls))
	copy(out, f.calls)
	return out
}

// liveHeights sends the given heights then returns nil, or ctx.Err() if cancelled first.
func liveHeights(heights ...uint64) LiveFunc[item] {
	return func(ctx context.Context, out chan<- item) error {
		for _, h := range heights {
			select {
			case out <- item{height: h, src: "live"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

// liveForever sends heights from start upwards until ctx is done.
func liveForever(start uint64) LiveFunc[item] {
	return func(ctx context.Context, out chan<- item) error {
		for h := start; ; h++ {
			select {
			case out <- item{height: h, src: "live"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func constHeight(h uint64) func(context.Context) (uint64, error) {
	return func(context.Context) (uint64, error) { return h, nil }
}

type collector struct {
	items []item
}

func (c *collector) emit(_ context.Context, it item) error {
	c.items = append(c.items, it)
	return nil
}

func (c *collector) heights() []uint64 {
	out := make([]uint64, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.height)
	}
	return out
}

func seq(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from+1)
	for h := from; h <= to; h++ {
		out = append(out, h)
	}
	return out
}
