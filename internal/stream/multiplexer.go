// Package stream merges a historical and a live block source into one ordered,
// gap-free and deduplicated sequence.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultBufferSize is the live buffer capacity: 10,000 blocks at a 6s block time is over 16 hours.
const DefaultBufferSize = 10_000

// HistoricalFunc yields every item of [from, to] in ascending height order.
// It yields nothing when from > to. An error returned by yield must be returned unchanged.
type HistoricalFunc[T any] func(ctx context.Context, from, to uint64, yield func(T) error) error

// LiveFunc produces items as they are announced until ctx is done or it fails.
// Sends to out must also select on ctx.Done().
type LiveFunc[T any] func(ctx context.Context, out chan<- T) error

// EmitFunc hands an item to the consumer. A non-nil error terminates the merge.
type EmitFunc[T any] func(ctx context.Context, item T) error

// Range is a requested height range. Zero means unset: From defaults to 1, an unset To never ends.
type Range struct {
	From uint64
	To   uint64
}

// Validate reports whether the range is well formed.
func (r Range) Validate() error {
	if r.To != 0 && r.From > r.To {
		return fmt.Errorf("invalid range: from %d is above to %d", r.From, r.To)
	}
	return nil
}

func (r Range) String() string {
	to := "∞"
	if r.To != 0 {
		to = fmt.Sprint(r.To)
	}
	return fmt.Sprintf("[%d, %s]", max(r.From, 1), to)
}

// Plan is how a merge splits its range between the historical and live sources.
type Plan struct {
	Current        uint64
	From           uint64
	HistoricalTo   uint64
	NeedHistorical bool
	NeedLive       bool
}

// Multiplexer merges a historical and a live source of T.
type Multiplexer[T any] struct {
	CurrentHeight func(ctx context.Context) (uint64, error)
	HeightOf      func(T) uint64
	Historical    HistoricalFunc[T]
	Live          LiveFunc[T]

	// BufferSize is the live buffer capacity, DefaultBufferSize when zero.
	BufferSize int
	Observer   Observer
	// OnPlan, when set, is called once the split point is known and before anything is emitted.
	OnPlan func(Plan)
}

// PlanFor computes the historical/live split for r given the chain's current height.
// An empty range, with From above To, needs neither source.
func PlanFor(r Range, current uint64) Plan {
	p := Plan{
		Current:        current,
		From:           max(r.From, 1),
		NeedLive:       r.To == 0 || r.To > current,
		NeedHistorical: r.From == 0 || r.From <= current,
	}
	p.HistoricalTo = current
	if r.To != 0 && r.To < current {
		p.HistoricalTo = r.To
	}
	if r.Validate() != nil {
		p.NeedLive, p.NeedHistorical = false, false
	}
	return p
}

// Merge emits the items of r in strictly increasing height order. It returns nil once the
// upper bound of r has been emitted, or at once when r is empty, and otherwise runs until
// ctx is done or a source fails.
func (m *Multiplexer[T]) Merge(ctx context.Context, r Range, emit EmitFunc[T]) error {
	current, err := m.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current height: %w", err)
	}

	plan := PlanFor(r, current)
	slog.Debug("Historical/live split", "range", r.String(), "current", current,
		"needHistorical", plan.NeedHistorical, "needLive", plan.NeedLive)
	if m.OnPlan != nil {
		m.OnPlan(plan)
	}
	if !plan.NeedHistorical && !plan.NeedLive {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &merge[T]{
		mux:      m,
		emit:     emit,
		to:       r.To,
		cursor:   NewCursor(plan.From - 1),
		observer: observerOrNop(m.Observer),
	}
	s.fetched = s.cursor.Last()

	if plan.NeedLive {
		size := m.BufferSize
		if size <= 0 {
			size = DefaultBufferSize
		}
		buffer := make(chan T, size)
		s.buffer = buffer
		s.failed = make(chan struct{})
		histCtx, stopHistorical := context.WithCancel(ctx)
		defer stopHistorical()
		s.histCtx = histCtx
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.liveErr = m.Live(ctx, buffer)
			close(buffer)
			// A live failure cuts the initial historical phase short.
			if s.liveErr != nil && ctx.Err() == nil {
				close(s.failed)
				stopHistorical()
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	err = s.run(ctx, plan)
	if errors.Is(err, errReachedEnd) {
		return nil
	}
	return err
}

// merge is the state of one Merge call.
type merge[T any] struct {
	mux      *Multiplexer[T]
	emit     EmitFunc[T]
	to       uint64
	cursor   *Cursor
	observer Observer

	// fetched is the highest height covered by the historical source, including
	// heights the source chose to omit.
	fetched uint64

	buffer  chan T
	liveErr error
	// failed is closed once the live source has returned an error.
	failed chan struct{}
	// histCtx scopes the initial historical phase and is cancelled by a live failure.
	histCtx context.Context
}

func (s *merge[T]) run(ctx context.Context, plan Plan) error {
	if plan.NeedHistorical {
		histCtx := ctx
		if s.histCtx != nil {
			histCtx = s.histCtx
		}
		if err := s.historical(histCtx, plan.From, plan.HistoricalTo, SourceHistorical); err != nil {
			if !errors.Is(err, errReachedEnd) && s.liveFailed() {
				return s.liveFailure()
			}
			return err
		}
	}
	if !plan.NeedLive {
		return nil
	}

	for {
		item, err := s.receive(ctx)
		if err != nil {
			return err
		}
		if err := s.fill(ctx, item); err != nil {
			return err
		}
	}
}

func (s *merge[T]) historical(ctx context.Context, from, to uint64, src Source) error {
	err := s.mux.Historical(ctx, from, to, func(item T) error {
		return s.deliver(ctx, item, src)
	})
	if err != nil {
		if errors.Is(err, errReachedEnd) {
			return err
		}
		return fmt.Errorf("failed to fetch historical range [%d, %d]: %w", from, to, err)
	}
	if to > s.fetched {
		s.fetched = to
	}
	return nil
}

// deliver emits item unless it is at or below the cursor, then advances the cursor.
func (s *merge[T]) deliver(ctx context.Context, item T, src Source) error {
	height := s.mux.HeightOf(item)
	if height <= s.cursor.Last() {
		s.observer.DuplicateDropped(height)
		return nil
	}
	if s.to != 0 && height > s.to {
		return errReachedEnd
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.emit(ctx, item); err != nil {
		return fmt.Errorf("failed to emit height %d: %w", height, err)
	}
	if err := s.cursor.Advance(height); err != nil {
		return err
	}
	if height > s.fetched {
		s.fetched = height
	}
	s.observer.Emitted(height, src)
	if s.to != 0 && height >= s.to {
		return errReachedEnd
	}
	return nil
}

// receive blocks for the next buffered live item.
func (s *merge[T]) receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case item, ok := <-s.buffer:
		if !ok {
			return zero, s.liveFailure()
		}
		return item, nil
	}
}

// peek returns the next buffered live item if one is immediately available.
func (s *merge[T]) peek() (T, bool, error) {
	var zero T
	select {
	case item, ok := <-s.buffer:
		if !ok {
			return zero, false, s.liveFailure()
		}
		return item, true, nil
	default:
		return zero, false, nil
	}
}

func (s *merge[T]) liveFailed() bool {
	if s.failed == nil {
		return false
	}
	select {
	case <-s.failed:
		return true
	default:
		return false
	}
}

func (s *merge[T]) liveFailure() error {
	if s.liveErr == nil {
		return ErrLiveSourceClosed
	}
	return fmt.Errorf("live source failed: %w", s.liveErr)
}
