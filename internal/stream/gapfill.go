package stream

import (
	"context"
	"log/slog"
)

// fill emits a buffered live item, first backfilling from the historical source every
// height between what has been covered so far and the item.
//
// The live producer keeps buffering while a backfill runs, so the gap can grow while it is
// being filled. After each fetch the next buffered item is peeked and the loop continues
// until that item directly follows the fetched range. The historical record of a height
// supersedes a buffered item of the same height.
func (s *merge[T]) fill(ctx context.Context, item T) error {
	for {
		height := s.mux.HeightOf(item)
		if height <= s.fetched+1 {
			return s.deliver(ctx, item, SourceLive)
		}

		from, to := s.fetched+1, height
		if s.to != 0 && to > s.to {
			to = s.to
		}
		slog.Debug("Filling gap", "from", from, "to", to, "buffered", height)
		s.observer.GapDetected(from, to)
		if err := s.historical(ctx, from, to, SourceGapFill); err != nil {
			return err
		}
		if s.to != 0 && to >= s.to {
			return errReachedEnd
		}

		next, ok, err := s.peek()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		item = next
	}
}
