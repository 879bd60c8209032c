package extractor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/manifest-network/eventstream/internal/classify"
	"github.com/manifest-network/eventstream/internal/client"
	"github.com/manifest-network/eventstream/internal/models"
	"github.com/manifest-network/eventstream/internal/stream"
)

const (
	newBlockQuery       = "tm.event='NewBlock'"
	newBlockHeaderQuery = "tm.event='NewBlockHeader'"
)

// LiveHeader takes the header straight from a NewBlockHeader push.
func LiveHeader(_ context.Context, msg classify.Message) (*models.BlockHeader, bool, error) {
	if msg.Header == nil {
		return nil, false, nil
	}
	return msg.Header, true, nil
}

// LiveBlock re-fetches the block announced by a NewBlock push together with its results.
// A height the node cannot serve yet is skipped; the next announced height backfills it.
func LiveBlock(f Fetcher, opts BlockOptions) stream.ConvertFunc[*models.StreamBlock] {
	return func(ctx context.Context, msg classify.Message) (*models.StreamBlock, bool, error) {
		if msg.Block == nil {
			return nil, false, nil
		}
		// Matches the historical pages; the gap filler covers the hole this leaves.
		if opts.SkipEmpty && len(msg.Block.Data.Txs) == 0 {
			return nil, false, nil
		}
		height := msg.Height()
		block, err := fetchBlock(ctx, f, height, opts.Filter, false)
		if errors.Is(err, client.ErrNotFound) {
			slog.Warn("Live block not available yet, deferring to backfill", "height", height, "error", err)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return block, true, nil
	}
}
