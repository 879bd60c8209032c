package extractor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/manifest-network/eventstream/internal/models"
	"github.com/manifest-network/eventstream/internal/stream"
)

// BlockOptions controls how full blocks are assembled.
type BlockOptions struct {
	// SkipEmpty drops blocks without transactions.
	SkipEmpty      bool
	Filter         Filter
	MaxConcurrency uint
}

// HeaderPages fetches one page of block headers.
func HeaderPages(f Fetcher) stream.PageFunc[*models.BlockHeader] {
	return func(ctx context.Context, minHeight, maxHeight uint64) ([]*models.BlockHeader, error) {
		metas, err := f.BlocksMeta(ctx, minHeight, maxHeight)
		if err != nil {
			return nil, err
		}
		headers := make([]*models.BlockHeader, 0, len(metas))
		for i := range metas {
			headers = append(headers, &metas[i].Header)
		}
		return headers, nil
	}
}

// BlockPages fetches one page of full blocks. Block metadata selects the heights, which are
// then assembled concurrently and returned in height order.
func BlockPages(f Fetcher, opts BlockOptions) stream.PageFunc[*models.StreamBlock] {
	return func(ctx context.Context, minHeight, maxHeight uint64) ([]*models.StreamBlock, error) {
		metas, err := f.BlocksMeta(ctx, minHeight, maxHeight)
		if err != nil {
			return nil, err
		}

		var heights []uint64
		for _, meta := range metas {
			if opts.SkipEmpty && meta.NumTxs == 0 {
				continue
			}
			heights = append(heights, uint64(meta.Header.Height))
		}
		if skipped := len(metas) - len(heights); skipped > 0 {
			slog.Debug("Skipping empty blocks", "range", fmt.Sprintf("[%d, %d]", minHeight, maxHeight), "count", skipped)
		}

		blocks := make([]*models.StreamBlock, len(heights))
		eg, egCtx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, max(opts.MaxConcurrency, 1))

	loop:
		for i, height := range heights {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				break loop
			}
			eg.Go(func() error {
				defer func() { <-sem }()
				block, err := fetchBlock(egCtx, f, height, opts.Filter, true)
				if err != nil {
					return err
				}
				blocks[i] = block
				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return blocks, nil
	}
}

// fetchBlock fetches a block with its results and assembles it.
func fetchBlock(ctx context.Context, f Fetcher, height uint64, filter Filter, historical bool) (*models.StreamBlock, error) {
	block, err := f.Block(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	results, err := f.BlockResults(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("failed to get block results %d: %w", height, err)
	}
	return AssembleBlock(block, results, filter, historical)
}
