package stream

import (
	"context"
	"fmt"
	"sort"
)

// PageFunc fetches the items of the closed range [min, max]. Items may come back in any order
// and may omit heights the underlying source chooses not to report.
type PageFunc[T any] func(ctx context.Context, min, max uint64) ([]T, error)

// Paginate builds a HistoricalFunc that walks [from, to] in pages of pageSize heights.
func Paginate[T any](pageSize uint64, heightOf func(T) uint64, fetch PageFunc[T]) HistoricalFunc[T] {
	if pageSize == 0 {
		pageSize = 1
	}
	return func(ctx context.Context, from, to uint64, yield func(T) error) error {
		if from == 0 {
			from = 1
		}
		for lo := from; lo <= to; {
			if err := ctx.Err(); err != nil {
				return err
			}
			hi := to
			if to-lo >= pageSize {
				hi = lo + pageSize - 1
			}

			page, err := fetch(ctx, lo, hi)
			if err != nil {
				return fmt.Errorf("failed to fetch page [%d, %d]: %w", lo, hi, err)
			}
			sort.SliceStable(page, func(i, j int) bool {
				return heightOf(page[i]) < heightOf(page[j])
			})
			for _, item := range page {
				if h := heightOf(item); h < lo || h > hi {
					continue
				}
				if err := yield(item); err != nil {
					return err
				}
			}

			if hi == to {
				break
			}
			lo = hi + 1
		}
		return nil
	}
}
