// Package output writes the merged stream to its destinations.
package output

import (
	"context"

	"github.com/manifest-network/eventstream/internal/models"
)

type OutputHandler interface {
	// Write stores one record. Records arrive in strictly increasing height order.
	// Writing a height that is already stored must succeed without duplicating it.
	Write(ctx context.Context, record models.Record) error

	// Close flushes and releases the handler.
	Close() error
}

// Resumer is implemented by handlers that can report how far a previous run got.
type Resumer interface {
	// LatestHeight returns the highest stored height of the given record kind, 0 when empty.
	LatestHeight(ctx context.Context, kind string) (uint64, error)
}
