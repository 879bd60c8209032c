package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifest-network/eventstream/internal/models"
)

// MultiOutputHandler writes every record to each handler in order.
type MultiOutputHandler struct {
	handlers []OutputHandler
}

func NewMultiOutputHandler(handlers ...OutputHandler) *MultiOutputHandler {
	return &MultiOutputHandler{handlers: handlers}
}

func (m *MultiOutputHandler) Write(ctx context.Context, record models.Record) error {
	for i, h := range m.handlers {
		if err := h.Write(ctx, record); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

// LatestHeight returns the lowest latest height among the handlers that can resume, so
// that no handler misses a record.
func (m *MultiOutputHandler) LatestHeight(ctx context.Context, kind string) (uint64, error) {
	var (
		latest uint64
		found  bool
	)
	for _, h := range m.handlers {
		r, ok := h.(Resumer)
		if !ok {
			continue
		}
		height, err := r.LatestHeight(ctx, kind)
		if err != nil {
			return 0, err
		}
		if !found || height < latest {
			latest, found = height, true
		}
	}
	return latest, nil
}

// Close closes every handler and returns all the errors.
func (m *MultiOutputHandler) Close() error {
	var errs []error
	for _, h := range m.handlers {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
