package output

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/manifest-network/eventstream/internal/models"
)

// maxDecodeRounds bounds how many base64 layers are peeled off an attribute.
const maxDecodeRounds = 10

// ConsoleOutputHandler prints one line per record, and every event attribute in verbose mode.
type ConsoleOutputHandler struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func NewConsoleOutputHandler(w io.Writer, verbose bool) *ConsoleOutputHandler {
	return &ConsoleOutputHandler{w: w, verbose: verbose}
}

func (h *ConsoleOutputHandler) Write(_ context.Context, record models.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	switch r := record.(type) {
	case *models.StreamBlock:
		err = h.writeBlock(r)
	case *models.BlockHeader:
		_, err = fmt.Fprintf(h.w, "Received header: %d, date: %s, proposer: %s\n",
			r.GetHeight(), formatTime(r.Time), r.ProposerAddress)
	default:
		_, err = fmt.Fprintf(h.w, "Received %s: %d\n", record.Kind(), record.GetHeight())
	}
	if err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

func (h *ConsoleOutputHandler) writeBlock(b *models.StreamBlock) error {
	header := b.Block.Header
	if _, err := fmt.Fprintf(h.w, "Received block: %d, date: %s, hash: %s, events: %d\n",
		header.GetHeight(), formatTime(header.Time), header.LastBlockID.Hash, len(b.TxEvents)); err != nil {
		return err
	}
	if !h.verbose {
		return nil
	}

	for _, e := range b.BlockEvents {
		if _, err := fmt.Fprintf(h.w, "  block event: %s\n", e.EventType); err != nil {
			return err
		}
		if err := h.writeAttributes(e.Attributes); err != nil {
			return err
		}
	}
	for _, e := range b.TxEvents {
		if _, err := fmt.Fprintf(h.w, "  tx event: %s tx: %s fee: %d%s\n", e.EventType, e.TxHash, e.Fee, e.Denom); err != nil {
			return err
		}
		if err := h.writeAttributes(e.Attributes); err != nil {
			return err
		}
	}
	for _, e := range b.TxErrors {
		if _, err := fmt.Fprintf(h.w, "  tx error: %s code: %d info: %s\n", e.TxHash, e.Code, e.Info); err != nil {
			return err
		}
	}
	return nil
}

func (h *ConsoleOutputHandler) writeAttributes(attrs []models.EventAttribute) error {
	for _, a := range attrs {
		if _, err := fmt.Fprintf(h.w, "    %s: %s\n", decodeRepeated(a.Key), decodeRepeated(a.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (h *ConsoleOutputHandler) Close() error { return nil }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

// decodeRepeated base64-decodes s until the result stops changing, stops being printable
// ASCII or maxDecodeRounds is reached. Older nodes encode attributes, sometimes twice.
func decodeRepeated(s string) string {
	current := s
	for range maxDecodeRounds {
		decoded, err := base64.StdEncoding.DecodeString(current)
		if err != nil || len(decoded) == 0 || !printable(decoded) {
			break
		}
		next := string(decoded)
		if next == current {
			break
		}
		current = next
	}
	return current
}

func printable(b []byte) bool {
	return strings.IndexFunc(string(b), func(r rune) bool { return r < 0x20 || r > 0x7e }) == -1
}
