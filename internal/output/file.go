package output

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/manifest-network/eventstream/internal/models"
)

// FileOutputHandler writes each record as JSON to <dir>/<splay>/<height>.json. The splay directory
// is the first 4 hex characters of sha256(height) so files spread evenly. Files are written once.
type FileOutputHandler struct {
	dir string
}

func NewFileOutputHandler(dir string) (*FileOutputHandler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileOutputHandler{dir: dir}, nil
}

// Path returns where the record at height is stored.
func (h *FileOutputHandler) Path(height uint64) string {
	sum := sha256.Sum256([]byte(strconv.FormatUint(height, 10)))
	splay := hex.EncodeToString(sum[:])[:4]
	return filepath.Join(h.dir, splay, fmt.Sprintf("%010d.json", height))
}

func (h *FileOutputHandler) Write(_ context.Context, record models.Record) error {
	height := record.GetHeight()
	path := h.Path(height)
	if _, err := os.Stat(path); err == nil {
		slog.Debug("File already written", "height", height, "path", path)
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %d: %w", record.Kind(), height, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	// Link fails when the target exists, which keeps the first write.
	if err := os.Link(tmp.Name(), path); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (h *FileOutputHandler) Close() error { return nil }
