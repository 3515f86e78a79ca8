// ABOUTME: File dispatcher that writes each export batch as a JSON document on disk
// ABOUTME: Files are written to a temp name and renamed so readers never see partial batches

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileDispatcher writes batches to conversations-<timestamp>-<uuid>.json in dir.
type FileDispatcher struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewFileDispatcher creates a dispatcher writing into dir, creating it if needed.
func NewFileDispatcher(dir string, logger *slog.Logger) (*FileDispatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileDispatcher{
		dir:    dir,
		now:    time.Now,
		logger: logger.With("component", "export", "dispatcher", "file"),
	}, nil
}

// Dispatch implements Dispatcher.
func (d *FileDispatcher) Dispatch(ctx context.Context, batch []Payload) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrExportDispatch, err)
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling batch: %w", ErrExportDispatch, err)
	}

	name := fmt.Sprintf("conversations-%s-%s.json", d.now().UTC().Format("20060102T150405Z"), uuid.New().String())
	path := filepath.Join(d.dir, name)

	tmp, err := os.CreateTemp(d.dir, ".export-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrExportDispatch, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing batch: %w", ErrExportDispatch, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing batch file: %w", ErrExportDispatch, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: publishing batch file: %w", ErrExportDispatch, err)
	}

	d.logger.Info("exported batch to file", "path", path, "conversations", len(batch))
	return nil
}
