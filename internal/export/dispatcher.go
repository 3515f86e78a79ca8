// ABOUTME: Dispatcher contract for handing conversation batches to the analyzer
// ABOUTME: Includes fan-out and no-op implementations

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExportDispatch is returned when a batch could not be handed off.
var ErrExportDispatch = errors.New("export dispatch failed")

// Dispatcher hands a batch of conversations to an external analysis process.
// A nil error means the hand-off succeeded, not that analysis did.
// Batches may be delivered more than once.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []Payload) error
}

// MultiDispatcher sends every batch to each of its dispatchers in turn.
// It fails if any of them fails, after trying them all.
type MultiDispatcher []Dispatcher

// Dispatch implements Dispatcher.
func (m MultiDispatcher) Dispatch(ctx context.Context, batch []Payload) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrExportDispatch, errors.Join(errs...))
	}
	return nil
}

// NopDispatcher accepts every batch and only logs it.
type NopDispatcher struct {
	Logger *slog.Logger
}

// Dispatch implements Dispatcher.
func (n NopDispatcher) Dispatch(ctx context.Context, batch []Payload) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("export batch discarded, no analyzer configured",
		"component", "export",
		"conversations", len(batch),
	)
	return nil
}
