// ABOUTME: HTTP dispatcher that POSTs export batches to the analyzer service
// ABOUTME: Any non-2xx answer or transport error is reported as ErrExportDispatch

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultAnalyzerTimeout bounds a single hand-off to the analyzer.
const DefaultAnalyzerTimeout = 120 * time.Second

// maxErrorBody caps how much of an error response is kept for logs.
const maxErrorBody = 4 << 10

// HTTPDispatcher sends batches as a JSON array to <baseURL>/analyze.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPDispatcher creates a dispatcher for the analyzer at baseURL.
// A zero timeout uses DefaultAnalyzerTimeout.
func NewHTTPDispatcher(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDispatcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "export", "dispatcher", "http"),
	}
}

// Dispatch implements Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, batch []Payload) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("%w: marshaling batch: %w", ErrExportDispatch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrExportDispatch, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sending request: %w", ErrExportDispatch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: analyzer returned status %d: %s", ErrExportDispatch, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	d.logger.Info("dispatched export batch",
		"conversations", len(batch),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return nil
}
