// ABOUTME: Periodic sweep that exports and closes idle conversations
// ABOUTME: Runs on a cron schedule and retries exports that failed earlier

package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/centinai-gateway/internal/export"
	"github.com/2389/centinai-gateway/internal/store"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "@every 5m"

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("reaper already started")

// Lifecycle is the part of the conversation lifecycle the reaper drives.
type Lifecycle interface {
	ExportBacklog(ctx context.Context, now time.Time) ([]*store.Conversation, error)
	ExportPayloads(ctx context.Context, convs []*store.Conversation, closedAt time.Time) ([]export.Payload, error)
	CloseExpired(ctx context.Context, ids []string, closedAt time.Time) ([]string, error)
	MarkExported(ctx context.Context, ids []string, at time.Time) error
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Found       int // conversations in the backlog
	Closed      int // open conversations closed by this sweep
	Exported    int // conversations marked exported by this sweep
	StillActive int // listed but extended before the close landed
}

// Reaper closes conversations that stopped receiving messages.
type Reaper struct {
	lifecycle  Lifecycle
	dispatcher export.Dispatcher
	schedule   string
	now        func() time.Time
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Reaper. An empty schedule uses DefaultSchedule.
func New(lifecycle Lifecycle, dispatcher export.Dispatcher, schedule string, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if dispatcher == nil {
		dispatcher = export.NopDispatcher{Logger: logger}
	}
	return &Reaper{
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		schedule:   schedule,
		now:        time.Now,
		logger:     logger.With("component", "reaper"),
	}
}

// Start schedules sweeps. Overlapping runs are skipped rather than queued.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return ErrAlreadyStarted
	}

	cl := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.schedule, func() { r.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("reaper started", "schedule", r.schedule)
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		r.logger.Info("reaper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reaper) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("sweep failed", "error", err)
		return
	}
	if res.Found > 0 {
		r.logger.Info("sweep complete",
			"found", res.Found,
			"closed", res.Closed,
			"exported", res.Exported,
			"still_active", res.StillActive)
	}
}

// Sweep runs one pass: it exports every expired open conversation and every
// closed conversation whose export never succeeded, then closes and marks them.
// If the export fails nothing is closed or marked, so the next sweep retries
// the same batch.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	now := r.now().UTC()

	backlog, err := r.lifecycle.ExportBacklog(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Found: len(backlog)}
	if len(backlog) == 0 {
		return res, nil
	}

	batch, err := r.lifecycle.ExportPayloads(ctx, backlog, now)
	if err != nil {
		return res, err
	}
	if err := r.dispatcher.Dispatch(ctx, batch); err != nil {
		return res, fmt.Errorf("exporting %d conversations: %w", len(batch), err)
	}

	var open, alreadyClosed []string
	for _, c := range backlog {
		if c.Status == store.ConversationOpen {
			open = append(open, c.ID)
		} else {
			alreadyClosed = append(alreadyClosed, c.ID)
		}
	}

	closed, err := r.lifecycle.CloseExpired(ctx, open, now)
	if err != nil {
		return res, err
	}
	res.Closed = len(closed)
	res.StillActive = len(open) - len(closed)
	if res.StillActive > 0 {
		// Exported early; they will be exported again when they do expire
		r.logger.Debug("conversations extended during sweep", "count", res.StillActive)
	}

	toMark := slices.Concat(closed, alreadyClosed)
	if err := r.lifecycle.MarkExported(ctx, toMark, now); err != nil {
		return res, err
	}
	res.Exported = len(toMark)
	return res, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
