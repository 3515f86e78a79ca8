// Package reaper closes conversations nobody is talking in anymore.
//
// A Reaper runs Sweep on a cron schedule (DefaultSchedule unless configured).
// Each sweep lists the export backlog: open conversations idle for longer than
// the lifecycle timeout, and closed conversations whose export failed when they
// were closed. The whole backlog is exported as one batch; only after the
// dispatcher accepts it are the open ones closed and all of them marked exported.
//
//	r := reaper.New(lifecycle, dispatcher, "@every 5m", logger)
//	if err := r.Start(ctx); err != nil { ... }
//	defer r.Stop(shutdownCtx)
//
// A failed export leaves everything as it was, so the same conversations are
// exported again on the next sweep. Receivers must tolerate duplicates.
package reaper
