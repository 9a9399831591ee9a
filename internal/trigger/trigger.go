package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// defaultDebounce is the quiet window applied to watch triggers when the
// config does not set one.
const defaultDebounce = 2 * time.Second

// Options selects what fires runs in daemon mode. Zero fields are inactive;
// at least one trigger must be set.
type Options struct {
	// Interval fires a run every fixed period.
	Interval time.Duration
	// Cron fires runs on a 5-field cron schedule.
	Cron string
	// Watch fires a run when anything under the path changes.
	Watch string
	// Debounce folds bursts of file events into one run.
	Debounce time.Duration
}

func (o Options) active() bool {
	return o.Interval > 0 || o.Cron != "" || o.Watch != ""
}

// Loop blocks until ctx is cancelled, calling fn for every trigger that
// fires. Runs are serialized: fn is never called concurrently, and triggers
// arriving while a run is in flight coalesce into at most one queued run.
// Returns nil on cancellation.
func Loop(ctx context.Context, opts Options, logger *slog.Logger, fn func(reason string)) error {
	if !opts.active() {
		return errors.New("no triggers configured")
	}

	fire := make(chan string, 1)
	queue := func(reason string) {
		select {
		case fire <- reason:
		default:
			logger.Debug("trigger coalesced", "reason", reason)
		}
	}

	if opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					queue("interval")
				}
			}
		}()
		logger.Info("interval trigger armed", "every", opts.Interval)
	}

	if opts.Cron != "" {
		c := cron.New()
		if _, err := c.AddFunc(opts.Cron, func() { queue("cron") }); err != nil {
			return fmt.Errorf("cron spec %q: %w", opts.Cron, err)
		}
		c.Start()
		defer c.Stop()
		logger.Info("cron trigger armed", "spec", opts.Cron)
	}

	if opts.Watch != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(opts.Watch); err != nil {
			return fmt.Errorf("watching %s: %w", opts.Watch, err)
		}

		debounce := opts.Debounce
		if debounce <= 0 {
			debounce = defaultDebounce
		}
		go watchLoop(ctx, watcher, debounce, queue, logger)
		logger.Info("watch trigger armed", "path", opts.Watch, "debounce", debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-fire:
			logger.Info("run triggered", "reason", reason)
			fn(reason)
		}
	}
}

// watchLoop queues one trigger once the watched path has been quiet for the
// debounce window.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration, queue func(string), logger *slog.Logger) {
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error", "error", err)
		case <-timer.C:
			queue("watch")
		}
	}
}
