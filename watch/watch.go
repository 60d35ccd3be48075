// Package watch provides a generic "poll, detect change, debounce, act"
// loop. The reconciler uses it to re-push a diagram spec whenever the
// file changes on disk, with a quiet window so a burst of editor saves
// triggers one push.
//
// Typical usage:
//
//	w := watch.New(watch.FileFingerprint(path), watch.Options{Debounce: 500 * time.Millisecond})
//	w.Run(ctx, func() error { return push() })
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Probe reads a version token. Two calls that return different tokens
// mean "something changed". Token contents are opaque to the watcher.
type Probe func(ctx context.Context) (string, error)

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// action fires. Further changes during the window reset the timer.
	// 0 means fire immediately. Default: 0.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a probe and runs an action when the token changes.
type Watcher struct {
	probe Probe
	opts  Options

	token atomic.Value // string: last successfully processed token

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	runs    atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Runs            int64 `json:"runs"`
}

func New(probe Probe, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{probe: probe, opts: opts}
	w.token.Store("")
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Runs:            w.runs.Load(),
	}
}

// Run blocks until ctx is cancelled, polling at opts.Interval. When the
// probe reports a new token and the debounce window passes without
// further changes, action is called.
//
// If action returns an error the token is NOT advanced, so the action is
// retried on the next poll cycle.
func (w *Watcher) Run(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if tok, err := w.probe(ctx); err != nil {
		log.Warn("watch: initial probe failed", "error", err)
	} else {
		w.token.Store(tok)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := ""

	log.Info("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.probe(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: probe failed", "error", err)
				continue
			}
			if cur != w.token.Load().(string) && cur != pending {
				w.changes.Add(1)
				pending = cur

				if w.opts.Debounce <= 0 {
					w.fire(log, action, pending)
					pending = ""
				} else {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(w.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("watch: change detected, debouncing")
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pending != "" {
				w.fire(log, action, pending)
				pending = ""
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error, token string) {
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: action failed", "error", err)
		return
	}
	w.runs.Add(1)
	w.token.Store(token)
	log.Info("watch: action complete", "duration", time.Since(start))
}

// FileFingerprint returns a Probe that hashes one file's contents. A
// missing file is a distinct token rather than an error, so deleting and
// recreating the file registers as two changes.
func FileFingerprint(path string) Probe {
	return func(_ context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "absent", nil
			}
			return "", fmt.Errorf("watch: read %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:16]), nil
	}
}
