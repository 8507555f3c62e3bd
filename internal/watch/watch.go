// Package watch re-runs inference whenever a log file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must be quiet before it is processed.
const DefaultDebounce = 500 * time.Millisecond

// Handler processes the watched file. Calls never overlap.
type Handler func(ctx context.Context, path string)

// Watcher watches one file. Bursts of writes are debounced into a single
// call, and changes arriving while the handler runs coalesce into one
// follow-up call.
type Watcher struct {
	path     string
	handler  Handler
	debounce time.Duration
	initial  bool
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithInitialRun makes Run process the file once on start.
func WithInitialRun(on bool) Option {
	return func(w *Watcher) {
		w.initial = on
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher for path.
func New(path string, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file so that editors replacing the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	// pending holds at most one queued run.
	pending := make(chan struct{}, 1)
	enqueue := func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
				w.handle(ctx)
			}
		}
	}()
	defer func() { <-done }()

	if w.initial {
		enqueue()
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			enqueue()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("log changed", "path", w.path, "op", event.Op.String())
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "path", w.path, "panic", r)
		}
	}()
	w.handler(ctx, w.path)
}
