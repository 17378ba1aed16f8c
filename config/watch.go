package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*watcher)

type watcher struct {
	path     string
	debounce time.Duration
	log      *slog.Logger
	onChange func(*Config)
}

// WithDebounce sets the quiet period after the last event before reloading.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger of reload failures.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *watcher) { w.log = l }
}

// Watch reloads the file at path whenever it changes and passes every
// valid configuration to onChange. Invalid files are logged and skipped.
// It blocks until ctx is done.
//
// The parent directory is watched so that editors replacing the file by a
// rename are seen.
func Watch(ctx context.Context, path string, onChange func(*Config), opts ...WatchOption) error {
	w := &watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "config watch error", "path", w.path, "error", err)
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.ErrorContext(ctx, "config reload failed", "path", w.path, "error", err)
		return
	}
	w.log.InfoContext(ctx, "config reloaded", "path", w.path, "models", len(cfg.Models))
	w.onChange(cfg)
}
