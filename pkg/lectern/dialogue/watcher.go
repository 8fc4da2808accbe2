package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the pool when the lecture file changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	reload   func(ctx context.Context) bool
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewWatcher watches the directory holding path, since editors often
// replace files instead of writing them in place.
func NewWatcher(path string, debounce time.Duration, reload func(ctx context.Context) bool, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		reload:   reload,
		watcher:  w,
		logger:   logger.With("component", "corpus-watcher"),
	}, nil
}

// Run blocks until ctx is done, triggering one reload per burst of changes.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			ok := w.reload(ctx)
			w.logger.Info("lecture changed, sessions reloaded", "path", w.path, "ok", ok)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}
