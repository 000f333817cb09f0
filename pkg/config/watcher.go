package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives each successfully loaded and validated profile,
// including the initial one.
type ReloadFunc func(p *Profile) error

// Watcher hot-reloads a policy profile when its file changes on disk.
// Editor save sequences are debounced into a single reload. A revision
// that fails to parse or validate is logged and skipped, so the
// previously delivered policy stays active.
type Watcher struct {
	path     string
	name     string
	debounce time.Duration
	onReload ReloadFunc
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period between a file event and the
// reload it triggers. The default is 500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload outcomes.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher prepares a watcher for profile_<name>.yaml in dir.
func NewWatcher(dir, name string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	if onReload == nil {
		return nil, fmt.Errorf("reload callback must not be nil")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("profile name must not be empty")
	}
	w := &Watcher{
		path:     profilePath(dir, name),
		name:     name,
		debounce: 500 * time.Millisecond,
		onReload: onReload,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run loads the profile once, delivers it, then watches the file until
// ctx is cancelled. A failure to load or apply the initial profile is
// fatal; later failures only log.
func (w *Watcher) Run(ctx context.Context) error {
	initial, err := loadProfileFile(w.path, w.name)
	if err != nil {
		return err
	}
	if err := w.onReload(initial); err != nil {
		return fmt.Errorf("apply initial profile %q: %w", w.name, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	defer w.stopTimer()
	w.logger.Info("watching policy profile", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				// Atomic saves replace the inode, which drops the
				// watch. Give the new file a moment, then re-arm.
				time.Sleep(50 * time.Millisecond)
				if err := fw.Add(w.path); err != nil {
					w.logger.Warn("re-adding profile watch failed",
						"path", w.path, "error", err)
					continue
				}
			}
			w.scheduleReload()
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("profile watcher error", "error", werr)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) reload() {
	p, err := loadProfileFile(w.path, w.name)
	if err != nil {
		w.logger.Warn("profile reload failed, keeping previous policy",
			"path", w.path, "error", err)
		return
	}
	if err := w.onReload(p); err != nil {
		w.logger.Warn("applying reloaded profile failed, keeping previous policy",
			"profile", p.Name, "error", err)
		return
	}
	w.logger.Info("policy profile reloaded", "profile", p.Name)
}
