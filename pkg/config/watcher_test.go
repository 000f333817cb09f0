package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// profileRecorder collects delivered profiles for assertions.
type profileRecorder struct {
	mu       sync.Mutex
	profiles []*Profile
	count    atomic.Int32
}

func (r *profileRecorder) record(p *Profile) error {
	r.mu.Lock()
	r.profiles = append(r.profiles, p)
	r.mu.Unlock()
	r.count.Add(1)
	return nil
}

func (r *profileRecorder) last() *Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.profiles) == 0 {
		return nil
	}
	return r.profiles[len(r.profiles)-1]
}

func (r *profileRecorder) waitForCount(t *testing.T, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.count.Load() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries, got %d", want, r.count.Load())
}

// runWatcher starts w in the background and stops it on test cleanup.
func runWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("watcher exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop after cancel")
		}
	})
}

func TestWatcherDeliversInitialProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "default", "policy:\n  base_threshold: 0.55\n")

	rec := &profileRecorder{}
	w, err := NewWatcher(dir, "default", rec.record, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	runWatcher(t, w)

	rec.waitForCount(t, 1)
	p := rec.last()
	if p == nil || p.Policy.BaseThreshold != 0.55 {
		t.Fatalf("initial profile = %+v, want base_threshold 0.55", p)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeProfileFile(t, dir, "default", "policy:\n  base_threshold: 0.55\n")

	rec := &profileRecorder{}
	w, err := NewWatcher(dir, "default", rec.record, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	runWatcher(t, w)
	rec.waitForCount(t, 1)

	// Let the watch settle before mutating the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("policy:\n  base_threshold: 0.72\n"), 0o600); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}

	rec.waitForCount(t, 2)
	if got := rec.last().Policy.BaseThreshold; got != 0.72 {
		t.Errorf("reloaded base_threshold = %v, want 0.72", got)
	}
}

func TestWatcherKeepsPreviousOnInvalidRevision(t *testing.T) {
	dir := t.TempDir()
	path := writeProfileFile(t, dir, "default", "policy:\n  base_threshold: 0.55\n")

	rec := &profileRecorder{}
	w, err := NewWatcher(dir, "default", rec.record, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	runWatcher(t, w)
	rec.waitForCount(t, 1)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("policy:\n  base_threshold: 9.9\n"), 0o600); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}

	// The invalid revision is skipped, never delivered.
	time.Sleep(400 * time.Millisecond)
	if got := rec.count.Load(); got != 1 {
		t.Fatalf("invalid revision reached the callback, %d deliveries", got)
	}

	if err := os.WriteFile(path, []byte("policy:\n  base_threshold: 0.61\n"), 0o600); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}
	rec.waitForCount(t, 2)
	if got := rec.last().Policy.BaseThreshold; got != 0.61 {
		t.Errorf("recovered base_threshold = %v, want 0.61", got)
	}
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	path := writeProfileFile(t, dir, "default", "policy:\n  base_threshold: 0.55\n")

	rec := &profileRecorder{}
	w, err := NewWatcher(dir, "default", rec.record, WithDebounce(150*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	runWatcher(t, w)
	rec.waitForCount(t, 1)

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("policy:\n  base_threshold: 0.6\n"), 0o600); err != nil {
			t.Fatalf("rewrite profile: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(600 * time.Millisecond)
	if got := rec.count.Load(); got != 2 {
		t.Errorf("burst of writes produced %d deliveries, want 2", got)
	}
}

func TestWatcherSurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := writeProfileFile(t, dir, "default", "policy:\n  base_threshold: 0.55\n")

	rec := &profileRecorder{}
	w, err := NewWatcher(dir, "default", rec.record, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	runWatcher(t, w)
	rec.waitForCount(t, 1)

	time.Sleep(50 * time.Millisecond)

	// Editors and config management tools replace the file by writing
	// a sibling and renaming over the original, which swaps the inode.
	staging := filepath.Join(dir, "staging.yaml")
	if err := os.WriteFile(staging, []byte("policy:\n  base_threshold: 0.8\n"), 0o600); err != nil {
		t.Fatalf("write staging file: %v", err)
	}
	if err := os.Rename(staging, path); err != nil {
		t.Fatalf("rename over profile: %v", err)
	}

	rec.waitForCount(t, 2)
	if got := rec.last().Policy.BaseThreshold; got != 0.8 {
		t.Errorf("base_threshold after replace = %v, want 0.8", got)
	}

	// The re-armed watch still sees plain writes.
	if err := os.WriteFile(path, []byte("policy:\n  base_threshold: 0.9\n"), 0o600); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}
	rec.waitForCount(t, 3)
	if got := rec.last().Policy.BaseThreshold; got != 0.9 {
		t.Errorf("base_threshold after rewrite = %v, want 0.9", got)
	}
}

func TestWatcherInitialLoadFailureIsFatal(t *testing.T) {
	rec := &profileRecorder{}
	w, err := NewWatcher(t.TempDir(), "ghost", rec.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if err := w.Run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Run = %v, want wrapped os.ErrNotExist", err)
	}
	if rec.count.Load() != 0 {
		t.Error("callback ran despite failed initial load")
	}
}

func TestWatcherInitialApplyFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "default", "policy: {}\n")

	applyErr := errors.New("kernel rejected policy")
	w, err := NewWatcher(dir, "default", func(*Profile) error { return applyErr })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Run(context.Background()); !errors.Is(err, applyErr) {
		t.Fatalf("Run = %v, want wrapped apply error", err)
	}
}

func TestNewWatcherValidation(t *testing.T) {
	if _, err := NewWatcher(t.TempDir(), "default", nil); err == nil {
		t.Error("nil callback should be rejected")
	}
	if _, err := NewWatcher(t.TempDir(), "  ", func(*Profile) error { return nil }); err == nil {
		t.Error("blank profile name should be rejected")
	}

	w, err := NewWatcher(t.TempDir(), "default", func(*Profile) error { return nil })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.debounce != 500*time.Millisecond {
		t.Errorf("default debounce = %v, want 500ms", w.debounce)
	}
}
