package config

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDebouncer_CollapsesBursts(t *testing.T) {
	d := newDebouncer(30 * time.Millisecond)
	defer d.stop()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.trigger(func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("burst fired %d callbacks, want 1", got)
	}

	// A later trigger fires again.
	d.trigger(func() { fired.Add(1) })
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 2 {
		t.Errorf("second trigger, fired = %d, want 2", got)
	}
}

func TestDebouncer_StopSuppressesPending(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)

	var fired atomic.Int32
	d.trigger(func() { fired.Add(1) })
	d.stop()

	time.Sleep(120 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("stopped debouncer fired %d callbacks", got)
	}
}

func TestWatcher_RelevantFiltersEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.watcher.Close()

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write to config", fsnotify.Event{Name: path, Op: fsnotify.Write}, true},
		{"rename into place", fsnotify.Event{Name: path, Op: fsnotify.Create}, true},
		{"chmod only", fsnotify.Event{Name: path, Op: fsnotify.Chmod}, false},
		{"sibling file", fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.relevant(tt.event); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestWatcher_StopBeforeWatchIsSafe(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() on idle watcher error: %v", err)
	}
	w.watcher.Close()
}