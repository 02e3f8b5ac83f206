// Tests for the config watcher and hot reload: event delivery for the watched
// files, close semantics, polling fallback and [applyChanges].
package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ///////////////////////////////////////////////
// Watcher Tests
// ///////////////////////////////////////////////

func TestWatcherConfigWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.Polling() {
		// Polling compares mod times; make sure the write is newer.
		time.Sleep(50 * time.Millisecond)
	}
	writeConfig(t, dir, "version = 2\n")

	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change event")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	if w.Polling() {
		t.Skip("fsnotify unavailable")
	}

	writeFile(t, filepath.Join(dir, "psnwatch_neo.log"), "line\n")

	select {
	case <-w.Events():
		t.Error("received event for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestIsWatched(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/data/config.toml", true},
		{"/data/.env", true},
		{"/data/config.toml.bak", false},
		{"/data/psn_neo_last_status.json", false},
	}
	for _, tt := range tests {
		if got := isWatched(tt.name); got != tt.want {
			t.Errorf("isWatched(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Poll Tests
// ///////////////////////////////////////////////

func TestPollDetectsEnvChange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow polling test in short mode")
	}

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	writeFile(t, envPath, "PSN_NPSSO=a\n")

	w := &Watcher{
		dir:          dir,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: 100 * time.Millisecond,
		logger:       discardLogger(),
	}
	w.polling.Store(true)
	go w.poll()
	defer w.Close()

	time.Sleep(150 * time.Millisecond)
	future := time.Now().Add(time.Second)
	os.Chtimes(envPath, future, future)

	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for poll event")
	}
}

func TestPollStopsOnClose(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow polling test in short mode")
	}

	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n")

	w := &Watcher{
		dir:          dir,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: 50 * time.Millisecond,
		logger:       discardLogger(),
	}
	w.polling.Store(true)
	go w.poll()

	time.Sleep(100 * time.Millisecond)
	w.Close()
	time.Sleep(100 * time.Millisecond)

	future := time.Now().Add(time.Second)
	os.Chtimes(filepath.Join(dir, "config.toml"), future, future)

	select {
	case <-w.Events():
		t.Error("received event after Close; poll should have stopped")
	case <-time.After(300 * time.Millisecond):
	}
}

// ///////////////////////////////////////////////
// Hot Reload Tests
// ///////////////////////////////////////////////

func newLive(t *testing.T, cfg *Config) Live {
	t.Helper()
	iv, err := monitor.NewIntervals(cfg.Intervals())
	if err != nil {
		t.Fatalf("NewIntervals: %v", err)
	}
	return Live{Toggles: notify.NewToggles(cfg.Toggles()), Intervals: iv}
}

func TestApplyChangesKeepsRuntimeToggles(t *testing.T) {
	prev := DefaultConfig()
	live := newLive(t, prev)
	live.Toggles.Set(notify.ToggleGameChange, true)

	next := DefaultConfig()
	next.Monitor.CheckIntervalSeconds = 600
	applyChanges(prev, next, live, discardLogger())

	if !live.Toggles.Enabled(notify.ToggleGameChange) {
		t.Error("runtime toggle lost on an interval-only reload")
	}
	if got := live.Intervals.Snapshot().Offline; got != 10*time.Minute {
		t.Errorf("offline interval = %v, want 10m", got)
	}
}

func TestApplyChangesReplacesToggles(t *testing.T) {
	prev := DefaultConfig()
	live := newLive(t, prev)
	live.Intervals.AdjustOnline(2)
	adjusted := live.Intervals.Snapshot()

	next := DefaultConfig()
	next.Notify.Status = true
	next.Notify.Errors = false
	applyChanges(prev, next, live, discardLogger())

	got := live.Toggles.Snapshot()
	if !got.Status || got.Errors {
		t.Errorf("toggles = %+v, want status on and errors off", got)
	}
	if live.Intervals.Snapshot() != adjusted {
		t.Error("adjusted intervals reset by a toggle-only reload")
	}
}

func TestReloadAppliesEdits(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n")
	current, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	live := newLive(t, current)

	w := &Watcher{
		dir:    dir,
		events: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: discardLogger(),
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Reload(ctx, w, dir, current, live, discardLogger())
	}()

	// An invalid file is ignored.
	writeConfig(t, dir, "version = 2\n[monitor]\ncheck_interval_seconds = 0\n")
	w.notify()
	time.Sleep(2 * debounce)
	if got := live.Intervals.Snapshot().Offline; got != 150*time.Second {
		t.Fatalf("invalid reload applied: offline = %v", got)
	}

	writeConfig(t, dir, "version = 2\n[notify]\nactive_inactive = true\n")
	w.notify()

	deadline := time.Now().Add(3 * time.Second)
	for !live.Toggles.Enabled(notify.ToggleActiveInactive) {
		if time.Now().After(deadline) {
			t.Fatal("reload did not apply the new toggle")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reload did not return after cancel")
	}
}
