package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/paths"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher reports changes to config.toml and .env in a data directory using
// fsnotify with a polling fallback. The directory is watched rather than the
// files so atomic renames are seen.
type Watcher struct {
	// dir is the data directory being monitored.
	dir string
	// events is buffered to 1 so back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to signal goroutines to exit.
	done chan struct{}
	// fsw is the underlying fsnotify watcher; nil when polling.
	fsw *fsnotify.Watcher
	// once ensures [Watcher.Close] is idempotent.
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling atomic.Bool
	// pollInterval is the duration between stat calls in polling mode.
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWatcher starts watching dataDir.
func NewWatcher(dataDir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		dir:          dataDir,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: 2 * time.Second,
		logger:       logger,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Info("fsnotify unavailable, falling back to config polling", "error", err)
		w.polling.Store(true)
		go w.poll()
		return w, nil
	}

	w.fsw = fsw
	if err := fsw.Add(dataDir); err != nil {
		w.logger.Info("cannot watch data directory, falling back to polling", "path", dataDir, "error", err)
		fsw.Close()
		w.fsw = nil
		w.polling.Store(true)
		go w.poll()
		return w, nil
	}

	go w.watch()
	return w, nil
}

// isWatched reports whether name is one of the files that affect the config.
func isWatched(name string) bool {
	switch filepath.Base(name) {
	case paths.ConfigFile, paths.EnvFile:
		return true
	}
	return false
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if isWatched(event.Name) {
					w.notify()
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Info("fsnotify error, switching to config polling", "error", err)
			w.fsw.Close()
			w.fsw = nil
			w.polling.Store(true)
			go w.poll()
			return
		}
	}
}

// poll stats the watched files and signals when either modification time
// advances.
func (w *Watcher) poll() {
	lastMod := w.latestMod()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if mod := w.latestMod(); mod.After(lastMod) {
				lastMod = mod
				w.notify()
			}
		}
	}
}

func (w *Watcher) latestMod() time.Time {
	var latest time.Time
	for _, name := range []string{paths.ConfigFile, paths.EnvFile} {
		info, err := os.Stat(filepath.Join(w.dir, name))
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

// notify sends a single signal; a pending signal absorbs the call.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when a watched file changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// ///////////////////////////////////////////////
// Hot Reload
// ///////////////////////////////////////////////

// Live holds the handles a reload may change while the daemon runs.
type Live struct {
	Toggles   *notify.Toggles
	Intervals *monitor.Intervals
}

// debounce lets editors finish multi-step saves before reloading.
const debounce = 250 * time.Millisecond

// Reload reloads the config on every watcher event until ctx is done. Only
// sections that differ from the previous load are pushed into live, so a
// toggle flipped at runtime survives unrelated edits. Invalid files are logged
// and ignored.
func Reload(ctx context.Context, w *Watcher, dataDir string, current *Config, live Live, logger *slog.Logger) {
	prev := current
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Events():
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(debounce):
		}

		next, err := Load(dataDir)
		if err != nil {
			logger.Warn("config reload failed, keeping previous settings", "error", err)
			continue
		}
		applyChanges(prev, next, live, logger)
		prev = next
	}
}

// applyChanges pushes the runtime-adjustable sections that changed.
func applyChanges(prev, next *Config, live Live, logger *slog.Logger) {
	if prev.Notify != next.Notify && live.Toggles != nil {
		live.Toggles.Replace(next.Toggles())
		logger.Info("notification toggles reloaded",
			"status", next.Notify.Status,
			"game_change", next.Notify.GameChange,
			"active_inactive", next.Notify.ActiveInactive,
			"errors", next.Notify.Errors,
		)
	}
	if prev.Intervals() != next.Intervals() && live.Intervals != nil {
		if err := live.Intervals.Set(next.Intervals()); err != nil {
			logger.Warn("cannot apply reloaded intervals", "error", err)
		} else {
			logger.Info("poll intervals reloaded",
				"offline", next.Intervals().Offline,
				"online", next.Intervals().Online,
			)
		}
	}
	if prev.PSN.NPSSO != next.PSN.NPSSO || prev.SMTP != next.SMTP || prev.Monitor.OfflineInterruptSeconds != next.Monitor.OfflineInterruptSeconds {
		logger.Info("credential, mail or session settings changed; restart to apply")
	}
}
