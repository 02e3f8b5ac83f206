package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"tools.zach/dev/psnwatch/internal/config"
	"tools.zach/dev/psnwatch/internal/console"
	"tools.zach/dev/psnwatch/internal/control"
	"tools.zach/dev/psnwatch/internal/csvlog"
	"tools.zach/dev/psnwatch/internal/logger"
	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/paths"
	"tools.zach/dev/psnwatch/internal/psn"
	"tools.zach/dev/psnwatch/internal/snapshot"
	"tools.zach/dev/psnwatch/internal/tracker"
	"tools.zach/dev/psnwatch/internal/update"
)

// daemonOptions carries what the root command resolved for [runDaemon].
type daemonOptions struct {
	user    string
	dataDir string
	flags   runFlags
	changed *pflag.FlagSet
	stdout  io.Writer
}

// ///////////////////////////////////////////////
// Settings
// ///////////////////////////////////////////////

// loadSettings creates the default config on first run, loads it and applies
// the command-line overrides. fileCfg is the config as written on disk, which
// hot reload compares against.
func loadSettings(opts daemonOptions) (cfg, fileCfg *config.Config, created bool, err error) {
	created, err = config.EnsureExists(opts.dataDir)
	if err != nil {
		return nil, nil, false, fmt.Errorf("create default config: %w", err)
	}
	fileCfg, err = config.Load(opts.dataDir)
	if err != nil {
		return nil, nil, false, fmt.Errorf("load config: %w", err)
	}

	merged := *fileCfg
	opts.flags.apply(opts.changed, &merged)
	if err := merged.Validate(); err != nil {
		return nil, nil, false, fmt.Errorf("invalid option: %w", err)
	}
	if merged.PSN.NPSSO == "" {
		return nil, nil, false, errors.New("NPSSO key is required: set psn.npsso in config.toml, PSN_NPSSO in .env, or pass --npsso")
	}
	return &merged, fileCfg, created, nil
}

// newDaemonLogger builds the logger for one account. Without a log file the
// console sink is forced so lines are never dropped.
func newDaemonLogger(cfg *config.Config, dd paths.DataDir, user string, loc *time.Location) (*slog.Logger, io.Closer, string, error) {
	opts := logger.Options{
		Level:     cfg.LogLevel(),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Location:  loc,
	}
	if cfg.Log.File {
		opts.Path = dd.Log(user)
	} else if !term.IsTerminal(int(os.Stderr.Fd())) {
		opts.Console = os.Stderr
	}
	log, closer, err := logger.NewLogger(opts)
	if err != nil {
		return nil, nil, "", fmt.Errorf("init logger: %w", err)
	}
	return log, closer, opts.Path, nil
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// runDaemon monitors opts.user until ctx is cancelled.
func runDaemon(ctx context.Context, opts daemonOptions) error {
	dd := paths.DataDir{Root: opts.dataDir}

	cfg, fileCfg, created, err := loadSettings(opts)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	if alive, pid := checkStalePID(dd, opts.user); alive {
		return fmt.Errorf("%s is already being monitored (pid %d)", opts.user, pid)
	}
	token := pidToken()
	pidFile, err := writePID(dd, opts.user, token)
	if err != nil {
		return err
	}
	defer removePID(dd, opts.user, token, pidFile)

	log, logCloser, logPath, err := newDaemonLogger(cfg, dd, opts.user, loc)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	log.Info("psnwatch starting", "version", ver, "user", opts.user, "data_dir", dd.Root)
	if created {
		log.Info("wrote default config", "path", dd.Config())
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("update check panic", "error", r)
			}
		}()
		update.NewChecker(log).Log(ctx, ver)
	}()

	// Live handles shared by the loop, signals, control API and hot reload.
	toggles := notify.NewToggles(cfg.Toggles())
	intervals, err := monitor.NewIntervals(cfg.Intervals())
	if err != nil {
		return err
	}

	source, err := psn.New(psn.Config{
		NPSSO:        cfg.PSN.NPSSO,
		OnlineID:     opts.user,
		IgnoreTitles: cfg.Tracker.IgnoreTitles,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	var recorder monitor.Recorder
	csvPath := cfg.CSVPath(dd.Root)
	if csvPath != "" {
		w, err := csvlog.Open(csvPath, loc)
		if err != nil {
			return err
		}
		recorder = w
	}

	var sender notify.Sender
	if mail := cfg.Mail(); mail.Enabled() {
		sender = notify.NewMailer(mail, log)
	} else if s := toggles.Snapshot(); s.Status || s.GameChange || s.ActiveInactive {
		log.Warn("email notifications are enabled but smtp is not configured")
	}

	var (
		hub         *control.Hub
		broadcaster monitor.Broadcaster
	)
	if cfg.Control.Enabled {
		hub = control.NewHub(log)
		broadcaster = hub
	}

	store := snapshot.NewStore(dd.Root)
	mon, err := monitor.New(monitor.Config{
		User:          opts.user,
		Source:        source,
		Tracker:       tracker.New(tracker.Config{OfflineInterrupt: cfg.OfflineInterrupt()}),
		Store:         store,
		Classifier:    notify.NewClassifier(opts.user, toggles, notify.WithLocation(loc), notify.WithGranularity(cfg.Display.Granularity)),
		Intervals:     intervals,
		Sender:        sender,
		Recorder:      recorder,
		Broadcaster:   broadcaster,
		FetchTimeout:  cfg.FetchTimeout(),
		AliveInterval: cfg.AliveInterval(),
		Location:      loc,
		Granularity:   cfg.Display.Granularity,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	var endpoint control.Endpoint
	if cfg.Control.Enabled {
		endpoint, err = control.ResolveEndpoint(cfg.Control.Address, dd, opts.user)
		if err != nil {
			return err
		}
	}

	out := opts.stdout
	settings := console.RunSettings{
		Version:   ver,
		Intervals: intervals.Snapshot(),
		Toggles:   toggles.Snapshot(),
		LogFile:   logPath,
		CSVFile:   csvPath,
		Timezone:  loc,
	}
	if cfg.Control.Enabled {
		settings.Control = endpoint.String()
	}
	if err := console.Settings(out, settings); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := console.Heading(out, "Monitoring user "+opts.user); err != nil {
		return err
	}

	hs, err := mon.Start(ctx)
	if err != nil {
		log.Error("initial handshake failed", "error", err)
		return err
	}
	if hs.Snapshot != nil {
		console.Snapshot(out, store.Path(opts.user), hs.Snapshot.Status, hs.Snapshot.At, loc)
	}
	if err := console.Render(out, console.Profile(hs, time.Now(), loc)...); err != nil {
		return err
	}
	fmt.Fprintln(out)

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.Control.Enabled {
		if err := startControl(ctx, &wg, endpoint, mon, toggles, intervals, hub, logPath, log); err != nil {
			log.Warn("control endpoint disabled", "endpoint", endpoint.String(), "error", err)
		}
	}

	if w, err := config.NewWatcher(dd.Root, log); err != nil {
		log.Warn("config hot reload disabled", "error", err)
	} else {
		defer w.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			config.Reload(ctx, w, dd.Root, fileCfg, config.Live{Toggles: toggles, Intervals: intervals}, log)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchSignals(ctx, toggles, intervals, log)
	}()

	err = mon.Run(ctx)
	log.Info("psnwatch stopped", "user", opts.user)
	return err
}

// startControl listens on endpoint and serves the control API until ctx is
// done.
func startControl(ctx context.Context, wg *sync.WaitGroup, endpoint control.Endpoint, mon *monitor.Monitor,
	toggles *notify.Toggles, intervals *monitor.Intervals, hub *control.Hub, logPath string, log *slog.Logger,
) error {
	srv, err := control.NewServer(control.Options{
		Status:    mon.Status,
		Toggles:   toggles,
		Intervals: intervals,
		Hub:       hub,
		LogPath:   logPath,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	ln, err := control.Listen(endpoint)
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx, ln); err != nil {
			log.Warn("control endpoint stopped", "error", err)
		}
	}()
	return nil
}
