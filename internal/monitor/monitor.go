// Package monitor runs the cooperative polling loop: fetch presence, feed the
// tracker, persist status changes, write audit rows, dispatch notifications,
// then sleep for the status-appropriate interval.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tools.zach/dev/psnwatch/internal/humanize"
	"tools.zach/dev/psnwatch/internal/logger"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/presence"
	"tools.zach/dev/psnwatch/internal/snapshot"
	"tools.zach/dev/psnwatch/internal/tracker"
)

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// SnapshotStore persists the last confirmed status per account.
type SnapshotStore interface {
	Load(id string) (*snapshot.Snapshot, error)
	Save(id string, at time.Time, status presence.Status) error
}

// Recorder appends an audit row for every cycle that changed something.
type Recorder interface {
	Write(at time.Time, status presence.Status, game string) error
}

// Broadcaster fans updates out to live subscribers.
type Broadcaster interface {
	Broadcast(u Update)
}

// Update is published for every tracker event.
type Update struct {
	Type         string               `json:"type"`
	Event        tracker.Event        `json:"event"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Sent         bool                 `json:"sent"`
}

// Config wires a [Monitor].
type Config struct {
	// User is the tracked online ID; it keys the snapshot file.
	User       string
	Source     presence.Source
	Tracker    *tracker.Tracker
	Store      SnapshotStore
	Classifier *notify.Classifier
	Intervals  *Intervals

	// Sender, Recorder and Broadcaster are optional sinks.
	Sender      notify.Sender
	Recorder    Recorder
	Broadcaster Broadcaster

	// FetchTimeout bounds every Source call.
	FetchTimeout time.Duration
	// AliveInterval is how long the loop stays quiet while offline before it
	// logs an alive check. Zero disables it.
	AliveInterval time.Duration
	// Location and Granularity shape durations and dates in log lines.
	Location    *time.Location
	Granularity int

	Logger *slog.Logger
	// Now and Sleep replace the clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Status is the loop's published view, read by the control endpoint.
type Status struct {
	Profile     presence.Profile `json:"profile"`
	State       tracker.State    `json:"state"`
	LastCheck   time.Time        `json:"last_check,omitzero"`
	LastError   string           `json:"last_error,omitempty"`
	Failures    int              `json:"consecutive_failures"`
	NextCheckIn time.Duration    `json:"next_check_in"`
}

// Handshake is the outcome of [Monitor.Start].
type Handshake struct {
	Profile     presence.Profile
	Observation presence.Observation
	Startup     tracker.Startup
	State       tracker.State
	// Snapshot is the persisted status found at startup, nil on first run.
	Snapshot *snapshot.Snapshot
}

// Monitor owns the polling loop. Only the loop goroutine touches the tracker.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	profile   presence.Profile
	failures  int
	lastErr   string
	lastCheck time.Time
	// quietSince is when the last change or alive check happened.
	quietSince time.Time

	status atomic.Pointer[Status]
}

// New validates cfg and returns a Monitor.
func New(cfg Config) (*Monitor, error) {
	switch {
	case cfg.User == "":
		return nil, errors.New("monitor: user is required")
	case cfg.Source == nil:
		return nil, errors.New("monitor: source is required")
	case cfg.Tracker == nil:
		return nil, errors.New("monitor: tracker is required")
	case cfg.Store == nil:
		return nil, errors.New("monitor: snapshot store is required")
	case cfg.Classifier == nil:
		return nil, errors.New("monitor: classifier is required")
	case cfg.Intervals == nil:
		return nil, errors.New("monitor: intervals are required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	m := &Monitor{cfg: cfg, logger: cfg.Logger}
	m.status.Store(&Status{})
	return m, nil
}

// Status returns the most recently published loop status.
func (m *Monitor) Status() Status {
	return *m.status.Load()
}

// ///////////////////////////////////////////////
// Handshake
// ///////////////////////////////////////////////

// Start fetches the profile and the first observation, then reconciles the
// tracker with the persisted snapshot. Any fetch failure here is fatal.
func (m *Monitor) Start(ctx context.Context) (Handshake, error) {
	fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	profile, err := m.cfg.Source.Profile(fctx)
	cancel()
	if err != nil {
		return Handshake{}, fmt.Errorf("fetch profile for %s: %w", m.cfg.User, err)
	}
	m.profile = profile

	obs, err := m.fetch(ctx)
	if err != nil {
		return Handshake{}, fmt.Errorf("fetch presence for %s: %w", m.cfg.User, err)
	}

	snap, err := m.cfg.Store.Load(m.cfg.User)
	if err != nil {
		m.logger.Warn("cannot load last status, starting fresh", "error", err)
		snap = nil
	}
	if snap != nil {
		m.logger.Info("last status loaded", "status", string(snap.Status), "at", snap.At.In(m.cfg.Location))
	}

	startup := m.cfg.Tracker.Start(obs, snap)
	state := m.cfg.Tracker.State()
	if startup.Changed {
		m.persist(state.StatusSince, state.Status)
		m.record(obs)
	}

	now := m.cfg.Now()
	m.lastCheck = now
	m.quietSince = now
	m.publish(state)

	m.logger.Info("monitoring started",
		"online_id", profile.OnlineID,
		"account_id", profile.AccountID,
		"status", string(state.Status),
		"since", state.StatusSince.In(m.cfg.Location),
		"restored", startup.Restored,
	)
	return Handshake{
		Profile:     profile,
		Observation: obs,
		Startup:     startup,
		State:       state,
		Snapshot:    snap,
	}, nil
}

// ///////////////////////////////////////////////
// Loop
// ///////////////////////////////////////////////

// Run polls until ctx is cancelled. Cancellation is checked at the top of
// every iteration and interrupts the sleep, never a cycle in progress.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := m.cfg.Intervals.For(m.cfg.Tracker.State().Status)
		m.setNext(wait)
		if err := m.cfg.Sleep(ctx, wait); err != nil {
			return nil
		}
		m.Cycle(ctx)
	}
}

// Cycle performs one fetch-process-dispatch round.
func (m *Monitor) Cycle(ctx context.Context) {
	obs, err := m.fetch(ctx)
	now := m.cfg.Now()
	m.lastCheck = now
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.failed(ctx, err, now)
		return
	}

	if m.failures > 0 {
		m.logger.Info("fetch recovered", "after_failures", m.failures)
	}
	m.failures = 0
	m.lastErr = ""
	m.cfg.Classifier.Recovered()
	logger.Trace(m.logger, "observation",
		"status", string(obs.Status), "game", obs.GameName, "platform", obs.Platform)

	events := m.cfg.Tracker.Process(obs)
	state := m.cfg.Tracker.State()

	if len(events) == 0 {
		m.aliveCheck(state, now)
		m.publish(state)
		return
	}
	m.quietSince = now

	for _, ev := range events {
		if sc, ok := ev.(tracker.StatusChanged); ok {
			m.persist(sc.At, sc.To)
		}
	}
	m.record(obs)

	for _, ev := range events {
		m.logEvent(ev)
		m.dispatch(ctx, ev)
	}
	m.publish(state)
}

// fetch calls the source with the bounded per-call timeout.
func (m *Monitor) fetch(ctx context.Context) (presence.Observation, error) {
	fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()
	obs, err := m.cfg.Source.Fetch(fctx)
	if err != nil && errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if presence.KindOf(err) != presence.Timeout {
			err = &presence.FetchError{Kind: presence.Timeout, Err: err}
		}
	}
	return obs, err
}

// failed logs a skipped cycle and sends the error notification when eligible.
func (m *Monitor) failed(ctx context.Context, err error, now time.Time) {
	m.failures++
	m.lastErr = err.Error()
	retry := m.cfg.Intervals.For(m.cfg.Tracker.State().Status)
	m.logger.Warn("fetch failed, skipping cycle",
		"kind", presence.KindOf(err).String(),
		"error", err,
		"retry_in", retry,
		"consecutive", m.failures,
	)
	if n, ok := m.cfg.Classifier.ClassifyFailure(err, now); ok {
		m.send(ctx, n)
	}
	m.publish(m.cfg.Tracker.State())
}

// aliveCheck logs a heartbeat after a long quiet stretch while offline.
func (m *Monitor) aliveCheck(state tracker.State, now time.Time) {
	if m.cfg.AliveInterval <= 0 || state.Status.Active() {
		return
	}
	if now.Sub(m.quietSince) >= m.cfg.AliveInterval {
		m.logger.Info("alive check", "status", string(state.Status),
			"offline_for", humanize.Span(now, state.StatusSince, humanize.SpanOptions{HideSeconds: true}))
		m.quietSince = now
	}
}

// ///////////////////////////////////////////////
// Sinks
// ///////////////////////////////////////////////

// persist saves at with the whole-second precision the snapshot file keeps.
func (m *Monitor) persist(at time.Time, status presence.Status) {
	if err := m.cfg.Store.Save(m.cfg.User, at.Truncate(time.Second), status); err != nil {
		m.logger.Warn("cannot save last status", "error", err)
	}
}

func (m *Monitor) record(obs presence.Observation) {
	if m.cfg.Recorder == nil {
		return
	}
	if err := m.cfg.Recorder.Write(m.cfg.Now(), obs.Status, obs.GameName); err != nil {
		m.logger.Warn("cannot write CSV entry", "error", err)
	}
}

func (m *Monitor) dispatch(ctx context.Context, ev tracker.Event) {
	n, ok := m.cfg.Classifier.Classify(ev)
	sent := false
	if ok {
		sent = m.send(ctx, n)
	}
	if m.cfg.Broadcaster != nil {
		u := Update{Event: ev, Sent: sent}
		if ok {
			u.Notification = &n
		}
		switch ev.(type) {
		case tracker.StatusChanged:
			u.Type = "status_changed"
		case tracker.GameChanged:
			u.Type = "game_changed"
		}
		m.cfg.Broadcaster.Broadcast(u)
	}
}

func (m *Monitor) send(ctx context.Context, n notify.Notification) bool {
	if m.cfg.Sender == nil {
		m.logger.Debug("notification not sent, no sender configured", "subject", n.Subject)
		return false
	}
	if err := m.cfg.Sender.Send(ctx, n); err != nil {
		m.logger.Warn("cannot send notification", "category", string(n.Category), "error", err)
		return false
	}
	return true
}

// logEvent writes a human-oriented line for ev.
func (m *Monitor) logEvent(ev tracker.Event) {
	span := func(a, b time.Time) string {
		return humanize.Span(a.In(m.cfg.Location), b.In(m.cfg.Location), humanize.SpanOptions{Granularity: m.cfg.Granularity})
	}
	switch e := ev.(type) {
	case tracker.StatusChanged:
		attrs := []any{
			"from", string(e.From), "to", string(e.To),
			"was_for", span(e.At, e.Since),
		}
		switch e.Boundary {
		case tracker.WentOnline:
			attrs = append(attrs, "merged", e.Merged, "session", e.SessionID)
			m.logger.Info("user got active", attrs...)
		case tracker.WentOffline:
			attrs = append(attrs,
				"session_length", span(e.At, e.SessionStart),
				"games", e.GamesCount,
				"played", humanize.Duration(e.GameTotal, m.cfg.Granularity),
			)
			m.logger.Info("user got offline", attrs...)
		default:
			m.logger.Info("status changed", attrs...)
		}
	case tracker.GameChanged:
		switch e.Kind {
		case tracker.GameStarted:
			m.logger.Info("game started", "game", e.To, "platform", e.Platform)
		case tracker.GameSwitched:
			m.logger.Info("game changed", "from", e.From, "to", e.To, "platform", e.Platform, "played", span(e.At, e.Since))
		case tracker.GameStopped:
			m.logger.Info("game stopped", "game", e.From, "played", span(e.At, e.Since))
		}
	}
}

func (m *Monitor) publish(state tracker.State) {
	prev := m.status.Load()
	m.status.Store(&Status{
		Profile:     m.profile,
		State:       state,
		LastCheck:   m.lastCheck,
		LastError:   m.lastErr,
		Failures:    m.failures,
		NextCheckIn: prev.NextCheckIn,
	})
}

func (m *Monitor) setNext(d time.Duration) {
	s := *m.status.Load()
	s.NextCheckIn = d
	m.status.Store(&s)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
