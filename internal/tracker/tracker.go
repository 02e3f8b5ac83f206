// Package tracker turns successive presence observations into session
// lifecycle events. It owns the session state for a single tracked account and
// performs no I/O: persistence, notification and logging happen in the caller.
//
// The state machine has two sides, offline and active, where every status other
// than "offline" is active. Orthogonally the account is either idle or playing
// a title. Within one observation the status transition is applied before the
// game transition, both using the observation time.
package tracker

import (
	"time"

	"github.com/google/uuid"

	"tools.zach/dev/psnwatch/internal/presence"
	"tools.zach/dev/psnwatch/internal/snapshot"
)

// DefaultOfflineInterrupt is the longest offline gap that still continues the
// previous online session.
const DefaultOfflineInterrupt = 420 * time.Second

// Config parameterizes a [Tracker].
type Config struct {
	// OfflineInterrupt is the merge threshold. Zero selects
	// DefaultOfflineInterrupt; a negative value disables merging.
	OfflineInterrupt time.Duration
	// NewSessionID generates session identifiers. Defaults to random UUIDs.
	NewSessionID func() string
}

// State is a copy of the tracker's session bookkeeping. A zero time means
// "not set"; SessionStart is zero exactly when Status is offline.
type State struct {
	Status      presence.Status `json:"status"`
	StatusSince time.Time       `json:"status_since"`
	Platform    string          `json:"platform,omitempty"`

	SessionID        string    `json:"session_id,omitempty"`
	SessionStart     time.Time `json:"session_start,omitzero"`
	SessionStartPrev time.Time `json:"session_start_prev,omitzero"`
	PrevSessionID    string    `json:"prev_session_id,omitempty"`

	GameName      string        `json:"game_name,omitempty"`
	GamePlatform  string        `json:"game_platform,omitempty"`
	GameStartedAt time.Time     `json:"game_started_at,omitzero"`
	GameTotal     time.Duration `json:"game_total"`
	GamesCount    int           `json:"games_count"`
	GameFlushDone bool          `json:"-"`
}

// Startup describes how [Tracker.Start] reconciled the first observation with
// the persisted snapshot.
type Startup struct {
	// Changed is true when there was no snapshot or its status differs from
	// the live one. The caller should persist (StatusSince, Status) and write
	// an audit row.
	Changed bool
	// Corrected is true when StatusSince was moved back from the observation
	// time using the snapshot or the source's last-seen time.
	Corrected bool
	// Restored is true when an active session was resumed from the snapshot.
	Restored bool
}

// Tracker is the session state machine. It is not safe for concurrent use;
// the polling loop is its only caller.
type Tracker struct {
	cfg   Config
	state State
	// accruedFrom is the point up to which the current title's play time has
	// been added to GameTotal.
	accruedFrom time.Time
}

// New returns a Tracker. Call [Tracker.Start] with the first observation before
// [Tracker.Process].
func New(cfg Config) *Tracker {
	if cfg.OfflineInterrupt == 0 {
		cfg.OfflineInterrupt = DefaultOfflineInterrupt
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	return &Tracker{cfg: cfg}
}

// State returns a copy of the current session state.
func (t *Tracker) State() State { return t.state }

// ///////////////////////////////////////////////
// Startup Reconciliation
// ///////////////////////////////////////////////

// Start seeds the state from the first live observation and the persisted
// snapshot, which may be nil. It emits no events.
//
// When the account is offline, StatusSince becomes the later of the source's
// last-seen time and the snapshot time so the offline duration is never
// understated. When the account is active with the same status as the
// snapshot, the session start is restored so it survives the restart.
func (t *Tracker) Start(obs presence.Observation, snap *snapshot.Snapshot) Startup {
	now := obs.ObservedAt
	t.state = State{
		Status:       obs.Status,
		StatusSince:  now,
		Platform:     obs.Platform,
		GameName:     obs.GameName,
		GamePlatform: obs.GamePlatform,
	}
	t.accruedFrom = time.Time{}
	if obs.Playing() {
		t.state.GamesCount = 1
		t.state.GameStartedAt = now
		t.accruedFrom = now
	}
	if obs.Status.Active() {
		t.state.SessionStart = now
		t.state.SessionID = t.cfg.NewSessionID()
	}

	var res Startup
	switch {
	case snap == nil:
		res.Changed = true
		if !obs.Status.Active() && !obs.LastSeenAt.IsZero() {
			t.state.StatusSince = obs.LastSeenAt
		}
	default:
		res.Changed = snap.Status != obs.Status
		if !obs.Status.Active() {
			t.state.StatusSince = snap.At
			if obs.LastSeenAt.After(snap.At) {
				t.state.StatusSince = obs.LastSeenAt
			}
		} else if obs.Status == snap.Status {
			t.state.SessionStart = snap.At
			t.state.SessionStartPrev = snap.At
			t.state.StatusSince = snap.At
			res.Restored = true
		}
	}
	res.Corrected = !t.state.StatusSince.Equal(now)
	return res
}

// ///////////////////////////////////////////////
// Observation Processing
// ///////////////////////////////////////////////

// Process applies one successfully fetched observation and returns the
// resulting events, status change first. An observation identical to the
// previous one yields no events.
func (t *Tracker) Process(obs presence.Observation) []Event {
	now := obs.ObservedAt
	t.state.GameFlushDone = false
	if obs.Platform != "" {
		t.state.Platform = obs.Platform
	}

	wasActive := t.state.Status.Active()
	var events []Event
	if obs.Status != t.state.Status {
		events = append(events, t.applyStatus(obs, now))
	}
	if obs.GameName != t.state.GameName {
		events = append(events, t.applyGame(obs, now, wasActive))
	} else if obs.GamePlatform != "" {
		t.state.GamePlatform = obs.GamePlatform
	}
	return events
}

// applyStatus handles a change of the literal status value.
func (t *Tracker) applyStatus(obs presence.Observation, now time.Time) StatusChanged {
	s := &t.state
	ev := StatusChanged{
		From:     s.Status,
		To:       obs.Status,
		At:       now,
		Since:    s.StatusSince,
		Duration: elapsed(s.StatusSince, now),
	}

	wasActive, isActive := s.Status.Active(), obs.Status.Active()
	switch {
	case !wasActive && isActive:
		ev.Boundary = WentOnline
		gap := now.Sub(s.StatusSince)
		if t.cfg.OfflineInterrupt >= 0 && gap <= t.cfg.OfflineInterrupt && !s.SessionStartPrev.IsZero() {
			s.SessionStart = s.SessionStartPrev
			s.SessionID = s.PrevSessionID
			ev.Merged = true
		} else {
			s.SessionStart = now
			s.SessionID = t.cfg.NewSessionID()
			s.GameTotal = 0
			s.GamesCount = 0
			if s.GameName != "" {
				// A title carried over the offline gap opens the new session.
				t.accruedFrom = now
				if obs.GameName == s.GameName {
					s.GamesCount = 1
				}
			}
		}
		if s.SessionID == "" {
			s.SessionID = t.cfg.NewSessionID()
		}
		ev.SessionStart = s.SessionStart

	case wasActive && !isActive:
		ev.Boundary = WentOffline
		if s.GameName != "" {
			s.GameTotal += elapsed(t.accruedFrom, now)
			t.accruedFrom = now
			s.GameFlushDone = true
		}
		ev.SessionStart = s.SessionStart
		ev.SessionDuration = elapsed(s.SessionStart, now)
		s.SessionStartPrev = s.SessionStart
		s.PrevSessionID = s.SessionID
		s.SessionStart = time.Time{}
		s.SessionID = ""
		ev.SessionID = s.PrevSessionID
	}

	if ev.SessionID == "" {
		ev.SessionID = s.SessionID
	}
	ev.GamesCount = s.GamesCount
	ev.GameTotal = s.GameTotal
	ev.GameName = obs.GameName
	ev.GamePlatform = obs.GamePlatform

	s.Status = obs.Status
	s.StatusSince = now
	return ev
}

// applyGame handles a change of the played title. Play time is credited only
// when the user was active before this observation; a title that ends or
// changes while offline adds nothing past the offline flush.
func (t *Tracker) applyGame(obs presence.Observation, now time.Time, wasActive bool) GameChanged {
	s := &t.state
	ev := GameChanged{
		From:     s.GameName,
		To:       obs.GameName,
		Platform: obs.GamePlatform,
		At:       now,
	}

	switch {
	case s.GameName == "":
		ev.Kind = GameStarted
		s.GamesCount++
		t.accruedFrom = now

	case obs.GameName != "":
		ev.Kind = GameSwitched
		ev.Since = s.GameStartedAt
		ev.Duration = elapsed(s.GameStartedAt, now)
		if wasActive {
			s.GameTotal += elapsed(t.accruedFrom, now)
		}
		s.GamesCount++
		t.accruedFrom = now

	default:
		ev.Kind = GameStopped
		ev.Platform = s.GamePlatform
		ev.Since = s.GameStartedAt
		ev.Duration = elapsed(s.GameStartedAt, now)
		if wasActive && !s.GameFlushDone {
			s.GameTotal += elapsed(t.accruedFrom, now)
		}
		t.accruedFrom = time.Time{}
	}

	s.GameName = obs.GameName
	s.GamePlatform = obs.GamePlatform
	s.GameStartedAt = now
	if obs.GameName == "" {
		s.GameStartedAt = time.Time{}
	}
	return ev
}

// elapsed returns to-from truncated to whole seconds and clamped at zero. A
// zero from yields zero.
func elapsed(from, to time.Time) time.Duration {
	if from.IsZero() {
		return 0
	}
	d := to.Sub(from).Truncate(time.Second)
	if d < 0 {
		return 0
	}
	return d
}
