package tracker

import (
	"time"

	"tools.zach/dev/psnwatch/internal/presence"
)

// Event is emitted by [Tracker.Process]. The concrete types are
// [StatusChanged] and [GameChanged].
type Event interface {
	// When returns the observation time that produced the event.
	When() time.Time
	isEvent()
}

// ///////////////////////////////////////////////
// Status Events
// ///////////////////////////////////////////////

// Boundary tells whether a status change crossed the offline/online line.
type Boundary int

const (
	// NoBoundary is a sub-state change on the same side (online to busy).
	NoBoundary Boundary = iota
	// WentOnline is an offline to active transition.
	WentOnline
	// WentOffline is an active to offline transition.
	WentOffline
)

func (b Boundary) String() string {
	switch b {
	case WentOnline:
		return "went_online"
	case WentOffline:
		return "went_offline"
	default:
		return "none"
	}
}

// StatusChanged reports a change of the literal status value.
type StatusChanged struct {
	From presence.Status `json:"from"`
	To   presence.Status `json:"to"`
	// At is the observation time of the change.
	At time.Time `json:"at"`
	// Since is when the From status began.
	Since time.Time `json:"since"`
	// Duration is the time spent in From.
	Duration time.Duration `json:"duration"`
	// Boundary classifies the change for active/inactive alerting.
	Boundary Boundary `json:"boundary"`
	// Merged is set on WentOnline when the offline gap was short enough to
	// continue the previous session.
	Merged bool `json:"merged"`

	// SessionID identifies the online session that started (WentOnline) or
	// ended (WentOffline). Empty for NoBoundary changes while offline.
	SessionID string `json:"session_id,omitempty"`
	// SessionStart is the start of that session.
	SessionStart time.Time `json:"session_start,omitzero"`
	// SessionDuration is the length of the ended session. Only set on
	// WentOffline.
	SessionDuration time.Duration `json:"session_duration,omitempty"`
	// GamesCount and GameTotal are the session aggregates after the change.
	GamesCount int           `json:"games_count"`
	GameTotal  time.Duration `json:"game_total"`

	// GameName and GamePlatform describe the title being played at At.
	GameName     string `json:"game_name,omitempty"`
	GamePlatform string `json:"game_platform,omitempty"`
}

func (e StatusChanged) When() time.Time { return e.At }
func (StatusChanged) isEvent()          {}

// ///////////////////////////////////////////////
// Game Events
// ///////////////////////////////////////////////

// GameKind is the type of a game transition.
type GameKind int

const (
	GameStarted GameKind = iota
	GameSwitched
	GameStopped
)

func (k GameKind) String() string {
	switch k {
	case GameSwitched:
		return "switch"
	case GameStopped:
		return "stop"
	default:
		return "start"
	}
}

// GameChanged reports a start, switch or stop of the played title.
type GameChanged struct {
	Kind GameKind `json:"kind"`
	// From is the previous title, empty on start.
	From string `json:"from,omitempty"`
	// To is the new title, empty on stop.
	To string `json:"to,omitempty"`
	// Platform is the launch platform of To (or From on stop).
	Platform string    `json:"platform,omitempty"`
	At       time.Time `json:"at"`
	// Since is when From started. Zero on start.
	Since time.Time `json:"since,omitzero"`
	// Duration is how long From was played. Zero on start.
	Duration time.Duration `json:"duration"`
}

func (e GameChanged) When() time.Time { return e.At }
func (GameChanged) isEvent()          {}
