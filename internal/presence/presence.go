// Package presence defines the normalized presence model shared by the PSN
// adapter, the session tracker and the notification layer. Nothing in this
// package performs I/O.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is the literal presence value reported by the source, lowercased
// (e.g. "online", "busy", "offline"). Sub-states are kept verbatim for display.
type Status string

// Offline is the only status on the inactive side of the session boundary.
const Offline Status = "offline"

// Online is the canonical active status.
const Online Status = "online"

// ParseStatus normalizes a raw status string. An empty result is reported as
// a malformed observation.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", &FetchError{Kind: Malformed, Err: errors.New("missing online status")}
	}
	return Status(s), nil
}

// Active reports whether s is on the online side of the session boundary.
// Every sub-state other than offline counts as active.
func (s Status) Active() bool {
	return s != "" && s != Offline
}

// Upper returns the status in the upper-case form used in banner and log lines.
func (s Status) Upper() string {
	return strings.ToUpper(string(s))
}

// ///////////////////////////////////////////////
// Observation
// ///////////////////////////////////////////////

// Observation is one normalized polling result.
type Observation struct {
	// Status is the reported presence value. Never empty.
	Status Status
	// GameName is the title currently being played, empty when none.
	GameName string
	// GamePlatform is the platform the current title was launched on.
	GamePlatform string
	// Platform is the primary platform the account is signed in on.
	Platform string
	// ObservedAt is when the observation was taken.
	ObservedAt time.Time
	// LastSeenAt is the source-reported last-online time. Only meaningful when
	// Status is offline; zero when unknown.
	LastSeenAt time.Time
}

// Playing reports whether the observation carries a game.
func (o Observation) Playing() bool { return o.GameName != "" }

// SameAs reports whether o and other describe the same presence state,
// ignoring the observation and last-seen timestamps.
func (o Observation) SameAs(other Observation) bool {
	return o.Status == other.Status && o.GameName == other.GameName
}

// Profile is the account identity fetched during the initial handshake.
type Profile struct {
	OnlineID  string
	AccountID string
	AboutMe   string
	IsPlus    bool
}

// Source fetches presence for a single tracked account. Implementations must
// honour ctx cancellation and report every failure as a *FetchError.
type Source interface {
	Profile(ctx context.Context) (Profile, error)
	Fetch(ctx context.Context) (Observation, error)
}

// ///////////////////////////////////////////////
// Fetch Errors
// ///////////////////////////////////////////////

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind int

const (
	// Network covers transport failures and unexpected upstream responses.
	Network FetchErrorKind = iota
	// Timeout means the bounded fetch deadline fired.
	Timeout
	// Auth means the credential or access token was rejected.
	Auth
	// Malformed means the payload could not be normalized (e.g. empty status).
	Malformed
)

// String returns the lowercase name of k.
func (k FetchErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Auth:
		return "auth"
	case Malformed:
		return "malformed"
	default:
		return "network"
	}
}

// FetchError is the typed failure returned by a [Source].
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors that are not a *FetchError are
// classified by their context cause, falling back to Network.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Network
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == Auth
}
