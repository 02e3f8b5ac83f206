// Package notify decides which tracker events reach the operator and renders
// them as email notifications.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Toggle names a notification switch.
type Toggle string

const (
	// ToggleStatus fires on every status change, including sub-states.
	ToggleStatus Toggle = "status"
	// ToggleGameChange fires on game start, switch and stop.
	ToggleGameChange Toggle = "game_change"
	// ToggleActiveInactive fires when the account crosses the offline boundary.
	ToggleActiveInactive Toggle = "active_inactive"
	// ToggleErrors fires once per outage on authentication failures.
	ToggleErrors Toggle = "errors"
)

// AllToggles lists every toggle in display order.
var AllToggles = []Toggle{ToggleActiveInactive, ToggleGameChange, ToggleStatus, ToggleErrors}

// ParseToggle accepts a toggle name, tolerating dashes and case.
func ParseToggle(s string) (Toggle, error) {
	name := Toggle(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, t := range AllToggles {
		if t == name {
			return t, nil
		}
	}
	names := make([]string, len(AllToggles))
	for i, t := range AllToggles {
		names[i] = string(t)
	}
	sort.Strings(names)
	return "", fmt.Errorf("unknown toggle %q (valid: %s)", s, strings.Join(names, ", "))
}

// Settings is a point-in-time copy of all toggles.
type Settings struct {
	Status         bool `json:"status"`
	GameChange     bool `json:"game_change"`
	ActiveInactive bool `json:"active_inactive"`
	Errors         bool `json:"errors"`
}

// Get returns the value of toggle t.
func (s Settings) Get(t Toggle) bool {
	switch t {
	case ToggleStatus:
		return s.Status
	case ToggleGameChange:
		return s.GameChange
	case ToggleActiveInactive:
		return s.ActiveInactive
	case ToggleErrors:
		return s.Errors
	}
	return false
}

func (s *Settings) set(t Toggle, on bool) {
	switch t {
	case ToggleStatus:
		s.Status = on
	case ToggleGameChange:
		s.GameChange = on
	case ToggleActiveInactive:
		s.ActiveInactive = on
	case ToggleErrors:
		s.Errors = on
	}
}

// Toggles is the shared, concurrency-safe notification switchboard. The
// polling loop reads it; signal handlers, the control endpoint and the config
// watcher change it.
type Toggles struct {
	mu sync.RWMutex
	s  Settings
}

// NewToggles returns a handle initialized to s.
func NewToggles(s Settings) *Toggles {
	return &Toggles{s: s}
}

// Snapshot returns the current settings.
func (t *Toggles) Snapshot() Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s
}

// Enabled reports whether toggle name is on.
func (t *Toggles) Enabled(name Toggle) bool {
	return t.Snapshot().Get(name)
}

// Set switches toggle name on or off.
func (t *Toggles) Set(name Toggle, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.set(name, on)
}

// Flip inverts toggle name and returns the new value.
func (t *Toggles) Flip(name Toggle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	on := !t.s.Get(name)
	t.s.set(name, on)
	return on
}

// Replace overwrites every toggle at once.
func (t *Toggles) Replace(s Settings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s = s
}
