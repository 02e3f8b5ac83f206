package monitor

import (
	"errors"
	"sync"
	"time"

	"tools.zach/dev/psnwatch/internal/presence"
)

// IntervalSettings is a copy of the poll intervals.
type IntervalSettings struct {
	// Offline is the poll interval while the account is offline.
	Offline time.Duration `json:"offline"`
	// Online is the poll interval while the account is active.
	Online time.Duration `json:"online"`
	// Step is the amount [Intervals.AdjustOnline] adds or removes.
	Step time.Duration `json:"step"`
}

// Validate rejects non-positive intervals.
func (s IntervalSettings) Validate() error {
	if s.Offline <= 0 || s.Online <= 0 || s.Step <= 0 {
		return errors.New("intervals must be positive")
	}
	return nil
}

// Intervals is the shared, concurrency-safe poll interval handle. The loop
// reads it before every sleep; signal handlers and the control endpoint
// change it.
type Intervals struct {
	mu sync.RWMutex
	s  IntervalSettings
}

// NewIntervals returns a handle initialized to s.
func NewIntervals(s IntervalSettings) (*Intervals, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Intervals{s: s}, nil
}

// For returns the poll interval appropriate for status.
func (i *Intervals) For(status presence.Status) time.Duration {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if status.Active() {
		return i.s.Online
	}
	return i.s.Offline
}

// Snapshot returns the current settings.
func (i *Intervals) Snapshot() IntervalSettings {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.s
}

// Set replaces all intervals.
func (i *Intervals) Set(s IntervalSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.s = s
	return nil
}

// AdjustOnline moves the online interval by steps times the step size and
// returns the new value. The result never drops below one step.
func (i *Intervals) AdjustOnline(steps int) time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	next := i.s.Online + time.Duration(steps)*i.s.Step
	if next < i.s.Step {
		next = i.s.Step
	}
	i.s.Online = next
	return next
}
