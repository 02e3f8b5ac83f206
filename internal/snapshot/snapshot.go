// Package snapshot persists the last confirmed status of a tracked account so
// session continuity survives a process restart.
//
// Each account has one file, psn_<id>_last_status.json, holding a two-element
// JSON array:
//
//	[
//	  1713705000,
//	  "online"
//	]
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"tools.zach/dev/psnwatch/internal/atomicfile"
	"tools.zach/dev/psnwatch/internal/paths"
	"tools.zach/dev/psnwatch/internal/presence"
)

// Snapshot is the durable (timestamp, status) pair.
type Snapshot struct {
	At     time.Time
	Status presence.Status
}

// MarshalJSON encodes s as [unix_seconds, status].
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.At.Unix(), string(s.Status)})
}

// UnmarshalJSON decodes the [unix_seconds, status] form.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("expected 2 elements, got %d", len(raw))
	}
	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	var status string
	if err := json.Unmarshal(raw[1], &status); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if status == "" {
		return errors.New("empty status")
	}
	s.At = time.Unix(int64(ts), 0)
	s.Status = presence.Status(status)
	return nil
}

// Store reads and writes snapshot files under a data directory.
type Store struct {
	dir paths.DataDir
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: paths.DataDir{Root: dir}}
}

// Path returns the snapshot file for id.
func (s *Store) Path(id string) string {
	return s.dir.Snapshot(id)
}

// Load returns the stored snapshot for id, or nil with no error when none
// has been written yet.
func (s *Store) Load(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.Path(id), err)
	}
	return &snap, nil
}

// Save overwrites the snapshot for id. at is truncated to whole seconds, the
// precision of the file format.
func (s *Store) Save(id string, at time.Time, status presence.Status) error {
	snap := Snapshot{At: at.Truncate(time.Second), Status: status}
	if err := atomicfile.WriteJSON(s.Path(id), snap, 0o644); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
