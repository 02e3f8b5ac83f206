// Package csvlog appends presence changes to a CSV audit file.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/psnwatch/internal/presence"
)

// Header is written once, when the file is first created.
var Header = []string{"Date", "Status", "Game name"}

// DateLayout formats the Date column in the writer's location.
const DateLayout = "2006-01-02 15:04:05"

// Writer appends rows to a CSV file. Each row opens and closes the file so an
// external rotation or truncation is picked up on the next write.
type Writer struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
}

// Open prepares path for appending, creating the file and writing the header
// when it does not exist or is empty. loc may be nil for the local zone.
func Open(path string, loc *time.Location) (*Writer, error) {
	if loc == nil {
		loc = time.Local
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(Header); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return &Writer{path: path, loc: loc}, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Write appends one row: the timestamp, the lowercase status and the game
// name (empty when none).
func (w *Writer) Write(at time.Time, status presence.Status, game string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{
		at.In(w.loc).Format(DateLayout),
		strings.ToLower(string(status)),
		game,
	}); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}
