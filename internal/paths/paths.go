// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"path/filepath"
	"strings"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	ConfigFile = "config.toml"
	EnvFile    = ".env"
	BinaryName = "psnwatch"
	DataDirRel = ".psnwatch" // relative to $HOME
)

// Remote-fetched file paths (relative to repo root).
const (
	ReleaseManifest = ".release-manifest.json"
)

// SnapshotFileFor returns the last-status snapshot file name for a tracked
// account. For example, SnapshotFileFor("misiektoja") returns
// "psn_misiektoja_last_status.json".
func SnapshotFileFor(id string) string {
	return "psn_" + sanitize(id) + "_last_status.json"
}

// LogFileFor returns the per-account log file name.
func LogFileFor(id string) string {
	return BinaryName + "_" + sanitize(id) + ".log"
}

// PIDFileFor returns the per-account PID file name. One daemon may run per
// tracked account.
func PIDFileFor(id string) string {
	return BinaryName + "_" + sanitize(id) + ".pid"
}

// SocketFileFor returns the per-account control socket file name.
func SocketFileFor(id string) string {
	return BinaryName + "_" + sanitize(id) + ".sock"
}

// PipeNameFor returns the Windows named pipe used for the control channel.
func PipeNameFor(id string) string {
	return `\\.\pipe\` + BinaryName + "-" + sanitize(id)
}

// sanitize replaces path separators so an online ID can never escape the data
// directory.
func sanitize(id string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(id)
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Env returns the full path to the dotenv secrets file.
func (d DataDir) Env() string { return filepath.Join(d.Root, EnvFile) }

// Snapshot returns the full path to the snapshot file for id.
func (d DataDir) Snapshot(id string) string { return filepath.Join(d.Root, SnapshotFileFor(id)) }

// Log returns the full path to the log file for id.
func (d DataDir) Log(id string) string { return filepath.Join(d.Root, LogFileFor(id)) }

// PID returns the full path to the PID file for id.
func (d DataDir) PID(id string) string { return filepath.Join(d.Root, PIDFileFor(id)) }

// Socket returns the full path to the control socket for id.
func (d DataDir) Socket(id string) string { return filepath.Join(d.Root, SocketFileFor(id)) }
