// Package config provides configuration loading and defaults for the psnwatch
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// Secrets may instead come from a .env file next to it or from the process
// environment, which override the file values.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	rootpkg "tools.zach/dev/psnwatch"
	"tools.zach/dev/psnwatch/internal/atomicfile"
	"tools.zach/dev/psnwatch/internal/logger"
	"tools.zach/dev/psnwatch/internal/migrate"
	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/paths"
	"tools.zach/dev/psnwatch/internal/psn"
)

// Environment variables that override secrets in the config file.
const (
	EnvNPSSO        = "PSN_NPSSO"
	EnvSMTPUser     = "SMTP_USER"
	EnvSMTPPassword = "SMTP_PASSWORD"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// PSN holds the account credential and display time zone.
	PSN PSNConfig `toml:"psn"`
	// Monitor holds polling and session settings.
	Monitor MonitorConfig `toml:"monitor"`
	// Notify holds the initial notification toggles.
	Notify NotifyConfig `toml:"notify"`
	// SMTP holds the outgoing mail server.
	SMTP SMTPConfig `toml:"smtp"`
	// Tracker holds presence filtering settings.
	Tracker TrackerConfig `toml:"tracker"`
	// CSV holds the audit file settings.
	CSV CSVConfig `toml:"csv"`
	// Display holds human-readable output settings.
	Display DisplayConfig `toml:"display"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Control holds the local control endpoint settings.
	Control ControlConfig `toml:"control"`
}

// PSNConfig holds PlayStation Network settings.
type PSNConfig struct {
	// NPSSO is the session cookie used to obtain access tokens.
	NPSSO string `toml:"npsso"`
	// Timezone is an IANA zone name for dates in logs and emails, or "Local".
	Timezone string `toml:"timezone"`
}

// MonitorConfig holds polling and session settings.
type MonitorConfig struct {
	// CheckIntervalSeconds is the poll interval while the user is offline.
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
	// ActiveCheckIntervalSeconds is the poll interval while the user is active.
	ActiveCheckIntervalSeconds int `toml:"active_check_interval_seconds"`
	// ActiveIntervalStepSeconds is how far a signal moves the active interval.
	ActiveIntervalStepSeconds int `toml:"active_interval_step_seconds"`
	// OfflineInterruptSeconds is the longest offline gap merged back into the
	// previous session. Negative disables merging.
	OfflineInterruptSeconds int `toml:"offline_interrupt_seconds"`
	// FetchTimeoutSeconds bounds every PSN request.
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`
	// AliveIntervalSeconds is how often an offline heartbeat is logged (0 = never).
	AliveIntervalSeconds int `toml:"alive_interval_seconds"`
}

// NotifyConfig holds the notification toggles at startup.
type NotifyConfig struct {
	// Status sends on every status change, including sub-states.
	Status bool `toml:"status"`
	// GameChange sends on game start, switch and stop.
	GameChange bool `toml:"game_change"`
	// ActiveInactive sends when the user goes online or offline.
	ActiveInactive bool `toml:"active_inactive"`
	// Errors sends once per outage when the NPSSO is rejected.
	Errors bool `toml:"errors"`
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	StartTLS bool   `toml:"starttls"`
	Sender   string `toml:"sender"`
	Receiver string `toml:"receiver"`
}

// TrackerConfig holds presence filtering settings.
type TrackerConfig struct {
	// IgnoreTitles lists glob patterns of titles treated as no game.
	IgnoreTitles []string `toml:"ignore_titles"`
}

// CSVConfig holds audit file settings.
type CSVConfig struct {
	// File is the CSV path; empty disables the audit file. Relative paths
	// resolve against the data directory.
	File string `toml:"file"`
}

// DisplayConfig holds human-readable output settings.
type DisplayConfig struct {
	// Granularity is the number of units kept in rendered durations.
	Granularity int `toml:"granularity"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// File enables the per-account log file.
	File bool `toml:"file"`
}

// ControlConfig holds the local control endpoint settings.
type ControlConfig struct {
	// Enabled starts the control endpoint.
	Enabled bool `toml:"enabled"`
	// Address is empty for the per-account socket, or host:port for TCP.
	Address string `toml:"address"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		PSN: PSNConfig{
			Timezone: "Local",
		},
		Monitor: MonitorConfig{
			CheckIntervalSeconds:       150,
			ActiveCheckIntervalSeconds: 60,
			ActiveIntervalStepSeconds:  30,
			OfflineInterruptSeconds:    420,
			FetchTimeoutSeconds:        15,
			AliveIntervalSeconds:       21600,
		},
		Notify: NotifyConfig{
			Errors: true,
		},
		SMTP: SMTPConfig{
			Port:     587,
			StartTLS: true,
		},
		Tracker: TrackerConfig{
			IgnoreTitles: []string{},
		},
		Display: DisplayConfig{
			Granularity: 3,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			File:      true,
		},
		Control: ControlConfig{
			Enabled: true,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// EnsureExists writes the embedded default config to dataDir on first run.
// It reports whether the file was created.
func EnsureExists(dataDir string) (bool, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return false, fmt.Errorf("create data directory: %w", err)
	}
	if err := atomicfile.Write(path, rootpkg.DefaultConfigTOML, 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// Load reads and parses dataDir/config.toml, applies environment overrides
// and validates the result. A missing file yields DefaultConfig.
func Load(dataDir string) (*Config, error) {
	cfg, err := loadFile(dataDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(filepath.Join(dataDir, paths.EnvFile)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFile parses the TOML file, migrating older schema versions in place.
func loadFile(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	migrated := migrate.Config.NeedsMigration(version)
	if migrated {
		if version > migrate.Config.CurrentVersion {
			return nil, fmt.Errorf("config version %d is newer than supported version %d", version, migrate.Config.CurrentVersion)
		}
		if backupErr := os.WriteFile(path+".bak", data, 0o600); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		data, _, err = migrate.Config.Run(data, version)
		if err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}
	return cfg, nil
}

// applyEnv overrides secrets from the dotenv file and the environment. The
// process environment wins over the dotenv file.
func (c *Config) applyEnv(envPath string) error {
	fileEnv, err := godotenv.Read(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", envPath, err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if v, ok := lookup(EnvNPSSO); ok && v != "" {
		c.PSN.NPSSO = v
	}
	if v, ok := lookup(EnvSMTPUser); ok && v != "" {
		c.SMTP.User = v
	}
	if v, ok := lookup(EnvSMTPPassword); ok && v != "" {
		c.SMTP.Password = v
	}
	return nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o600)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
// A missing NPSSO is not an error here; the run command checks it after flag
// overrides.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}

	m := c.Monitor
	if m.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval_seconds must be > 0, got %d", m.CheckIntervalSeconds)
	}
	if m.ActiveCheckIntervalSeconds <= 0 {
		return fmt.Errorf("active_check_interval_seconds must be > 0, got %d", m.ActiveCheckIntervalSeconds)
	}
	if m.ActiveIntervalStepSeconds <= 0 {
		return fmt.Errorf("active_interval_step_seconds must be > 0, got %d", m.ActiveIntervalStepSeconds)
	}
	if m.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch_timeout_seconds must be > 0, got %d", m.FetchTimeoutSeconds)
	}
	if m.AliveIntervalSeconds < 0 {
		return fmt.Errorf("alive_interval_seconds must be >= 0, got %d", m.AliveIntervalSeconds)
	}

	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535, got %d", c.SMTP.Port)
	}
	if (c.SMTP.Host == "") != (c.SMTP.Receiver == "") {
		return errors.New("smtp.host and smtp.receiver must be set together")
	}

	if err := psn.ValidatePatterns(c.Tracker.IgnoreTitles); err != nil {
		return err
	}

	if c.Display.Granularity < 1 || c.Display.Granularity > 7 {
		return fmt.Errorf("display.granularity must be between 1 and 7, got %d", c.Display.Granularity)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	return nil
}

// ///////////////////////////////////////////////
// Derived Settings
// ///////////////////////////////////////////////

// Location returns the display time zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.PSN.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.PSN.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid psn.timezone %q: %w", c.PSN.Timezone, err)
	}
	return loc, nil
}

// Intervals returns the poll interval settings.
func (c *Config) Intervals() monitor.IntervalSettings {
	return monitor.IntervalSettings{
		Offline: seconds(c.Monitor.CheckIntervalSeconds),
		Online:  seconds(c.Monitor.ActiveCheckIntervalSeconds),
		Step:    seconds(c.Monitor.ActiveIntervalStepSeconds),
	}
}

// OfflineInterrupt returns the merge threshold. Zero disables merging, as a
// negative value does.
func (c *Config) OfflineInterrupt() time.Duration {
	if c.Monitor.OfflineInterruptSeconds == 0 {
		return -1
	}
	return seconds(c.Monitor.OfflineInterruptSeconds)
}

// FetchTimeout returns the per-request timeout.
func (c *Config) FetchTimeout() time.Duration { return seconds(c.Monitor.FetchTimeoutSeconds) }

// AliveInterval returns the offline heartbeat interval.
func (c *Config) AliveInterval() time.Duration { return seconds(c.Monitor.AliveIntervalSeconds) }

// Toggles returns the notification toggles.
func (c *Config) Toggles() notify.Settings {
	return notify.Settings{
		Status:         c.Notify.Status,
		GameChange:     c.Notify.GameChange,
		ActiveInactive: c.Notify.ActiveInactive,
		Errors:         c.Notify.Errors,
	}
}

// Mail returns the SMTP settings for the mailer. An empty sender falls back
// to the receiver.
func (c *Config) Mail() notify.SMTPConfig {
	sender := c.SMTP.Sender
	if sender == "" {
		sender = c.SMTP.Receiver
	}
	return notify.SMTPConfig{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		User:     c.SMTP.User,
		Password: c.SMTP.Password,
		StartTLS: c.SMTP.StartTLS,
		Sender:   sender,
		Receiver: c.SMTP.Receiver,
	}
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	return logger.ParseLevel(c.Log.Level)
}

// CSVPath returns the audit file path resolved against dataDir, or "" when
// disabled.
func (c *Config) CSVPath(dataDir string) string {
	if c.CSV.File == "" || filepath.IsAbs(c.CSV.File) {
		return c.CSV.File
	}
	return filepath.Join(dataDir, c.CSV.File)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
