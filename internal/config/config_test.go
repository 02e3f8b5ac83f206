// Tests for the config package covering [Load] behavior (defaults, overrides,
// missing files, malformed input, migration, environment overrides),
// validation ([Config.Validate]), derived settings, serialization round-trips
// ([Config.Save]) and [ConfigDocs] completeness.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	rootpkg "tools.zach/dev/psnwatch"
	"tools.zach/dev/psnwatch/internal/monitor"
)

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		config  string // config file content
		noFile  bool   // if true, skip writing a config file
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if !reflect.DeepEqual(cfg, DefaultConfig()) {
					t.Errorf("Load() = %+v, want defaults", cfg)
				}
			},
		},
		{
			name:   "defaults from minimal config",
			config: "version = 2\n",
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if cfg.Monitor != def.Monitor {
					t.Errorf("Monitor = %+v, want %+v", cfg.Monitor, def.Monitor)
				}
				if cfg.Notify != def.Notify {
					t.Errorf("Notify = %+v, want %+v", cfg.Notify, def.Notify)
				}
			},
		},
		{
			name: "user overrides applied",
			config: `
version = 2

[psn]
npsso = "file-token"
timezone = "UTC"

[monitor]
check_interval_seconds = 300
active_check_interval_seconds = 45

[notify]
game_change = true
errors = false

[tracker]
ignore_titles = ["Netflix", "YouTube*"]
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.PSN.NPSSO != "file-token" {
					t.Errorf("NPSSO = %q, want file-token", cfg.PSN.NPSSO)
				}
				if cfg.Monitor.CheckIntervalSeconds != 300 {
					t.Errorf("CheckIntervalSeconds = %d, want 300", cfg.Monitor.CheckIntervalSeconds)
				}
				if cfg.Monitor.ActiveCheckIntervalSeconds != 45 {
					t.Errorf("ActiveCheckIntervalSeconds = %d, want 45", cfg.Monitor.ActiveCheckIntervalSeconds)
				}
				if !cfg.Notify.GameChange || cfg.Notify.Errors {
					t.Errorf("Notify = %+v, want game_change on and errors off", cfg.Notify)
				}
				if len(cfg.Tracker.IgnoreTitles) != 2 {
					t.Errorf("IgnoreTitles = %v, want 2 entries", cfg.Tracker.IgnoreTitles)
				}
			},
		},
		{
			name: "partial override preserves other defaults",
			config: `
version = 2

[smtp]
host = "smtp.example.com"
receiver = "me@example.com"
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.SMTP.Port != 587 || !cfg.SMTP.StartTLS {
					t.Errorf("SMTP = %+v, want default port and starttls", cfg.SMTP)
				}
				if cfg.Display.Granularity != 3 {
					t.Errorf("Granularity = %d, want 3", cfg.Display.Granularity)
				}
			},
		},
		{
			name:    "malformed TOML",
			config:  "[psn\nnpsso = ",
			wantErr: true,
		},
		{
			name:    "invalid value",
			config:  "version = 2\n[monitor]\ncheck_interval_seconds = 0\n",
			wantErr: true,
		},
		{
			name:    "unknown time zone",
			config:  "version = 2\n[psn]\ntimezone = \"Mars/Olympus\"\n",
			wantErr: true,
		},
		{
			name:    "newer schema version",
			config:  "version = 99\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if !tt.noFile {
				writeConfig(t, dir, tt.config)
			}

			cfg, err := Load(dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Environment overrides
// ///////////////////////////////////////////////

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n[psn]\nnpsso = \"from-config\"\n")
	writeFile(t, filepath.Join(dir, ".env"), "PSN_NPSSO=from-dotenv\nSMTP_USER=mailer\nSMTP_PASSWORD='s3cret'\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PSN.NPSSO != "from-dotenv" {
		t.Errorf("NPSSO = %q, want from-dotenv", cfg.PSN.NPSSO)
	}
	if cfg.SMTP.User != "mailer" || cfg.SMTP.Password != "s3cret" {
		t.Errorf("SMTP user/password = %q/%q", cfg.SMTP.User, cfg.SMTP.Password)
	}
}

func TestLoad_ProcessEnvWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n[psn]\nnpsso = \"from-config\"\n")
	writeFile(t, filepath.Join(dir, ".env"), "PSN_NPSSO=from-dotenv\n")
	t.Setenv(EnvNPSSO, "from-process")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PSN.NPSSO != "from-process" {
		t.Errorf("NPSSO = %q, want from-process", cfg.PSN.NPSSO)
	}
}

func TestLoad_EmptyEnvKeepsFileValue(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n[psn]\nnpsso = \"from-config\"\n")
	t.Setenv(EnvNPSSO, "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PSN.NPSSO != "from-config" {
		t.Errorf("NPSSO = %q, want from-config", cfg.PSN.NPSSO)
	}
}

// ///////////////////////////////////////////////
// Migration integration
// ///////////////////////////////////////////////

func TestLoad_MigratesVersion1(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	old := `version = 1
csv_file = "history.csv"

[psn]
timezone = "UTC"
check_interval = 200
active_check_interval = 45
offline_interrupt = 600

[notify]
status_notification = true
error_notification = false
`
	writeConfig(t, dir, old)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 2 {
		t.Errorf("Version = %d, want 2", cfg.Version)
	}
	if cfg.Monitor.CheckIntervalSeconds != 200 || cfg.Monitor.ActiveCheckIntervalSeconds != 45 {
		t.Errorf("Monitor = %+v, want migrated intervals", cfg.Monitor)
	}
	if cfg.Monitor.OfflineInterruptSeconds != 600 {
		t.Errorf("OfflineInterruptSeconds = %d, want 600", cfg.Monitor.OfflineInterruptSeconds)
	}
	if !cfg.Notify.Status || cfg.Notify.Errors {
		t.Errorf("Notify = %+v, want status on and errors off", cfg.Notify)
	}
	if cfg.CSV.File != "history.csv" {
		t.Errorf("CSV.File = %q, want history.csv", cfg.CSV.File)
	}

	backup, err := os.ReadFile(filepath.Join(dir, "config.toml.bak"))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != old {
		t.Errorf("backup content changed:\n%s", backup)
	}

	saved, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("read migrated config: %v", err)
	}
	if got := PeekVersion(saved); got != 2 {
		t.Errorf("saved version = %d, want 2", got)
	}
	if strings.Contains(string(saved), "status_notification") {
		t.Errorf("saved config still has version 1 keys:\n%s", saved)
	}
}

func TestLoad_CurrentVersionNotRewritten(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "version = 2\n")

	if _, err := Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml.bak")); !os.IsNotExist(err) {
		t.Errorf("backup written for a current config, stat err = %v", err)
	}
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

func TestPeekVersion(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{
			name: "reads version from TOML",
			data: "version = 3\n[psn]\nnpsso = \"x\"\n",
			want: 3,
		},
		{
			name: "missing version returns 1",
			data: "[psn]\nnpsso = \"x\"\n",
			want: 1,
		},
		{
			name: "malformed returns 1",
			data: "version = ",
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeekVersion([]byte(tt.data))
			if got != tt.want {
				t.Errorf("PeekVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// EnsureExists
// ///////////////////////////////////////////////

func TestEnsureExists(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "nested", ".psnwatch")

	created, err := EnsureExists(dir)
	if err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	if !created {
		t.Fatal("EnsureExists() = false on first run")
	}
	path := filepath.Join(dir, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created config: %v", err)
	}
	if string(data) != string(rootpkg.DefaultConfigTOML) {
		t.Error("created config differs from the embedded default")
	}

	created, err = EnsureExists(dir)
	if err != nil {
		t.Fatalf("second EnsureExists: %v", err)
	}
	if created {
		t.Error("EnsureExists() = true for an existing file")
	}
}

func TestDefaultConfigFileLoads(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, string(rootpkg.DefaultConfigTOML))

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load embedded default: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("embedded default = %+v, want DefaultConfig()", cfg)
	}
}

// ///////////////////////////////////////////////
// ExampleConfig
// ///////////////////////////////////////////////

func TestExampleConfig(t *testing.T) {
	cfg := ExampleConfig()
	if cfg == nil {
		t.Fatal("ExampleConfig returned nil")
		return
	}
	if cfg.Version != 2 {
		t.Errorf("Version = %d, want 2", cfg.Version)
	}
	var buf strings.Builder
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		t.Fatalf("failed to marshal ExampleConfig: %v", err)
	}
}

// ///////////////////////////////////////////////
// ConfigDocs completeness
// ///////////////////////////////////////////////

func TestConfigDocsComplete(t *testing.T) {
	fields := collectTOMLFields(reflect.TypeOf(Config{}), "")
	for _, field := range fields {
		if _, ok := ConfigDocs[field]; !ok {
			t.Errorf("ConfigDocs missing entry for field %q", field)
		}
	}
}

// collectTOMLFields recursively walks a struct type and returns the
// dot-separated TOML key path for every tagged field.
func collectTOMLFields(typ reflect.Type, prefix string) []string {
	var fields []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("toml")
		if tag == "" || tag == "-" {
			continue
		}
		if idx := strings.Index(tag, ","); idx != -1 {
			tag = tag[:idx]
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			fields = append(fields, collectTOMLFields(f.Type, path)...)
		} else {
			fields = append(fields, path)
		}
	}
	return fields
}

// ///////////////////////////////////////////////
// Marshal field order
// ///////////////////////////////////////////////

func TestConfigMarshalFieldOrder(t *testing.T) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(DefaultConfig()); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := buf.String()

	order := []string{"version", "[psn]", "[monitor]", "[notify]", "[smtp]", "[log]", "[control]"}
	for i := 1; i < len(order); i++ {
		before, after := order[i-1], order[i]
		bIdx := strings.Index(out, before)
		aIdx := strings.Index(out, after)
		if bIdx < 0 || aIdx < 0 || bIdx > aIdx {
			t.Errorf("expected %q before %q in marshaled output", before, after)
		}
	}
}

// ///////////////////////////////////////////////
// Save
// ///////////////////////////////////////////////

func TestConfig_Save_RoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.PSN.Timezone = "UTC"
	cfg.Monitor.OfflineInterruptSeconds = -1
	cfg.Tracker.IgnoreTitles = []string{"Netflix"}
	cfg.Control.Address = "127.0.0.1:7878"

	path := filepath.Join(dir, "config.toml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 && os.PathSeparator == '/' {
		t.Errorf("config perm = %o, want 600", perm)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

// ///////////////////////////////////////////////
// Validate
// ///////////////////////////////////////////////

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(cfg *Config)
		wantErr bool
	}{
		{name: "default config passes", setup: func(cfg *Config) {}},
		{name: "named time zone", setup: func(cfg *Config) { cfg.PSN.Timezone = "UTC" }},
		{name: "unknown time zone", setup: func(cfg *Config) { cfg.PSN.Timezone = "Nowhere/Else" }, wantErr: true},
		{name: "check_interval_seconds = 0", setup: func(cfg *Config) { cfg.Monitor.CheckIntervalSeconds = 0 }, wantErr: true},
		{name: "negative active interval", setup: func(cfg *Config) { cfg.Monitor.ActiveCheckIntervalSeconds = -5 }, wantErr: true},
		{name: "zero step", setup: func(cfg *Config) { cfg.Monitor.ActiveIntervalStepSeconds = 0 }, wantErr: true},
		{name: "zero fetch timeout", setup: func(cfg *Config) { cfg.Monitor.FetchTimeoutSeconds = 0 }, wantErr: true},
		{name: "negative alive interval", setup: func(cfg *Config) { cfg.Monitor.AliveIntervalSeconds = -1 }, wantErr: true},
		{name: "alive interval disabled", setup: func(cfg *Config) { cfg.Monitor.AliveIntervalSeconds = 0 }},
		{name: "negative offline interrupt", setup: func(cfg *Config) { cfg.Monitor.OfflineInterruptSeconds = -1 }},
		{name: "smtp port out of range", setup: func(cfg *Config) { cfg.SMTP.Port = 70000 }, wantErr: true},
		{name: "smtp host without receiver", setup: func(cfg *Config) { cfg.SMTP.Host = "smtp.example.com" }, wantErr: true},
		{name: "smtp receiver without host", setup: func(cfg *Config) { cfg.SMTP.Receiver = "me@example.com" }, wantErr: true},
		{name: "smtp host and receiver", setup: func(cfg *Config) {
			cfg.SMTP.Host = "smtp.example.com"
			cfg.SMTP.Receiver = "me@example.com"
		}},
		{name: "bad ignore pattern", setup: func(cfg *Config) { cfg.Tracker.IgnoreTitles = []string{"[unclosed"} }, wantErr: true},
		{name: "granularity 0", setup: func(cfg *Config) { cfg.Display.Granularity = 0 }, wantErr: true},
		{name: "granularity 8", setup: func(cfg *Config) { cfg.Display.Granularity = 8 }, wantErr: true},
		{name: "invalid log.level", setup: func(cfg *Config) { cfg.Log.Level = "verbose" }, wantErr: true},
		{name: "upper case log.level", setup: func(cfg *Config) { cfg.Log.Level = "DEBUG" }},
		{name: "zero max_size_mb", setup: func(cfg *Config) { cfg.Log.MaxSizeMB = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Derived settings
// ///////////////////////////////////////////////

func TestConfig_Intervals(t *testing.T) {
	got := DefaultConfig().Intervals()
	want := monitor.IntervalSettings{Offline: 150 * time.Second, Online: time.Minute, Step: 30 * time.Second}
	if got != want {
		t.Errorf("Intervals() = %+v, want %+v", got, want)
	}
}

func TestConfig_OfflineInterrupt(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{420, 7 * time.Minute},
		{0, -1},
		{-30, -30 * time.Second},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Monitor.OfflineInterruptSeconds = tt.seconds
		if got := cfg.OfflineInterrupt(); got != tt.want {
			t.Errorf("OfflineInterrupt(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
		if tt.seconds <= 0 && cfg.OfflineInterrupt() >= 0 {
			t.Errorf("OfflineInterrupt(%d) does not disable merging", tt.seconds)
		}
	}
}

func TestConfig_Location(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location() = %v, %v; want Local", loc, err)
	}
	cfg.PSN.Timezone = "UTC"
	loc, err = cfg.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("Location() = %v, %v; want UTC", loc, err)
	}
}

func TestConfig_CSVPath(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "psn.csv")
	tests := []struct {
		file string
		want string
	}{
		{"", ""},
		{"history.csv", filepath.Join(dir, "history.csv")},
		{abs, abs},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.CSV.File = tt.file
		if got := cfg.CSVPath(dir); got != tt.want {
			t.Errorf("CSVPath(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}

func TestConfig_TogglesAndMail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Notify.GameChange = true
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Receiver = "me@example.com"

	tg := cfg.Toggles()
	if !tg.GameChange || !tg.Errors || tg.Status || tg.ActiveInactive {
		t.Errorf("Toggles() = %+v", tg)
	}
	mail := cfg.Mail()
	if mail.Host != "smtp.example.com" || mail.Port != 587 || !mail.StartTLS || mail.Receiver != "me@example.com" || mail.Sender != "me@example.com" {
		t.Errorf("Mail() = %+v", mail)
	}
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// writeConfig writes a TOML config string to config.toml in dir for use
// by [Load] in test cases.
func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "config.toml"), content)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// clearEnv unsets the secret overrides for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvNPSSO, EnvSMTPUser, EnvSMTPPassword} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}
