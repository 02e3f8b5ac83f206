package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "monitor.check_interval_seconds")
// to their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version, do not edit.",
	},

	// ── PSN ───────────────────────────────────────────────────────
	"psn": {
		Comment: "PlayStation Network account access",
	},
	"psn.npsso": {
		Comment: "NPSSO session cookie. Log in at https://www.playstation.com, then open\nhttps://ca.account.sony.com/api/v1/ssocookie and copy the npsso value.\nPrefer PSN_NPSSO in .env next to this file to keep it out of the config.",
	},
	"psn.timezone": {
		Comment: "Time zone for dates in logs, emails and the CSV file. \"Local\" uses the system zone.",
		Alternatives: []string{
			`timezone = "Europe/Warsaw"`,
			`timezone = "UTC"`,
		},
	},

	// ── Monitor ───────────────────────────────────────────────────
	"monitor": {
		Comment: "Polling and session settings (all values in seconds)",
	},
	"monitor.check_interval_seconds": {
		Comment: "Poll interval while the user is offline.",
	},
	"monitor.active_check_interval_seconds": {
		Comment: "Poll interval while the user is online, busy or away.",
	},
	"monitor.active_interval_step_seconds": {
		Comment: "How far SIGTRAP / SIGABRT move the active interval.",
	},
	"monitor.offline_interrupt_seconds": {
		Comment: "Offline gaps up to this long are treated as part of the previous session.\n0 or a negative value disables merging.",
	},
	"monitor.fetch_timeout_seconds": {
		Comment: "Timeout for each PSN request.",
	},
	"monitor.alive_interval_seconds": {
		Comment: "Log an alive check this often while the user stays offline. 0 disables it.",
	},

	// ── Notify ────────────────────────────────────────────────────
	"notify": {
		Comment: "Email notifications. Toggles can also be changed at runtime with\nsignals or `psnwatch ctl toggle`.",
	},
	"notify.status": {
		Comment: "Every status change, including online -> busy.",
	},
	"notify.game_change": {
		Comment: "Game start, switch and stop.",
	},
	"notify.active_inactive": {
		Comment: "User goes online or offline.",
	},
	"notify.errors": {
		Comment: "Once per outage when the NPSSO is rejected.",
	},

	// ── SMTP ──────────────────────────────────────────────────────
	"smtp": {
		Comment: "Outgoing mail server. Leave host empty to disable email.\nSMTP_USER and SMTP_PASSWORD in .env override user and password.",
	},
	"smtp.host": {
		Alternatives: []string{
			`host = "smtp.gmail.com"`,
		},
	},
	"smtp.port":     {},
	"smtp.user":     {},
	"smtp.password": {},
	"smtp.starttls": {
		Comment: "Upgrade the connection with STARTTLS before authenticating.",
	},
	"smtp.sender": {
		Comment: "From address; defaults to the receiver.",
	},
	"smtp.receiver": {},

	// ── Tracker ───────────────────────────────────────────────────
	"tracker.ignore_titles": {
		Comment: "Titles treated as \"no game\". Glob patterns, case-insensitive.",
		Alternatives: []string{
			`ignore_titles = ["Netflix", "YouTube*", "Spotify"]`,
		},
	},

	// ── CSV ───────────────────────────────────────────────────────
	"csv.file": {
		Comment: "Append every status and game change to this CSV file. Empty disables it.\nRelative paths resolve against the data directory.",
		Alternatives: []string{
			`file = "psn_history.csv"`,
		},
	},

	// ── Display ───────────────────────────────────────────────────
	"display.granularity": {
		Comment: "Number of units in rendered durations, e.g. 2 -> \"1 hour, 5 minutes\".",
	},

	// ── Log ───────────────────────────────────────────────────────
	"log": {
		Comment: "Logging configuration",
	},
	"log.level": {
		Comment: "Minimum log level. Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"",
		Alternatives: []string{
			`level = "debug"`,
			`level = "warn"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},
	"log.file": {
		Comment: "Write psnwatch_<user>.log in the data directory.",
	},

	// ── Control ───────────────────────────────────────────────────
	"control": {
		Comment: "Local control endpoint used by `psnwatch ctl`",
	},
	"control.enabled": {},
	"control.address": {
		Comment: "Empty uses a per-user unix socket (named pipe on Windows) in the data directory.",
		Alternatives: []string{
			`address = "127.0.0.1:7878"`,
		},
	},
}
