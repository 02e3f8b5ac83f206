// Package console renders the human-facing startup output: the settings
// summary and the tracked account's profile banner.
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"tools.zach/dev/psnwatch/internal/humanize"
	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/presence"
)

// labelGap is the minimum space between the widest label and its value.
const labelGap = 2

// ///////////////////////////////////////////////
// Layout
// ///////////////////////////////////////////////

// Field is one label/value row.
type Field struct {
	Label string
	Value string
}

// Section is a group of rows printed together; sections are separated by a
// blank line.
type Section []Field

// Render writes sections with every value aligned to the same column.
func Render(w io.Writer, sections ...Section) error {
	width := 0
	for _, s := range sections {
		for _, f := range s {
			width = max(width, runewidth.StringWidth(f.Label)+1)
		}
	}

	var b strings.Builder
	first := true
	for _, s := range sections {
		if len(s) == 0 {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		first = false
		for _, f := range s {
			b.WriteString(runewidth.FillRight(f.Label+":", width+labelGap))
			b.WriteString(f.Value)
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Heading writes title underlined with dashes of the same display width.
func Heading(w io.Writer, title string) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n", title, strings.Repeat("-", runewidth.StringWidth(title)))
	return err
}

// ///////////////////////////////////////////////
// Startup Output
// ///////////////////////////////////////////////

// RunSettings is what the settings summary reports.
type RunSettings struct {
	Version   string
	Intervals monitor.IntervalSettings
	Toggles   notify.Settings
	// LogFile and CSVFile are empty when disabled.
	LogFile  string
	CSVFile  string
	Control  string
	Timezone *time.Location
}

// Settings writes the one-line-per-concern summary printed before monitoring
// starts.
func Settings(w io.Writer, s RunSettings) error {
	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}
	lines := []string{
		fmt.Sprintf("psnwatch %s", s.Version),
		fmt.Sprintf("* Poll intervals: [offline: %s] [active: %s] [step: %s]",
			humanize.Duration(s.Intervals.Offline, 2),
			humanize.Duration(s.Intervals.Online, 2),
			humanize.Duration(s.Intervals.Step, 2)),
		fmt.Sprintf("* Email notifications: [all status changes = %s] [game changes = %s] [active/inactive = %s] [errors = %s]",
			onOff(s.Toggles.Status), onOff(s.Toggles.GameChange), onOff(s.Toggles.ActiveInactive), onOff(s.Toggles.Errors)),
		"* Log file: " + orDisabled(s.LogFile),
		"* CSV file: " + orDisabled(s.CSVFile),
		"* Control endpoint: " + orDisabled(s.Control),
	}
	if s.Timezone != nil {
		lines = append(lines, "* Time zone: "+s.Timezone.String())
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

func orDisabled(v string) string {
	if v == "" {
		return "disabled"
	}
	return v
}

// Profile builds the banner sections for a completed handshake. now is the
// current time and loc the display time zone.
func Profile(hs monitor.Handshake, now time.Time, loc *time.Location) []Section {
	obs, st := hs.Observation, hs.State

	ids := Section{
		{"Playstation ID", hs.Profile.OnlineID},
		{"PSN account ID", hs.Profile.AccountID},
	}

	lastSeen := "n/a"
	if !obs.LastSeenAt.IsZero() {
		lastSeen = humanize.Date(obs.LastSeenAt.In(loc))
	}
	presenceRows := Section{
		{"Last seen", lastSeen},
		{"Status", st.Status.Upper()},
	}
	if obs.Platform != "" {
		presenceRows = append(presenceRows, Field{"Platform", obs.Platform})
	}
	presenceRows = append(presenceRows, Field{"PS+ user", yesNo(hs.Profile.IsPlus)})

	sections := []Section{ids, presenceRows}
	if hs.Profile.AboutMe != "" {
		sections = append(sections, Section{{"About me", hs.Profile.AboutMe}})
	}
	if obs.Playing() {
		sections = append(sections, Section{{"User is currently in-game", fmt.Sprintf("%s (%s)", obs.GameName, obs.GamePlatform)}})
	}
	if hs.Startup.Corrected {
		var since Section
		if !st.Status.Active() {
			since = append(since, Field{"* Last time user was available", humanize.Date(st.StatusSince.In(loc))})
		}
		since = append(since, Field{
			"* User is " + st.Status.Upper() + " for",
			humanize.Span(now.In(loc), st.StatusSince.In(loc), humanize.SpanOptions{HideSeconds: true}),
		})
		sections = append(sections, since)
	}
	sections = append(sections, Section{{"Timestamp", humanize.Stamp(now.In(loc))}})
	return sections
}

// Snapshot describes the persisted status found at startup, or nothing on a
// first run.
func Snapshot(w io.Writer, path string, status presence.Status, at time.Time, loc *time.Location) error {
	if at.IsZero() {
		return nil
	}
	_, err := fmt.Fprintf(w, "* Last status read from %s: %s (%s)\n", path, status.Upper(), humanize.Date(at.In(loc)))
	return err
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
