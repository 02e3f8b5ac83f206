package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/presence"
	"tools.zach/dev/psnwatch/internal/tracker"
)

func TestRenderAlignsValues(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf,
		Section{{"ID", "neo"}, {"Account", "8123"}},
		Section{},
		Section{{"Gra", "Gwint"}},
	)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "ID:" + strings.Repeat(" ", 7) + "neo\n" +
		"Account:" + strings.Repeat(" ", 2) + "8123\n" +
		"\n" +
		"Gra:" + strings.Repeat(" ", 6) + "Gwint\n"
	if buf.String() != want {
		t.Errorf("Render =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestRenderWideLabels(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Section{{"ゲーム", "x"}, {"ab", "y"}}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	// "ゲーム:" is 7 cells wide, so values start at cell 9.
	if lines[0] != "ゲーム:"+strings.Repeat(" ", 2)+"x" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "ab:"+strings.Repeat(" ", 6)+"y" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestHeading(t *testing.T) {
	var buf bytes.Buffer
	if err := Heading(&buf, "Monitoring user neo"); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Monitoring user neo\n-------------------\n" {
		t.Errorf("Heading = %q", got)
	}
}

func TestSettings(t *testing.T) {
	var buf bytes.Buffer
	err := Settings(&buf, RunSettings{
		Version:   "1.2.0",
		Intervals: monitor.IntervalSettings{Offline: 150 * time.Second, Online: time.Minute, Step: 30 * time.Second},
		Toggles:   notify.Settings{ActiveInactive: true, Errors: true},
		LogFile:   "/data/psnwatch_neo.log",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"psnwatch 1.2.0\n",
		"[offline: 2 minutes, 30 seconds] [active: 1 minute] [step: 30 seconds]",
		"[all status changes = off] [game changes = off] [active/inactive = on] [errors = on]",
		"* Log file: /data/psnwatch_neo.log",
		"* CSV file: disabled",
		"* Control endpoint: disabled",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Settings output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Time zone") {
		t.Error("time zone printed without a location")
	}
}

func TestProfile(t *testing.T) {
	now := time.Date(2024, 4, 21, 14, 15, 0, 0, time.UTC)
	hs := monitor.Handshake{
		Profile: presence.Profile{OnlineID: "neo", AccountID: "8123", IsPlus: true, AboutMe: "hi"},
		Observation: presence.Observation{
			Status:     presence.Offline,
			Platform:   "PS5",
			LastSeenAt: time.Date(2024, 4, 21, 12, 0, 0, 0, time.UTC),
		},
		Startup: tracker.Startup{Corrected: true},
		State: tracker.State{
			Status:      presence.Offline,
			StatusSince: time.Date(2024, 4, 21, 12, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	if err := Render(&buf, Profile(hs, now, time.UTC)...); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Playstation ID:",
		"Last seen:",
		"Sun 21 Apr 2024, 12:00:00",
		"Status:",
		"OFFLINE",
		"PS+ user:",
		"yes",
		"About me:",
		"* Last time user was available:",
		"* User is OFFLINE for:",
		"2 hours, 15 minutes",
		"Sun, 21 Apr 2024, 14:15:00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("profile missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "in-game") {
		t.Error("in-game row printed without a game")
	}
}

func TestProfileInGameNotCorrected(t *testing.T) {
	now := time.Date(2024, 4, 21, 14, 15, 0, 0, time.UTC)
	hs := monitor.Handshake{
		Profile:     presence.Profile{OnlineID: "neo", AccountID: "8123"},
		Observation: presence.Observation{Status: presence.Online, GameName: "Astro Bot", GamePlatform: "PS5"},
		State:       tracker.State{Status: presence.Online, StatusSince: now},
	}
	var buf bytes.Buffer
	if err := Render(&buf, Profile(hs, now, time.UTC)...); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Astro Bot (PS5)") {
		t.Errorf("missing game row:\n%s", out)
	}
	if !strings.Contains(out, "n/a") {
		t.Errorf("missing n/a last seen:\n%s", out)
	}
	if strings.Contains(out, "for:") {
		t.Errorf("status duration printed without correction:\n%s", out)
	}
}

func TestSnapshotLine(t *testing.T) {
	var buf bytes.Buffer
	if err := Snapshot(&buf, "psn_neo_last_status.json", "", time.Time{}, time.UTC); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("first run printed %q", buf.String())
	}
	at := time.Date(2024, 4, 21, 12, 0, 0, 0, time.UTC)
	if err := Snapshot(&buf, "psn_neo_last_status.json", presence.Online, at, time.UTC); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "* Last status read from psn_neo_last_status.json: ONLINE (Sun 21 Apr 2024, 12:00:00)\n" {
		t.Errorf("Snapshot = %q", got)
	}
}
