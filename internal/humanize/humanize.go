// Package humanize renders durations, calendar spans and date ranges in the
// wording used by log lines, the console banner and notification emails.
package humanize

import (
	"fmt"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// Approximate Durations
// ///////////////////////////////////////////////

// unit is a named span in whole seconds.
type unit struct {
	name    string
	seconds int64
}

// approxUnits decomposes a duration largest-first. Years and months are
// averaged Gregorian lengths.
var approxUnits = []unit{
	{"years", 31556952},
	{"months", 2629746},
	{"weeks", 604800},
	{"days", 86400},
	{"hours", 3600},
	{"minutes", 60},
	{"seconds", 1},
}

// DefaultGranularity is the number of units kept when callers pass zero.
const DefaultGranularity = 3

// Duration renders d as its granularity largest non-zero units, e.g.
// "1 hour, 1 minute". Sub-second precision is dropped and a non-positive
// duration renders as "0 seconds".
func Duration(d time.Duration, granularity int) string {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0 seconds"
	}
	parts := make([]string, 0, granularity)
	for _, u := range approxUnits {
		v := secs / u.seconds
		if v == 0 {
			continue
		}
		secs -= v * u.seconds
		parts = append(parts, plural(v, u.name))
		if len(parts) == granularity {
			break
		}
	}
	return strings.Join(parts, ", ")
}

// Seconds renders a whole number of seconds, see [Duration].
func Seconds(secs int64, granularity int) string {
	return Duration(time.Duration(secs)*time.Second, granularity)
}

// plural formats v with name, dropping the trailing "s" when v is exactly 1.
func plural(v int64, name string) string {
	if v == 1 {
		name = strings.TrimSuffix(name, "s")
	}
	return fmt.Sprintf("%d %s", v, name)
}

// ///////////////////////////////////////////////
// Calendar Spans
// ///////////////////////////////////////////////

// SpanOptions tunes [Span]. The zero value shows every unit with the default
// granularity.
type SpanOptions struct {
	// HideWeeks folds whole weeks into the day count.
	HideWeeks bool
	// HideHours drops hours from spans longer than a day.
	HideHours bool
	// HideMinutes drops minutes from spans longer than an hour.
	HideMinutes bool
	// HideSeconds drops seconds from spans longer than a minute.
	HideSeconds bool
	// Granularity is the number of non-zero units kept.
	Granularity int
}

// Span renders the calendar distance between a and b (in either order) using
// real month and year lengths in a's location. Units hidden by opts are
// zeroed before the largest non-zero units are kept.
func Span(a, b time.Time, opts SpanOptions) string {
	granularity := opts.Granularity
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	a, b = a.Truncate(time.Second), b.In(a.Location()).Truncate(time.Second)
	if a.Before(b) {
		a, b = b, a
	}
	diff := a.Sub(b)
	if diff <= 0 {
		return "0 seconds"
	}

	years, months, rest := calendarDiff(a, b)
	days := int64(rest / (24 * time.Hour))
	rest -= time.Duration(days) * 24 * time.Hour
	hours := int64(rest / time.Hour)
	rest -= time.Duration(hours) * time.Hour
	minutes := int64(rest / time.Minute)
	rest -= time.Duration(minutes) * time.Minute
	seconds := int64(rest / time.Second)

	var weeks int64
	if !opts.HideWeeks {
		weeks = days / 7
		days -= weeks * 7
	}
	if opts.HideHours && diff > 24*time.Hour {
		hours = 0
	}
	if opts.HideMinutes && diff > time.Hour {
		minutes = 0
	}
	if opts.HideSeconds && diff > time.Minute {
		seconds = 0
	}

	values := []int64{int64(years), int64(months), weeks, days, hours, minutes, seconds}
	parts := make([]string, 0, granularity)
	for i, v := range values {
		if v <= 0 {
			continue
		}
		parts = append(parts, plural(v, approxUnits[i].name))
		if len(parts) == granularity {
			break
		}
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, ", ")
}

// calendarDiff returns the whole years and months from earlier to later and the
// remaining exact duration. Month arithmetic clamps to the last day of the
// target month, so Jan 31 plus one month is Feb 28/29.
func calendarDiff(later, earlier time.Time) (years, months int, rest time.Duration) {
	total := (later.Year()-earlier.Year())*12 + int(later.Month()-earlier.Month())
	anchor := addMonths(earlier, total)
	for total > 0 && anchor.After(later) {
		total--
		anchor = addMonths(earlier, total)
	}
	return total / 12, total % 12, later.Sub(anchor)
}

// addMonths adds n months to t, clamping the day of month.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// ///////////////////////////////////////////////
// Dates and Ranges
// ///////////////////////////////////////////////

const (
	stampLayout = "Mon, 02 Jan 2006, 15:04:05"
	longLayout  = "Mon 02 Jan 2006, 15:04:05"
	shortLayout = "Mon 02 Jan 15:04"
)

// Stamp renders t as "Sun, 21 Apr 2024, 15:08:45".
func Stamp(t time.Time) string { return t.Format(stampLayout) }

// Date renders t as "Sun 21 Apr 2024, 15:08:45".
func Date(t time.Time) string { return t.Format(longLayout) }

// ShortDate renders t as "Sun 21 Apr 15:08".
func ShortDate(t time.Time) string { return t.Format(shortLayout) }

// Range renders the interval from a to b joined by sep (" - " when empty).
// When both ends fall on the same calendar day only the time of b is
// repeated, e.g. "Sun 21 Apr 14:09 - 14:15". b is rendered in a's location.
func Range(a, b time.Time, short bool, sep string) string {
	if sep == "" {
		sep = " - "
	}
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	sameDay := ay == by && am == bm && ad == bd

	switch {
	case sameDay && short:
		return ShortDate(a) + sep + b.Format("15:04")
	case sameDay:
		return Date(a) + sep + b.Format("15:04:05")
	case short:
		return ShortDate(a) + sep + ShortDate(b)
	default:
		return Date(a) + sep + Date(b)
	}
}
