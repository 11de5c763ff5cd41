// Package timeutil provides timezone utilities for Indian Standard Time (UTC+5:30).
// Every windowing decision in the worker (presence bands, reset window, report
// window, session matching) is made in IST civil time, because the leaderboard
// audience and the companion mobile app both live in that timezone.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IST is the Indian Standard Time zone (UTC+5:30, no DST).
// India has not observed DST since 1945, so the offset is constant year-round.
var IST = time.FixedZone("Asia/Kolkata", 5*60*60+30*60)

// Now returns the current time in IST.
func Now() time.Time {
	return time.Now().In(IST)
}

// ToIST converts a time to IST.
func ToIST(t time.Time) time.Time {
	return t.In(IST)
}

// Date creates a time in IST with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, IST)
}

// DateTime creates a time in IST with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, IST)
}

// StartOfDay returns the start of the day (00:00:00) in IST.
func StartOfDay(t time.Time) time.Time {
	ist := ToIST(t)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

// Common date/time formats.
const (
	// FormatDate is the calendar-day key format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatClock is the wall-clock format used by study plans (HH:MM).
	FormatClock = "15:04"
)

// DateKey formats a time as the calendar-day key used by the history mapping
// and the report queue (YYYY-MM-DD in IST).
func DateKey(t time.Time) string {
	return ToIST(t).Format(FormatDate)
}

// ClockString formats a time as HH:MM in IST.
func ClockString(t time.Time) string {
	return ToIST(t).Format(FormatClock)
}

// ParseClock parses an "HH:MM" string into hour and minute components.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock string %q", s)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock string %q out of range", s)
	}

	return hour, minute, nil
}

// IsSameDay checks if two times are on the same day in IST.
func IsSameDay(t1, t2 time.Time) bool {
	a, b := ToIST(t1), ToIST(t2)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// DaysSince calculates the number of whole 24-hour periods between then and now.
func DaysSince(then, now time.Time) float64 {
	return now.Sub(then).Hours() / 24
}

// FormatTimestamp renders a timestamp in the store's wire format (RFC 3339 UTC,
// matching what the companion app writes).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a stored RFC 3339 timestamp. The zero time is returned
// for empty or malformed values so callers can treat them as "never".
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
