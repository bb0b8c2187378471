// Package calendar derives dates, weekdays and the rolling weekly window from load timestamps.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned for timestamps that are not RFC 3339 UTC.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// DateLayout is the calendar-date form used as rule state keys.
const DateLayout = "2006-01-02"

// WindowDays is the length of the rolling weekly window, inclusive of the current day.
const WindowDays = 7

// ParseTimestamp parses an ISO-8601 timestamp ending in the UTC designator 'Z'.
func ParseTimestamp(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("%w: %q is not UTC", ErrInvalidTimestamp, s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	return t.UTC(), nil
}

// DateString returns the YYYY-MM-DD date of t.
func DateString(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// IsMonday reports whether t falls on a Monday (UTC).
func IsMonday(t time.Time) bool {
	return t.UTC().Weekday() == time.Monday
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.UTC().Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// RollingWeek returns the dates of t and the six days before it, newest first.
func RollingWeek(t time.Time) []string {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	dates := make([]string, WindowDays)
	for i := range dates {
		dates[i] = day.AddDate(0, 0, -i).Format(DateLayout)
	}
	return dates
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	return t, nil
}
