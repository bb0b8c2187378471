package calendar

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		date string
	}{
		{"2023-01-01T10:00:00Z", "2023-01-01"},
		{"2023-01-02T00:00:00Z", "2023-01-02"},
		{"2023-01-02T23:59:59.999Z", "2023-01-02"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.in)
			if err != nil {
				t.Fatalf("ParseTimestamp failed: %v", err)
			}
			if ts.Location() != time.UTC {
				t.Errorf("expected UTC location, got %v", ts.Location())
			}
			if got := DateString(ts); got != tt.date {
				t.Errorf("expected date %s, got %s", tt.date, got)
			}
		})
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	inputs := []string{
		"",
		"2023-01-01",
		"2023-01-01T10:00:00",
		"2023-01-01T10:00:00+02:00",
		"2023-13-01T10:00:00Z",
		"yesterday",
	}

	for _, in := range inputs {
		_, err := ParseTimestamp(in)
		if !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("ParseTimestamp(%q) expected ErrInvalidTimestamp, got %v", in, err)
		}
	}
}

func TestIsMonday(t *testing.T) {
	sunday, _ := ParseTimestamp("2023-01-01T10:00:00Z")
	monday, _ := ParseTimestamp("2023-01-02T10:00:00Z")

	if IsMonday(sunday) {
		t.Error("2023-01-01 is a Sunday")
	}
	if !IsMonday(monday) {
		t.Error("2023-01-02 is a Monday")
	}
	if ISOWeekday(monday) != 1 {
		t.Errorf("expected ISO weekday 1, got %d", ISOWeekday(monday))
	}
	if ISOWeekday(sunday) != 7 {
		t.Errorf("expected ISO weekday 7, got %d", ISOWeekday(sunday))
	}
}

func TestRollingWeek(t *testing.T) {
	ts, _ := ParseTimestamp("2023-03-02T08:00:00Z")
	got := RollingWeek(ts)

	want := []string{
		"2023-03-02", "2023-03-01", "2023-02-28", "2023-02-27",
		"2023-02-26", "2023-02-25", "2023-02-24",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("date %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
