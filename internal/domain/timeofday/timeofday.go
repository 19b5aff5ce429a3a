// Package timeofday parses wall-clock times ("HH:MM") and daily windows
// ("HH:MM-HH:MM") used for bill due times and quiet hours.
package timeofday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time expressed as minutes since midnight.
type Clock int

// Parse reads an "HH:MM" string.
func Parse(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

// Of returns the clock reading of t in t's location.
func Of(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at clock c on the calendar day of day.
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

// Window is a daily interval [Start, End). Start > End wraps past midnight.
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow reads an "HH:MM-HH:MM" string.
func ParseWindow(s string) (Window, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q: expected HH:MM-HH:MM", s)
	}
	start, err := Parse(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start: %w", err)
	}
	end, err := Parse(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("invalid window end: %w", err)
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether t falls inside the window. A zero-length window
// contains nothing.
func (w Window) Contains(t time.Time) bool {
	c := Of(t)
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return c >= w.Start && c < w.End
	}
	// wrap: [start..24h) U [0..end)
	return c >= w.Start || c < w.End
}

// EndAfter returns the first instant at or after t where the window closes.
func (w Window) EndAfter(t time.Time) time.Time {
	end := w.End.On(t)
	if end.Before(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

