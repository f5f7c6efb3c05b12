package utils

import (
	"fmt"
	"time"
)

// ParseClock parses an "HH:MM" wall-clock time into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// QuietHours is a local-time window, possibly wrapping midnight (21:00-09:00)
type QuietHours struct {
	Start int
	End   int
}

// NewQuietHours builds a window from "HH:MM" bounds
func NewQuietHours(start, end string) (QuietHours, error) {
	s, err := ParseClock(start)
	if err != nil {
		return QuietHours{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietHours{}, err
	}
	return QuietHours{Start: s, End: e}, nil
}

// Contains reports whether t, in loc, falls inside the window
func (q QuietHours) Contains(t time.Time, loc *time.Location) bool {
	if q.Start == q.End {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	m := local.Hour()*60 + local.Minute()
	if q.Start < q.End {
		return m >= q.Start && m < q.End
	}
	return m >= q.Start || m < q.End
}

// NextAllowed returns t if it is outside the window, otherwise the instant the window ends
func (q QuietHours) NextAllowed(t time.Time, loc *time.Location) time.Time {
	if !q.Contains(t, loc) {
		return t
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), q.End/60, q.End%60, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
