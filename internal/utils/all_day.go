package utils

import "time"

const DateLayout = "2006-01-02"

// StartOfDay returns midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func isMidnight(t time.Time, loc *time.Location) bool {
	return t.Equal(StartOfDay(t, loc))
}

// IsAllDaySpan reports whether start and end both fall on local midnight in loc
// and end is at least one day after start.
func IsAllDaySpan(start, end time.Time, loc *time.Location) bool {
	if !isMidnight(start, loc) || !isMidnight(end, loc) {
		return false
	}
	return !end.Before(StartOfDay(start, loc).AddDate(0, 0, 1))
}

// NormalizeAllDay snaps an all-day span onto local-midnight boundaries in loc.
// The start moves to midnight of its own date, the end moves forward to the next
// midnight (an end already on midnight is exclusive and kept). A span shorter than
// one day becomes exactly one day. Both instants are returned in UTC.
func NormalizeAllDay(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	normalizedStart := StartOfDay(start, loc)
	normalizedEnd := StartOfDay(end, loc)
	if !end.Equal(normalizedEnd) {
		normalizedEnd = normalizedEnd.AddDate(0, 0, 1)
	}
	if !normalizedEnd.After(normalizedStart) {
		normalizedEnd = normalizedStart.AddDate(0, 0, 1)
	}
	return normalizedStart.UTC(), normalizedEnd.UTC()
}

// DateKey formats t's calendar date in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// SameDate reports whether a and b fall on the same calendar date in loc.
func SameDate(a, b time.Time, loc *time.Location) bool {
	return DateKey(a, loc) == DateKey(b, loc)
}

// ParseDate parses a calendar date as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, loc)
}
