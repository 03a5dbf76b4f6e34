// Package timeutil converts between "HH:MM" clock strings, minute offsets and
// instants, and provides the day and week helpers the calendar views share.
//
// All helpers work on the wall clock of the instant they are given. None of
// them convert between zones, so an event never moves to a different
// calendar day than the one it was entered on.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedTime is the class of all time and interval input errors.
var ErrMalformedTime = errors.New("malformed time")

// MalformedTimeError reports an "HH:MM" string that could not be parsed or is
// out of range.
type MalformedTimeError struct {
	Input  string
	Reason string
}

func (e *MalformedTimeError) Error() string {
	return fmt.Sprintf("malformed time %q: %s", e.Input, e.Reason)
}

func (e *MalformedTimeError) Unwrap() error {
	return ErrMalformedTime
}

// TimeToMinutes parses "HH:MM" (24h) into minutes since midnight.
func TimeToMinutes(hhmm string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok || h == "" || m == "" || len(m) != 2 || len(h) > 2 {
		return 0, &MalformedTimeError{Input: hhmm, Reason: "expected HH:MM"}
	}
	hour, err := parseDigits(h)
	if err != nil {
		return 0, &MalformedTimeError{Input: hhmm, Reason: "hour is not numeric"}
	}
	minute, err := parseDigits(m)
	if err != nil {
		return 0, &MalformedTimeError{Input: hhmm, Reason: "minute is not numeric"}
	}
	if hour > 23 {
		return 0, &MalformedTimeError{Input: hhmm, Reason: "hour out of range"}
	}
	if minute > 59 {
		return 0, &MalformedTimeError{Input: hhmm, Reason: "minute out of range"}
	}
	return hour*60 + minute, nil
}

// parseDigits accepts ASCII digits only; strconv.Atoi alone would let "+1" through.
func parseDigits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

const minutesPerDay = 24 * 60

// MinutesToClock renders minutes since midnight as "HH:MM". Values outside
// 0..1439 wrap around the day, so -90 is "22:30" and 1440 is "00:00".
func MinutesToClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ClockMinutes returns the minutes since midnight of t's wall clock.
func ClockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// AtClock places minutes-since-midnight on the calendar day of day.
func AtClock(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
}

// FormatClock renders t like "9:00 AM".
func FormatClock(t time.Time) string {
	return t.Format("3:04 PM")
}

// RangesOverlap reports whether the half-open ranges [startA, endA) and
// [startB, endB) intersect. Touching ranges do not overlap.
func RangesOverlap(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}

// Day is a date without time or zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayKey returns the calendar date of t as read on t's own wall clock.
func DayKey(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before orders days chronologically.
func (d Day) Before(o Day) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// Time returns midnight of the day in loc.
func (d Day) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// StartOfDay truncates t to midnight on its own wall clock.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the first day of the week containing t.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	offset := (int(t.Weekday()) - int(weekStart) + 7) % 7
	return StartOfDay(t).AddDate(0, 0, -offset)
}

// WeekDays returns n consecutive days starting at the week start of t.
func WeekDays(t time.Time, weekStart time.Weekday, n int) []time.Time {
	start := StartOfWeek(t, weekStart)
	days := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, start.AddDate(0, 0, i))
	}
	return days
}

// ParseWeekday accepts "monday", "Sun", etc.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return wd, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// SlotPosition maps a time range onto a vertical grid that starts at
// dayStartHour, with pxPerHour pixels per hour.
func SlotPosition(start, end time.Time, dayStartHour int, pxPerHour float64) (top, height float64) {
	origin := float64(dayStartHour * 60)
	startMin := float64(ClockMinutes(start))
	endMin := startMin + end.Sub(start).Minutes()
	top = (startMin - origin) / 60 * pxPerHour
	height = (endMin - startMin) / 60 * pxPerHour
	return top, height
}
