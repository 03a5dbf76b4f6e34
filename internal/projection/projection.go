// Package projection turns stored events into the laid-out occurrences a
// week view draws. It is the single entry point renderers call.
package projection

import (
	"fmt"
	"slices"
	"time"

	"familycal/internal/layout"
	"familycal/internal/model"
	"familycal/internal/recurrence"
	"familycal/internal/timeutil"
)

// InvalidIntervalError reports an event or occurrence whose end is not after
// its start. It belongs to the timeutil.ErrMalformedTime class.
type InvalidIntervalError struct {
	EventID    string
	Start, End time.Time
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("event %s: end %s is not after start %s",
		e.EventID, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

func (e *InvalidIntervalError) Unwrap() error {
	return timeutil.ErrMalformedTime
}

// Project expands events over [windowStart, windowEnd], groups the
// occurrences by calendar day and lays out each day. The result is ordered
// by day, then by the layout order inside the day.
//
// events is read as a snapshot and never modified.
func Project(events []model.BaseEvent, windowStart, windowEnd time.Time) ([]model.PositionedOccurrence, error) {
	byDay := make(map[timeutil.Day][]model.Occurrence)

	for _, ev := range events {
		if !ev.End.After(ev.Start) {
			return nil, &InvalidIntervalError{EventID: ev.ID, Start: ev.Start, End: ev.End}
		}
		occs, err := recurrence.Expand(ev, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("expand event %s: %w", ev.ID, err)
		}
		for _, o := range occs {
			if !o.End.After(o.Start) {
				return nil, &InvalidIntervalError{EventID: o.EventID, Start: o.Start, End: o.End}
			}
			key := timeutil.DayKey(o.Start)
			byDay[key] = append(byDay[key], o)
		}
	}

	days := make([]timeutil.Day, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	slices.SortFunc(days, func(a, b timeutil.Day) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})

	var out []model.PositionedOccurrence
	for _, d := range days {
		out = append(out, layout.Day(byDay[d])...)
	}
	return out, nil
}

// WeekWindow returns the inclusive window covering `days` days from the
// start of the week containing anchor.
func WeekWindow(anchor time.Time, weekStart time.Weekday, days int) (time.Time, time.Time) {
	if days <= 0 {
		days = 7
	}
	start := timeutil.StartOfWeek(anchor, weekStart)
	end := start.AddDate(0, 0, days).Add(-time.Nanosecond)
	return start, end
}
