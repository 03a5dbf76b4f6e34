package recurrence

import (
	"errors"
	"iter"
	"slices"
	"time"

	appLog "familycal/internal/log"
	"familycal/internal/model"
	"familycal/internal/timeutil"
)

// MaxOccurrencesPerEvent caps how many occurrences one event may contribute
// to a single window.
const MaxOccurrencesPerEvent = 5000

// Candidates yields the scheduled starts of a validated rule in ascending
// order, beginning at start. The sequence honours the rule's end condition
// across the whole series and is infinite for rules that never end, so
// consumers must stop on their own.
//
// Weekly rules with ByWeekday walk Sunday-based weeks, `Interval` weeks
// apart, emitting the selected weekdays in order; days before start in the
// first week are skipped. Monthly and yearly candidates are computed from
// start (start + k*interval units) with end-of-month clamping, so a series
// on the 31st does not drift after passing a short month.
func Candidates(rule model.RecurrenceRule, start time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		produced := 0
		emit := func(t time.Time) bool {
			if rule.EndCondition == model.EndOnDate && rule.EndDate != nil && t.After(*rule.EndDate) {
				return false
			}
			if !yield(t) {
				return false
			}
			produced++
			return rule.EndCondition != model.EndAfterCount || produced < rule.OccurrenceCount
		}

		switch rule.Frequency {
		case model.FrequencyDaily:
			for k := 0; ; k++ {
				if !emit(start.AddDate(0, 0, k*rule.Interval)) {
					return
				}
			}
		case model.FrequencyWeekly:
			days := weekdays(&rule, start)
			weekStart := time.Date(start.Year(), start.Month(), start.Day()-int(start.Weekday()),
				start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
			for k := 0; ; k++ {
				base := weekStart.AddDate(0, 0, 7*k*rule.Interval)
				for _, wd := range days {
					t := base.AddDate(0, 0, int(wd))
					if t.Before(start) {
						continue
					}
					if !emit(t) {
						return
					}
				}
			}
		case model.FrequencyMonthly:
			for k := 0; ; k++ {
				if !emit(addMonthsClamped(start, k*rule.Interval)) {
					return
				}
			}
		case model.FrequencyYearly:
			for k := 0; ; k++ {
				if !emit(addMonthsClamped(start, 12*k*rule.Interval)) {
					return
				}
			}
		}
	}
}

// Expand returns the occurrences of event whose start lies inside
// [windowStart, windowEnd], both ends inclusive.
//
// Candidates whose calendar day matches an exception date are dropped; they
// still count towards an after-count limit.
func Expand(event model.BaseEvent, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	if windowEnd.Before(windowStart) {
		return nil, errors.New("expand: window end is before window start")
	}

	if !event.Recurrence.Repeats() {
		if event.Start.Before(windowStart) || event.Start.After(windowEnd) {
			return nil, nil
		}
		return []model.Occurrence{occurrence(event, event.Start, false)}, nil
	}

	if err := Validate(event.Recurrence); err != nil {
		return nil, err
	}

	excluded := make(map[timeutil.Day]struct{}, len(event.ExceptionDates))
	for _, ex := range event.ExceptionDates {
		excluded[timeutil.DayKey(ex)] = struct{}{}
	}

	var out []model.Occurrence
	for c := range Candidates(*event.Recurrence, event.Start) {
		if c.After(windowEnd) {
			break
		}
		if _, skip := excluded[timeutil.DayKey(c)]; skip {
			continue
		}
		if c.Before(windowStart) {
			continue
		}
		if len(out) == MaxOccurrencesPerEvent {
			appLog.Warn("expand: occurrence cap reached, truncating",
				"event_id", event.ID,
				"cap", MaxOccurrencesPerEvent,
				"window_start", windowStart.Format(time.RFC3339),
				"window_end", windowEnd.Format(time.RFC3339),
			)
			break
		}
		out = append(out, occurrence(event, c, true))
	}
	return out, nil
}

func occurrence(ev model.BaseEvent, start time.Time, recurring bool) model.Occurrence {
	return model.Occurrence{
		EventID:     ev.ID,
		Title:       ev.Title,
		Type:        ev.Type,
		OwnerTag:    ev.OwnerTag,
		Notes:       ev.Notes,
		Source:      ev.Source,
		Start:       start,
		End:         start.Add(ev.Duration()),
		IsRecurring: recurring,
	}
}

// AddException returns the event's exception dates with date added. Dates
// are compared by calendar day, so adding a day already present is a no-op.
// The result is sorted and never aliases the event's slice.
func AddException(event model.BaseEvent, date time.Time) []time.Time {
	out := slices.Clone(event.ExceptionDates)
	key := timeutil.DayKey(date)
	for _, ex := range out {
		if timeutil.DayKey(ex) == key {
			return out
		}
	}
	out = append(out, date)
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// SplitSeries returns a copy of the event's rule that stops the day before
// splitDate, for "this and following" edits. The caller creates the new
// series starting at splitDate (see ContinueSeries).
//
// The end date is splitDate minus one calendar day. If the series already
// ends before that point the rule is returned unchanged.
func SplitSeries(event model.BaseEvent, splitDate time.Time) (model.RecurrenceRule, error) {
	if !event.Recurrence.Repeats() {
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "frequency", Reason: "event does not repeat"}
	}
	if err := Validate(event.Recurrence); err != nil {
		return model.RecurrenceRule{}, err
	}

	rule := *event.Recurrence.Clone()
	until := splitDate.AddDate(0, 0, -1)

	switch rule.EndCondition {
	case model.EndAfterCount:
		if countBefore(event, splitDate) >= rule.OccurrenceCount {
			return rule, nil
		}
		rule.OccurrenceCount = 0
	case model.EndOnDate:
		if rule.EndDate.Before(until) {
			return rule, nil
		}
	}
	rule.EndCondition = model.EndOnDate
	rule.EndDate = &until
	return rule, nil
}

// ContinueSeries returns the rule for the new series that takes over at
// splitDate: same frequency, interval and weekdays, keeping the original end
// date or the count that remains after the occurrences before splitDate.
func ContinueSeries(event model.BaseEvent, splitDate time.Time) (model.RecurrenceRule, error) {
	if !event.Recurrence.Repeats() {
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "frequency", Reason: "event does not repeat"}
	}
	if err := Validate(event.Recurrence); err != nil {
		return model.RecurrenceRule{}, err
	}

	rule := *event.Recurrence.Clone()
	switch rule.EndCondition {
	case model.EndAfterCount:
		remaining := rule.OccurrenceCount - countBefore(event, splitDate)
		if remaining <= 0 {
			return model.RecurrenceRule{}, ErrSeriesExhausted
		}
		rule.OccurrenceCount = remaining
	case model.EndOnDate:
		if rule.EndDate.Before(splitDate) {
			return model.RecurrenceRule{}, ErrSeriesExhausted
		}
	}
	return rule, nil
}

// countBefore counts scheduled candidates strictly before t, exceptions
// included.
func countBefore(event model.BaseEvent, t time.Time) int {
	n := 0
	for c := range Candidates(*event.Recurrence, event.Start) {
		if !c.Before(t) {
			break
		}
		n++
	}
	return n
}
