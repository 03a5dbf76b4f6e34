// Package recurrence evaluates recurrence rules on the local wall clock of
// the series start: it expands a BaseEvent into concrete occurrences inside
// a window and maintains exception dates and series splits for
// "this occurrence" and "this and following" edits.
package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"familycal/internal/model"
)

// ErrSeriesExhausted means a split point lies past the last occurrence of the
// series, so nothing remains to continue.
var ErrSeriesExhausted = errors.New("recurrence: no occurrences left after split")

// InvalidRuleError reports a RecurrenceRule that violates its own invariants.
type InvalidRuleError struct {
	Field  string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s: %s", e.Field, e.Reason)
}

// Validate checks the rule invariants. A nil rule or FrequencyNone is valid
// and means "does not repeat".
func Validate(rule *model.RecurrenceRule) error {
	if !rule.Repeats() {
		return nil
	}
	switch rule.Frequency {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly, model.FrequencyYearly:
	default:
		return &InvalidRuleError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", rule.Frequency)}
	}
	if rule.Interval < 1 {
		return &InvalidRuleError{Field: "interval", Reason: "must be at least 1"}
	}
	for _, wd := range rule.ByWeekday {
		if wd < time.Sunday || wd > time.Saturday {
			return &InvalidRuleError{Field: "by_weekday", Reason: fmt.Sprintf("weekday %d out of range 0..6", int(wd))}
		}
	}

	switch rule.EndCondition {
	case model.EndNever, "":
		if rule.EndDate != nil {
			return &InvalidRuleError{Field: "end_date", Reason: "set while the series never ends"}
		}
		if rule.OccurrenceCount != 0 {
			return &InvalidRuleError{Field: "occurrence_count", Reason: "set while the series never ends"}
		}
	case model.EndOnDate:
		if rule.EndDate == nil || rule.EndDate.IsZero() {
			return &InvalidRuleError{Field: "end_date", Reason: "required when the series ends on a date"}
		}
		if rule.OccurrenceCount != 0 {
			return &InvalidRuleError{Field: "occurrence_count", Reason: "set while the series ends on a date"}
		}
	case model.EndAfterCount:
		if rule.OccurrenceCount < 1 {
			return &InvalidRuleError{Field: "occurrence_count", Reason: "must be positive when the series ends after a count"}
		}
		if rule.EndDate != nil {
			return &InvalidRuleError{Field: "end_date", Reason: "set while the series ends after a count"}
		}
	default:
		return &InvalidRuleError{Field: "end_condition", Reason: fmt.Sprintf("unknown end condition %q", rule.EndCondition)}
	}
	return nil
}

// weekdays returns the selected weekdays sorted and de-duplicated, or the
// weekday of start when none are selected.
func weekdays(rule *model.RecurrenceRule, start time.Time) []time.Weekday {
	if len(rule.ByWeekday) == 0 {
		return []time.Weekday{start.Weekday()}
	}
	out := slices.Clone(rule.ByWeekday)
	slices.Sort(out)
	return slices.Compact(out)
}

// addMonthsClamped adds n calendar months to t, keeping the wall-clock time.
// A day that does not exist in the target month is clamped to the month's
// last day (Jan 31 + 1 month = Feb 29 in a leap year).
func addMonthsClamped(t time.Time, n int) time.Time {
	total := int(t.Month()) - 1 + n
	year := t.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)

	day := min(t.Day(), daysIn(year, month))
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
