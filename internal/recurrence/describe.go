package recurrence

import (
	"fmt"
	"strings"
	"time"

	"familycal/internal/model"
)

// Describe renders a rule as short English text, e.g.
// "Every 2 weeks on Mon, Wed, until Jan 31, 2024".
func Describe(rule *model.RecurrenceRule) string {
	if !rule.Repeats() {
		return "Does not repeat"
	}

	var b strings.Builder
	b.WriteString(every(rule.Frequency, rule.Interval))

	if rule.Frequency == model.FrequencyWeekly && len(rule.ByWeekday) > 0 {
		names := make([]string, 0, len(rule.ByWeekday))
		for _, wd := range weekdays(rule, time.Time{}) {
			names = append(names, wd.String()[:3])
		}
		b.WriteString(" on ")
		b.WriteString(strings.Join(names, ", "))
	}

	switch rule.EndCondition {
	case model.EndOnDate:
		if rule.EndDate != nil {
			b.WriteString(", until ")
			b.WriteString(rule.EndDate.Format("Jan 2, 2006"))
		}
	case model.EndAfterCount:
		if rule.OccurrenceCount == 1 {
			b.WriteString(", once")
		} else {
			fmt.Fprintf(&b, ", %d times", rule.OccurrenceCount)
		}
	}
	return b.String()
}

func every(freq model.Frequency, interval int) string {
	unit := map[model.Frequency]string{
		model.FrequencyDaily:   "day",
		model.FrequencyWeekly:  "week",
		model.FrequencyMonthly: "month",
		model.FrequencyYearly:  "year",
	}[freq]
	if unit == "" {
		return string(freq)
	}
	if interval <= 1 {
		if freq == model.FrequencyDaily {
			return "Daily"
		}
		return strings.ToUpper(unit[:1]) + unit[1:] + "ly"
	}
	return fmt.Sprintf("Every %d %ss", interval, unit)
}
