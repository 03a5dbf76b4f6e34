package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"familycal/internal/model"
)

// rruleWeekdays is indexed by time.Weekday (Sunday = 0).
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var toRRuleFreq = map[model.Frequency]rrule.Frequency{
	model.FrequencyDaily:   rrule.DAILY,
	model.FrequencyWeekly:  rrule.WEEKLY,
	model.FrequencyMonthly: rrule.MONTHLY,
	model.FrequencyYearly:  rrule.YEARLY,
}

// FormatRRule encodes a rule as an RFC 5545 RRULE value (without the
// "RRULE:" prefix and without DTSTART). A non-repeating rule encodes as "".
func FormatRRule(rule *model.RecurrenceRule) (string, error) {
	if !rule.Repeats() {
		return "", nil
	}
	if err := Validate(rule); err != nil {
		return "", err
	}

	opt := rrule.ROption{
		Freq:     toRRuleFreq[rule.Frequency],
		Interval: rule.Interval,
	}
	if rule.Frequency == model.FrequencyWeekly && len(rule.ByWeekday) > 0 {
		for _, wd := range weekdays(rule, time.Time{}) {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	}
	switch rule.EndCondition {
	case model.EndOnDate:
		opt.Until = *rule.EndDate
	case model.EndAfterCount:
		opt.Count = rule.OccurrenceCount
	}
	return opt.RRuleString(), nil
}

// ParseRRule decodes an RRULE value (with or without the "RRULE:" prefix).
// UNTIL is read into loc. Parts outside the supported subset (BYMONTHDAY,
// BYSETPOS, ordinal BYDAY, sub-daily frequencies, ...) are rejected rather
// than approximated.
func ParseRRule(text string, loc *time.Location) (model.RecurrenceRule, error) {
	if loc == nil {
		loc = time.Local
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "RRULE:")
	if text == "" {
		return model.RecurrenceRule{Frequency: model.FrequencyNone}, nil
	}

	opt, err := rrule.StrToROption(text)
	if err != nil {
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "rrule", Reason: err.Error()}
	}

	var rule model.RecurrenceRule
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = model.FrequencyDaily
	case rrule.WEEKLY:
		rule.Frequency = model.FrequencyWeekly
	case rrule.MONTHLY:
		rule.Frequency = model.FrequencyMonthly
	case rrule.YEARLY:
		rule.Frequency = model.FrequencyYearly
	default:
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "frequency", Reason: fmt.Sprintf("unsupported FREQ in %q", text)}
	}

	rule.Interval = opt.Interval
	if rule.Interval == 0 {
		rule.Interval = 1
	}

	if len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 ||
		len(opt.Byweekno) > 0 || len(opt.Bymonth) > 0 || len(opt.Byhour) > 0 ||
		len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "rrule", Reason: fmt.Sprintf("unsupported BYxxx part in %q", text)}
	}
	if len(opt.Byweekday) > 0 && rule.Frequency != model.FrequencyWeekly {
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "by_weekday", Reason: "BYDAY is only supported with FREQ=WEEKLY"}
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return model.RecurrenceRule{}, &InvalidRuleError{Field: "by_weekday", Reason: fmt.Sprintf("ordinal BYDAY %s is not supported", wd.String())}
		}
		// rrule-go numbers weekdays from Monday = 0.
		rule.ByWeekday = append(rule.ByWeekday, time.Weekday((wd.Day()+1)%7))
	}

	switch {
	case opt.Count > 0 && !opt.Until.IsZero():
		return model.RecurrenceRule{}, &InvalidRuleError{Field: "rrule", Reason: "COUNT and UNTIL are mutually exclusive"}
	case opt.Count > 0:
		rule.EndCondition = model.EndAfterCount
		rule.OccurrenceCount = opt.Count
	case !opt.Until.IsZero():
		until := opt.Until.In(loc)
		rule.EndCondition = model.EndOnDate
		rule.EndDate = &until
	default:
		rule.EndCondition = model.EndNever
	}

	if err := Validate(&rule); err != nil {
		return model.RecurrenceRule{}, err
	}
	return rule, nil
}
