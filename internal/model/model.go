package model

import (
	"strings"
	"time"
)

// Frequency is the repetition unit of a RecurrenceRule.
type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// EndCondition says how a recurring series stops.
type EndCondition string

const (
	EndNever      EndCondition = "never"
	EndOnDate     EndCondition = "on_date"
	EndAfterCount EndCondition = "after_count"
)

// RecurrenceRule describes repetition of a single base event.
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	// Interval repeats every N units; must be >= 1 for any frequency but none.
	Interval int `json:"interval" yaml:"interval"`
	// ByWeekday only applies to weekly rules. Empty means the weekday of the
	// series start.
	ByWeekday    []time.Weekday `json:"by_weekday,omitempty" yaml:"by_weekday,omitempty"`
	EndCondition EndCondition   `json:"end_condition" yaml:"end_condition"`
	// EndDate is set iff EndCondition is EndOnDate.
	EndDate *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	// OccurrenceCount is set iff EndCondition is EndAfterCount and caps the
	// whole series, not just one window.
	OccurrenceCount int `json:"occurrence_count,omitempty" yaml:"occurrence_count,omitempty"`
}

// Repeats reports whether the rule generates more than the base occurrence.
func (r *RecurrenceRule) Repeats() bool {
	return r != nil && r.Frequency != "" && r.Frequency != FrequencyNone
}

// Clone returns a deep copy so callers can edit rules without aliasing.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	if r.ByWeekday != nil {
		out.ByWeekday = append([]time.Weekday(nil), r.ByWeekday...)
	}
	if r.EndDate != nil {
		d := *r.EndDate
		out.EndDate = &d
	}
	return &out
}

// BaseEvent is the stored, canonical representation of a (possibly
// recurring) event.
type BaseEvent struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	OwnerTag string `json:"owner_tag"`
	Notes    string `json:"notes,omitempty"`

	// Start / End describe the first occurrence; End-Start is the duration
	// of every expanded occurrence.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Recurrence     *RecurrenceRule `json:"recurrence,omitempty"`
	ExceptionDates []time.Time     `json:"exception_dates,omitempty"`

	// Source is empty for stored events and names the subscription for
	// read-only events pulled from an ICS feed.
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration is the fixed length of every occurrence of the event.
func (e BaseEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Clone returns a deep copy of the event.
func (e BaseEvent) Clone() BaseEvent {
	out := e
	out.Recurrence = e.Recurrence.Clone()
	if e.ExceptionDates != nil {
		out.ExceptionDates = append([]time.Time(nil), e.ExceptionDates...)
	}
	return out
}

// ReadOnly reports whether the event comes from an external subscription.
func (e BaseEvent) ReadOnly() bool {
	return strings.TrimSpace(e.Source) != ""
}

// Occurrence is one concrete calendar appearance of a BaseEvent. It is
// derived per rendering pass and never persisted.
type Occurrence struct {
	EventID  string `json:"event_id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	OwnerTag string `json:"owner_tag"`
	Notes    string `json:"notes,omitempty"`
	Source   string `json:"source,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	IsRecurring bool `json:"is_recurring"`
}

// InstanceKey identifies one occurrence of a series.
func (o Occurrence) InstanceKey() string {
	return o.EventID + "@" + o.Start.Format(time.RFC3339)
}

// PositionedOccurrence is an Occurrence with its column placement.
type PositionedOccurrence struct {
	Occurrence

	// Column is zero-based; 0 <= Column < ColumnCount.
	Column      int `json:"column"`
	ColumnCount int `json:"column_count"`
}
