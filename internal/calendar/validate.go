package calendar

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"familycal/internal/model"
	"familycal/internal/recurrence"
)

const (
	maxTitleLen = 100
	maxNotesLen = 500
)

// ValidationError lists invalid fields of an event, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// Validate checks an event the way the edit form does.
func Validate(ev model.BaseEvent) error {
	fields := map[string]string{}

	switch title := strings.TrimSpace(ev.Title); {
	case title == "":
		fields["title"] = "Title is required"
	case utf8.RuneCountInString(ev.Title) > maxTitleLen:
		fields["title"] = "Title must be less than 100 characters"
	}
	if strings.TrimSpace(ev.Type) == "" {
		fields["type"] = "Event type is required"
	}
	if strings.TrimSpace(ev.OwnerTag) == "" {
		fields["owner_tag"] = "Family member is required"
	}
	if ev.Start.IsZero() {
		fields["start"] = "Start time is required"
	}
	if ev.End.IsZero() {
		fields["end"] = "End time is required"
	}
	if !ev.Start.IsZero() && !ev.End.IsZero() && !ev.End.After(ev.Start) {
		fields["time"] = "End time must be after start time"
	}
	if utf8.RuneCountInString(ev.Notes) > maxNotesLen {
		fields["notes"] = "Notes must be less than 500 characters"
	}
	if ev.Recurrence.Repeats() {
		if err := recurrence.Validate(ev.Recurrence); err != nil {
			var ire *recurrence.InvalidRuleError
			if errors.As(err, &ire) {
				fields["recurrence."+ire.Field] = ire.Reason
			} else {
				fields["recurrence"] = err.Error()
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
