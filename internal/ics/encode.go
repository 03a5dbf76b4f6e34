package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"familycal/internal/model"
	"familycal/internal/recurrence"
)

// Encode writes events as an iCalendar stream that Decode reads back.
// Owner and type travel in X- properties; type is also written as CATEGORIES
// for other clients.
func Encode(w io.Writer, events []model.BaseEvent) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//familycal//week planner//EN")

	stamp := time.Now().UTC()
	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Notes != "" {
			ve.SetDescription(ev.Notes)
		}
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetProperty(ical.ComponentPropertyCategories, ev.Type)
		ve.SetProperty(PropType, ev.Type)
		ve.SetProperty(PropOwner, ev.OwnerTag)

		if !ev.Recurrence.Repeats() {
			continue
		}
		rule, err := recurrence.FormatRRule(ev.Recurrence)
		if err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		ve.AddRrule(rule)
		for _, ex := range ev.ExceptionDates {
			ve.AddExdate(ex.UTC().Format("20060102T150405Z"))
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
