package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "familycal/internal/log"
	"familycal/internal/model"
	"familycal/internal/recurrence"
)

// Non-standard properties carrying fields iCalendar has no slot for.
const (
	PropOwner ical.ComponentProperty = "X-FAMILYCAL-OWNER"
	PropType  ical.ComponentProperty = "X-FAMILYCAL-TYPE"

	propRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"
)

// DecodeOptions tune how VEVENTs become base events.
type DecodeOptions struct {
	// Location is used for floating times and for the wall clock recurrence
	// is evaluated on. Nil means time.Local.
	Location *time.Location
	// Source marks every decoded event as read-only from that source and
	// prefixes ids with it. Empty for imports into the store.
	Source string
	// DefaultOwner / DefaultType fill events without owner or category.
	DefaultOwner string
	DefaultType  string
	// SkipAllDay drops all-day events instead of spanning the whole day.
	SkipAllDay bool
}

// Decode parses an iCalendar stream. A VEVENT that cannot be represented
// (unsupported RRULE, missing DTSTART, ...) is logged and skipped; the rest of
// the calendar is still returned.
//
// RECURRENCE-ID overrides become an exception on their series plus a
// separate single event, the same shape a "this occurrence" edit produces.
func Decode(r io.Reader, opts DecodeOptions) ([]model.BaseEvent, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultType == "" {
		opts.DefaultType = "Event"
	}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var (
		out       []model.BaseEvent
		seriesIdx = map[string]int{}
		overrides []override
	)
	for _, ve := range cal.Events() {
		ev, rid, err := decodeEvent(ve, opts)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			appLog.Warn("ics: skipping event", "source", opts.Source, "error", err.Error())
			continue
		}
		if !rid.IsZero() {
			overrides = append(overrides, override{uid: uidOf(ve), at: rid})
			ev.ID += "@" + rid.UTC().Format("20060102T150405Z")
		} else if ev.Recurrence.Repeats() {
			seriesIdx[uidOf(ve)] = len(out)
		}
		out = append(out, ev)
	}

	for _, o := range overrides {
		if i, ok := seriesIdx[o.uid]; ok {
			out[i].ExceptionDates = recurrence.AddException(out[i], o.at)
		}
	}
	return out, nil
}

type override struct {
	uid string
	at  time.Time
}

var errSkip = errors.New("skip")

func decodeEvent(ve *ical.VEvent, opts DecodeOptions) (model.BaseEvent, time.Time, error) {
	uid := uidOf(ve)
	if uid == "" {
		return model.BaseEvent{}, time.Time{}, errors.New("missing UID")
	}

	start, allDay, err := timeProp(ve.GetProperty(ical.ComponentPropertyDtStart), opts.Location)
	if err != nil {
		return model.BaseEvent{}, time.Time{}, fmt.Errorf("event %s: DTSTART: %w", uid, err)
	}
	if allDay && opts.SkipAllDay {
		return model.BaseEvent{}, time.Time{}, errSkip
	}

	end, _, err := timeProp(ve.GetProperty(ical.ComponentPropertyDtEnd), opts.Location)
	switch {
	case err == nil:
	case allDay:
		end = start.AddDate(0, 0, 1)
	default:
		end = start.Add(time.Hour)
	}
	if !end.After(start) {
		return model.BaseEvent{}, time.Time{}, fmt.Errorf("event %s: DTEND is not after DTSTART", uid)
	}

	ev := model.BaseEvent{
		ID:       uid,
		Title:    text(ve, ical.ComponentPropertySummary),
		Notes:    text(ve, ical.ComponentPropertyDescription),
		OwnerTag: text(ve, PropOwner),
		Type:     text(ve, PropType),
		Start:    start,
		End:      end,
		Source:   opts.Source,
	}
	if opts.Source != "" {
		ev.ID = opts.Source + ":" + uid
	}
	if ev.Type == "" {
		ev.Type, _, _ = strings.Cut(text(ve, ical.ComponentPropertyCategories), ",")
	}
	if ev.Type == "" {
		ev.Type = opts.DefaultType
	}
	if ev.OwnerTag == "" {
		ev.OwnerTag = opts.DefaultOwner
	}
	if ev.Title == "" {
		ev.Title = "(no title)"
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rule, err := recurrence.ParseRRule(p.Value, start.Location())
		if err != nil {
			return model.BaseEvent{}, time.Time{}, fmt.Errorf("event %s: %w", uid, err)
		}
		if rule.Repeats() {
			ev.Recurrence = &rule
		}
	}

	if ev.Recurrence != nil {
		for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
			for part := range strings.SplitSeq(p.Value, ",") {
				t, _, err := parseValue(strings.TrimSpace(part), tzid(p), opts.Location)
				if err != nil {
					appLog.Warn("ics: bad EXDATE", "event", uid, "value", part)
					continue
				}
				ev.ExceptionDates = recurrence.AddException(ev, t.In(start.Location()))
			}
		}
	}

	var rid time.Time
	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if rid, _, err = timeProp(p, opts.Location); err != nil {
			return model.BaseEvent{}, time.Time{}, fmt.Errorf("event %s: RECURRENCE-ID: %w", uid, err)
		}
		rid = rid.In(start.Location())
		ev.Recurrence = nil
	}
	return ev, rid, nil
}

func uidOf(ve *ical.VEvent) string {
	return strings.TrimSpace(text(ve, ical.ComponentPropertyUniqueId))
}

func text(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func tzid(p *ical.IANAProperty) string {
	if vs := p.ICalParameters[string(ical.ParameterTzid)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// timeProp reads a DATE or DATE-TIME property. Floating times are read in
// loc; TZID times in their zone; UTC times stay UTC and are then moved to
// loc so recurrence runs on the local wall clock.
func timeProp(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return time.Time{}, false, errors.New("missing value")
	}
	return parseValue(strings.TrimSpace(p.Value), tzid(p), loc)
}

func parseValue(v, tz string, loc *time.Location) (time.Time, bool, error) {
	if tz != "" {
		if zone, err := time.LoadLocation(tz); err == nil {
			loc = zone
		} else {
			appLog.Warn("ics: unknown TZID, using default zone", "tzid", tz)
		}
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t.In(loc), false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}
