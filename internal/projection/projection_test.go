package projection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familycal/internal/model"
	"familycal/internal/recurrence"
	"familycal/internal/timeutil"
)

func at(d, h, m int) time.Time {
	return time.Date(2024, 1, d, h, m, 0, 0, time.UTC)
}

func event(id string, start, end time.Time) model.BaseEvent {
	return model.BaseEvent{ID: id, Title: id, Type: "appointment", OwnerTag: "Sam", Start: start, End: end}
}

func TestProject_SingleMondayEvent(t *testing.T) {
	out, err := Project([]model.BaseEvent{event("dentist", at(1, 9, 0), at(1, 11, 0))}, at(1, 0, 0), at(7, 23, 59))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "dentist", out[0].EventID)
	assert.Equal(t, 0, out[0].Column)
	assert.Equal(t, 1, out[0].ColumnCount)
	assert.False(t, out[0].IsRecurring)
}

func TestProject_GroupsByDayAndLaysOut(t *testing.T) {
	standup := event("standup", at(1, 9, 0), at(1, 9, 30))
	standup.Recurrence = &model.RecurrenceRule{
		Frequency:    model.FrequencyDaily,
		Interval:     1,
		EndCondition: model.EndNever,
	}
	events := []model.BaseEvent{
		event("review", at(3, 9, 15), at(3, 10, 0)),
		standup,
		event("lunch", at(2, 12, 0), at(2, 13, 0)),
	}

	out, err := Project(events, at(1, 0, 0), at(3, 23, 59))
	require.NoError(t, err)

	var got []string
	for _, p := range out {
		got = append(got, timeutil.DayKey(p.Start).String()+" "+p.EventID)
	}
	assert.Equal(t, []string{
		"2024-01-01 standup",
		"2024-01-02 standup",
		"2024-01-02 lunch",
		"2024-01-03 standup",
		"2024-01-03 review",
	}, got)

	// Only Wednesday has an overlap.
	for _, p := range out {
		if timeutil.DayKey(p.Start).Day == 3 {
			assert.Equal(t, 2, p.ColumnCount, p.EventID)
		} else {
			assert.Equal(t, 1, p.ColumnCount, p.EventID)
		}
	}
}

func TestProject_RejectsInvertedInterval(t *testing.T) {
	_, err := Project([]model.BaseEvent{event("broken", at(1, 10, 0), at(1, 10, 0))}, at(1, 0, 0), at(7, 0, 0))
	require.Error(t, err)

	var iie *InvalidIntervalError
	require.True(t, errors.As(err, &iie))
	assert.Equal(t, "broken", iie.EventID)
	assert.True(t, errors.Is(err, timeutil.ErrMalformedTime))
}

func TestProject_SurfacesRuleErrors(t *testing.T) {
	ev := event("bad-rule", at(1, 10, 0), at(1, 11, 0))
	ev.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 0, EndCondition: model.EndNever}

	_, err := Project([]model.BaseEvent{ev}, at(1, 0, 0), at(7, 0, 0))
	var ire *recurrence.InvalidRuleError
	assert.True(t, errors.As(err, &ire))
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	ev := event("gym", at(1, 18, 0), at(1, 19, 0))
	ev.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, EndCondition: model.EndNever}
	events := []model.BaseEvent{ev}
	before := ev.Clone()

	_, err := Project(events, at(1, 0, 0), at(31, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, before, events[0])
}

func TestWeekWindow(t *testing.T) {
	start, end := WeekWindow(at(4, 15, 0), time.Monday, 5)
	assert.Equal(t, at(1, 0, 0), start)
	assert.Equal(t, at(6, 0, 0).Add(-time.Nanosecond), end)

	start, end = WeekWindow(at(4, 15, 0), time.Sunday, 0)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, at(7, 0, 0).Add(-time.Nanosecond), end)
}

func TestFilter(t *testing.T) {
	events := []model.BaseEvent{
		{ID: "1", Title: "Piano lesson", Type: "music", OwnerTag: "Mia"},
		{ID: "2", Title: "Dentist", Type: "health", OwnerTag: "Leo", Notes: "bring forms"},
		{ID: "3", Title: "Soccer", Type: "sport", OwnerTag: "mia"},
	}

	ids := func(evs []model.BaseEvent) []string {
		var out []string
		for _, e := range evs {
			out = append(out, e.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(Filter{}.Apply(events)))
	assert.Equal(t, []string{"1", "3"}, ids(Filter{OwnerTags: []string{"Mia"}}.Apply(events)))
	assert.Equal(t, []string{"2"}, ids(Filter{Types: []string{"HEALTH"}}.Apply(events)))
	assert.Equal(t, []string{"2"}, ids(Filter{Search: "forms"}.Apply(events)))
	assert.Empty(t, Filter{OwnerTags: []string{"Leo"}, Search: "piano"}.Apply(events))
}

func TestColorFor(t *testing.T) {
	a := ColorFor(nil, "Mia")
	assert.Equal(t, a, ColorFor(DefaultPalette, "Mia"), "same tag, same color")
	assert.Equal(t, a, ColorFor(DefaultPalette, " mia "), "tags compare case-insensitively")
	assert.Contains(t, DefaultPalette, a)

	single := []Color{{Main: "#000000", Light: "#ffffff"}}
	assert.Equal(t, single[0], ColorFor(single, "anyone"))
}
