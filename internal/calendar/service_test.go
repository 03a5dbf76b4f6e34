package calendar

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familycal/internal/model"
	"familycal/internal/projection"
	"familycal/internal/recurrence"
	"familycal/internal/store"
)

type fakeSource struct {
	name   string
	events []model.BaseEvent
	err    error
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Events(context.Context) ([]model.BaseEvent, error) {
	return f.events, f.err
}

func jan(d, h int) time.Time {
	return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func newService(t *testing.T, sources ...Source) *Service {
	t.Helper()
	st, err := store.NewMemory()
	require.NoError(t, err)
	return NewService(st, Options{Location: time.UTC, WeekStart: time.Monday, VisibleDays: 7}, sources...)
}

// weeklySeries creates a Monday 09:00 series with five occurrences:
// Jan 1, 8, 15, 22 and 29.
func weeklySeries(t *testing.T, s *Service) model.BaseEvent {
	t.Helper()
	ev, err := s.Create(context.Background(), model.BaseEvent{
		Title:    "Swim class",
		Type:     "Sport",
		OwnerTag: "Sofia",
		Start:    jan(1, 9),
		End:      jan(1, 10),
		Recurrence: &model.RecurrenceRule{
			Frequency:       model.FrequencyWeekly,
			Interval:        1,
			EndCondition:    model.EndAfterCount,
			OccurrenceCount: 5,
		},
	})
	require.NoError(t, err)
	return ev
}

func starts(t *testing.T, ev model.BaseEvent) []int {
	t.Helper()
	occs, err := recurrence.Expand(ev, jan(1, 0), jan(31, 23))
	require.NoError(t, err)
	var out []int
	for _, o := range occs {
		out = append(out, o.Start.Day())
	}
	return out
}

func TestValidate(t *testing.T) {
	valid := model.BaseEvent{Title: "Dentist", Type: "Appointment", OwnerTag: "Lisa", Start: jan(2, 9), End: jan(2, 10)}
	require.NoError(t, Validate(valid))

	tests := []struct {
		name   string
		mutate func(*model.BaseEvent)
		field  string
	}{
		{"missing title", func(e *model.BaseEvent) { e.Title = "  " }, "title"},
		{"long title", func(e *model.BaseEvent) { e.Title = strings.Repeat("x", 101) }, "title"},
		{"missing type", func(e *model.BaseEvent) { e.Type = "" }, "type"},
		{"missing owner", func(e *model.BaseEvent) { e.OwnerTag = "" }, "owner_tag"},
		{"end before start", func(e *model.BaseEvent) { e.End = e.Start.Add(-time.Hour) }, "time"},
		{"zero length", func(e *model.BaseEvent) { e.End = e.Start }, "time"},
		{"long notes", func(e *model.BaseEvent) { e.Notes = strings.Repeat("n", 501) }, "notes"},
		{"bad interval", func(e *model.BaseEvent) {
			e.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyDaily, EndCondition: model.EndNever}
		}, "recurrence.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid.Clone()
			tt.mutate(&ev)
			err := Validate(ev)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Contains(t, ve.Fields, tt.field)
		})
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeThis, "this": ScopeThis, "Following": ScopeFollowing, "thisAndFollowing": ScopeFollowing, "all": ScopeAll} {
		got, err := ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseScope("some")
	assert.Error(t, err)
}

func TestCreate_RejectsInvalid(t *testing.T) {
	s := newService(t)
	_, err := s.Create(context.Background(), model.BaseEvent{Title: "No owner", Type: "Work", Start: jan(2, 9), End: jan(2, 10)})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestEdit_ThisOccurrence(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	series := weeklySeries(t, s)

	detached, err := s.Edit(ctx, series.ID, jan(8, 9), Patch{
		Title: ptr("Swim class (pool closed, gym)"),
		Start: ptr(jan(8, 14)),
		End:   ptr(jan(8, 15)),
	}, ScopeThis)
	require.NoError(t, err)
	assert.NotEqual(t, series.ID, detached.ID)
	assert.Nil(t, detached.Recurrence)
	assert.True(t, detached.Start.Equal(jan(8, 14)))
	assert.True(t, detached.End.Equal(jan(8, 15)))

	base, err := s.Get(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 15, 22, 29}, starts(t, base), "exception still counts towards the five")
	assert.Equal(t, "Swim class", base.Title)

	week, err := s.Week(ctx, jan(10, 12), projection.Filter{})
	require.NoError(t, err)
	require.Len(t, week.Entries, 1)
	assert.Equal(t, detached.ID, week.Entries[0].EventID)
}

func TestEdit_Following(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	series := weeklySeries(t, s)

	tail, err := s.Edit(ctx, series.ID, jan(15, 9), Patch{Start: ptr(jan(15, 10)), End: ptr(jan(15, 11))}, ScopeFollowing)
	require.NoError(t, err)
	require.NotNil(t, tail.Recurrence)
	assert.Equal(t, model.EndAfterCount, tail.Recurrence.EndCondition)
	assert.Equal(t, 3, tail.Recurrence.OccurrenceCount)
	assert.True(t, tail.Start.Equal(jan(15, 10)))
	assert.Equal(t, []int{15, 22, 29}, starts(t, tail))

	head, err := s.Get(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EndOnDate, head.Recurrence.EndCondition)
	assert.True(t, head.Recurrence.EndDate.Equal(jan(14, 9)))
	assert.Equal(t, []int{1, 8}, starts(t, head))
}

func TestEdit_FollowingPartitionsExceptions(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	series := weeklySeries(t, s)

	require.NoError(t, s.Remove(ctx, series.ID, jan(8, 9), ScopeThis))
	require.NoError(t, s.Remove(ctx, series.ID, jan(22, 9), ScopeThis))

	tail, err := s.Edit(ctx, series.ID, jan(15, 9), Patch{OwnerTag: ptr("Youssef")}, ScopeFollowing)
	require.NoError(t, err)
	require.Len(t, tail.ExceptionDates, 1)
	assert.Equal(t, 22, tail.ExceptionDates[0].Day())
	assert.Equal(t, []int{15, 29}, starts(t, tail))

	head, err := s.Get(ctx, series.ID)
	require.NoError(t, err)
	require.Len(t, head.ExceptionDates, 1)
	assert.Equal(t, 8, head.ExceptionDates[0].Day())
	assert.Equal(t, []int{1}, starts(t, head))
}

func TestEdit_AllShiftsSeries(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	series := weeklySeries(t, s)

	updated, err := s.Edit(ctx, series.ID, jan(15, 9), Patch{Start: ptr(jan(15, 8)), End: ptr(jan(15, 10))}, ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, series.ID, updated.ID)
	assert.True(t, updated.Start.Equal(jan(1, 8)))
	assert.Equal(t, 2*time.Hour, updated.Duration())
}

func TestEdit_FollowingAtFirstOccurrenceEditsWholeSeries(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	series := weeklySeries(t, s)

	updated, err := s.Edit(ctx, series.ID, jan(1, 9), Patch{Notes: ptr("bring goggles")}, ScopeFollowing)
	require.NoError(t, err)
	assert.Equal(t, series.ID, updated.ID)
	assert.Equal(t, "bring goggles", updated.Notes)
}

func TestEdit_UnknownOccurrence(t *testing.T) {
	s := newService(t)
	series := weeklySeries(t, s)

	_, err := s.Edit(context.Background(), series.ID, jan(9, 9), Patch{}, ScopeThis)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "occurrence")
}

func TestEdit_InvalidPatch(t *testing.T) {
	s := newService(t)
	series := weeklySeries(t, s)

	_, err := s.Edit(context.Background(), series.ID, time.Time{}, Patch{Title: ptr("")}, ScopeAll)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("following", func(t *testing.T) {
		s := newService(t)
		series := weeklySeries(t, s)
		require.NoError(t, s.Remove(ctx, series.ID, jan(22, 9), ScopeFollowing))
		head, err := s.Get(ctx, series.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 8, 15}, starts(t, head))
	})

	t.Run("all", func(t *testing.T) {
		s := newService(t)
		series := weeklySeries(t, s)
		require.NoError(t, s.Remove(ctx, series.ID, jan(22, 9), ScopeAll))
		_, err := s.Get(ctx, series.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("single event ignores scope", func(t *testing.T) {
		s := newService(t)
		ev, err := s.Create(ctx, model.BaseEvent{Title: "Vet", Type: "Appointment", OwnerTag: "Ahmed", Start: jan(3, 15), End: jan(3, 16)})
		require.NoError(t, err)
		require.NoError(t, s.Remove(ctx, ev.ID, time.Time{}, ScopeThis))
		_, err = s.Get(ctx, ev.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestWeek_MergesSourcesAndColors(t *testing.T) {
	ctx := context.Background()
	holidays := fakeSource{name: "school", events: []model.BaseEvent{{
		ID: "school-1", Title: "Parent evening", Type: "School", OwnerTag: "Selma",
		Start: jan(10, 18), End: jan(10, 20), Source: "school",
	}}}
	broken := fakeSource{name: "broken", err: errors.New("connection refused")}
	s := newService(t, holidays, broken)

	_, err := s.Create(ctx, model.BaseEvent{Title: "Homework club", Type: "School", OwnerTag: "Sofia", Start: jan(10, 17), End: jan(10, 19)})
	require.NoError(t, err)
	_, err = s.Create(ctx, model.BaseEvent{Title: "Next week", Type: "Work", OwnerTag: "Lisa", Start: jan(16, 9), End: jan(16, 10)})
	require.NoError(t, err)

	week, err := s.Week(ctx, jan(12, 0), projection.Filter{})
	require.NoError(t, err)
	assert.True(t, week.Start.Equal(jan(8, 0)))
	require.Len(t, week.Days, 7)
	require.Len(t, week.Entries, 2)

	for _, e := range week.Entries {
		assert.Equal(t, 2, e.ColumnCount, e.Title)
		assert.Equal(t, projection.ColorFor(nil, e.OwnerTag), e.Color)
	}
	assert.Equal(t, "Homework club", week.Entries[0].Title)
	assert.False(t, week.Entries[0].ReadOnly)
	assert.True(t, week.Entries[1].ReadOnly)

	filtered, err := s.Week(ctx, jan(12, 0), projection.Filter{OwnerTags: []string{"Selma"}})
	require.NoError(t, err)
	require.Len(t, filtered.Entries, 1)
	assert.Equal(t, "school-1", filtered.Entries[0].EventID)
}

func TestImport_SkipsInvalid(t *testing.T) {
	s := newService(t)
	n, err := s.Import(context.Background(), []model.BaseEvent{
		{Title: "Ok", Type: "Work", OwnerTag: "Lisa", Start: jan(2, 9), End: jan(2, 10)},
		{Title: "", Type: "Work", OwnerTag: "Lisa", Start: jan(2, 9), End: jan(2, 10)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	owners, err := s.Owners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisa"}, owners)
}

func newYorkService(t *testing.T) (*Service, *store.GitStore, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	st, err := store.NewMemory()
	require.NoError(t, err)
	return NewService(st, Options{Location: loc, WeekStart: time.Monday, VisibleDays: 7}), st, loc
}

type dayHour struct{ Day, Hour int }

func weekSlots(t *testing.T, s *Service, anchor time.Time) []dayHour {
	t.Helper()
	week, err := s.Week(context.Background(), anchor, projection.Filter{})
	require.NoError(t, err)
	var out []dayHour
	for _, e := range week.Entries {
		require.Equal(t, s.Options().Location, e.Start.Location())
		out = append(out, dayHour{e.Start.Day(), e.Start.Hour()})
	}
	return out
}

func TestWeek_ExceptionMatchesLocalDay(t *testing.T) {
	s, _, loc := newYorkService(t)
	ctx := context.Background()

	// 01:00Z is 20:00 the previous evening in New York.
	ev, err := s.Create(ctx, model.BaseEvent{
		Title: "Homework", Type: "School", OwnerTag: "Mia",
		Start: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency: model.FrequencyDaily, Interval: 1,
			EndCondition: model.EndAfterCount, OccurrenceCount: 5,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, loc, ev.Start.Location())

	// Jan 3 20:00 in New York.
	require.NoError(t, s.Remove(ctx, ev.ID, time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC), ScopeThis))

	anchor := time.Date(2024, 1, 3, 12, 0, 0, 0, loc)
	assert.Equal(t, []dayHour{{1, 20}, {2, 20}, {4, 20}, {5, 20}}, weekSlots(t, s, anchor))
}

func TestWeek_StoredOffsetsAreLocalized(t *testing.T) {
	s, st, loc := newYorkService(t)

	// Written in UTC, as older data or other clients may have.
	_, err := st.Create(context.Background(), model.BaseEvent{
		Title: "Homework", Type: "School", OwnerTag: "Mia",
		Start: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency: model.FrequencyDaily, Interval: 1,
			EndCondition: model.EndAfterCount, OccurrenceCount: 5,
		},
		ExceptionDates: []time.Time{time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	anchor := time.Date(2024, 1, 3, 12, 0, 0, 0, loc)
	assert.Equal(t, []dayHour{{1, 20}, {2, 20}, {4, 20}, {5, 20}}, weekSlots(t, s, anchor))
}

func TestWeek_ByWeekdayUsesCalendarZone(t *testing.T) {
	s, _, loc := newYorkService(t)
	ctx := context.Background()

	// Tuesday 21:00 in New York, already Wednesday in UTC.
	_, err := s.Create(ctx, model.BaseEvent{
		Title: "Choir", Type: "Activity", OwnerTag: "Leo",
		Start: time.Date(2024, 1, 3, 2, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 3, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency: model.FrequencyWeekly, Interval: 1,
			ByWeekday:    []time.Weekday{time.Tuesday, time.Thursday},
			EndCondition: model.EndAfterCount, OccurrenceCount: 4,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []dayHour{{2, 21}, {4, 21}}, weekSlots(t, s, time.Date(2024, 1, 3, 12, 0, 0, 0, loc)))
	assert.Equal(t, []dayHour{{9, 21}, {11, 21}}, weekSlots(t, s, time.Date(2024, 1, 10, 12, 0, 0, 0, loc)))
}

func TestEdit_ThisOccurrenceAcrossZones(t *testing.T) {
	s, _, loc := newYorkService(t)
	ctx := context.Background()

	ev, err := s.Create(ctx, model.BaseEvent{
		Title: "Homework", Type: "School", OwnerTag: "Mia",
		Start: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency: model.FrequencyDaily, Interval: 1,
			EndCondition: model.EndAfterCount, OccurrenceCount: 3,
		},
	})
	require.NoError(t, err)

	// Move the Jan 2 20:00 occurrence one hour later.
	newStart := time.Date(2024, 1, 2, 21, 0, 0, 0, loc)
	_, err = s.Edit(ctx, ev.ID, time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC), Patch{Start: &newStart}, ScopeThis)
	require.NoError(t, err)

	anchor := time.Date(2024, 1, 3, 12, 0, 0, 0, loc)
	assert.Equal(t, []dayHour{{1, 20}, {2, 21}, {3, 20}}, weekSlots(t, s, anchor))
}

type failingUpdateStore struct {
	*store.GitStore
}

func (failingUpdateStore) Update(context.Context, model.BaseEvent) (model.BaseEvent, error) {
	return model.BaseEvent{}, errors.New("disk full")
}

func TestEdit_FailedSeriesWriteKeepsOccurrence(t *testing.T) {
	gs, err := store.NewMemory()
	require.NoError(t, err)
	s := NewService(failingUpdateStore{gs}, Options{Location: time.UTC, WeekStart: time.Monday})
	ctx := context.Background()
	series := weeklySeries(t, s)

	for _, scope := range []Scope{ScopeThis, ScopeFollowing} {
		t.Run(string(scope), func(t *testing.T) {
			_, err := s.Edit(ctx, series.ID, jan(8, 9), Patch{Title: ptr("Moved")}, scope)
			require.ErrorContains(t, err, "disk full")

			all, err := s.List(ctx, store.Query{})
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, series.ID, all[0].ID)
			assert.Equal(t, []int{1, 8, 15, 22, 29}, starts(t, all[0]))
		})
	}
}
