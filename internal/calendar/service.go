// Package calendar is the application service behind the web UI and CLI:
// it validates edits, applies series scopes and projects the visible week.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "familycal/internal/log"
	"familycal/internal/model"
	"familycal/internal/projection"
	"familycal/internal/recurrence"
	"familycal/internal/store"
	"familycal/internal/timeutil"
)

// ErrReadOnly is returned when an edit targets a subscription event.
var ErrReadOnly = errors.New("calendar: event is read-only")

// Store persists base events. store.GitStore implements it.
type Store interface {
	Create(ctx context.Context, ev model.BaseEvent) (model.BaseEvent, error)
	Get(ctx context.Context, id string) (model.BaseEvent, error)
	Update(ctx context.Context, ev model.BaseEvent) (model.BaseEvent, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q store.Query) ([]model.BaseEvent, error)
}

// Source supplies read-only events, e.g. an ICS subscription.
type Source interface {
	Name() string
	Events(ctx context.Context) ([]model.BaseEvent, error)
}

// Scope selects which occurrences of a series an edit or removal touches.
type Scope string

const (
	ScopeThis      Scope = "this"
	ScopeFollowing Scope = "following"
	ScopeAll       Scope = "all"
)

// ParseScope maps a query value to a Scope. Empty means ScopeThis.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "this", "current":
		return ScopeThis, nil
	case "following", "thisandfollowing":
		return ScopeFollowing, nil
	case "all":
		return ScopeAll, nil
	default:
		return "", &ValidationError{Fields: map[string]string{"scope": fmt.Sprintf("unknown scope %q", s)}}
	}
}

// Patch holds the fields an edit changes. Nil fields are left alone.
//
// Start and End are the new times of the edited occurrence; for whole-series
// edits the base is shifted by the same offset.
type Patch struct {
	Title      *string               `json:"title,omitempty"`
	Type       *string               `json:"type,omitempty"`
	OwnerTag   *string               `json:"owner_tag,omitempty"`
	Notes      *string               `json:"notes,omitempty"`
	Start      *time.Time            `json:"start,omitempty"`
	End        *time.Time            `json:"end,omitempty"`
	Recurrence *model.RecurrenceRule `json:"recurrence,omitempty"`
}

// Options configure the week view.
type Options struct {
	Location    *time.Location
	WeekStart   time.Weekday
	VisibleDays int
	Palette     []projection.Color
}

// Service is safe for concurrent use if its Store and Sources are.
type Service struct {
	store   Store
	sources []Source
	opts    Options
}

// NewService wires a store, optional read-only sources and view options.
func NewService(st Store, opts Options, sources ...Source) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.VisibleDays <= 0 {
		opts.VisibleDays = 7
	}
	if len(opts.Palette) == 0 {
		opts.Palette = projection.DefaultPalette
	}
	return &Service{store: st, sources: sources, opts: opts}
}

// Create validates and stores a new event.
func (s *Service) Create(ctx context.Context, ev model.BaseEvent) (model.BaseEvent, error) {
	ev.ID = ""
	ev.Source = ""
	ev = s.localize(ev)
	normalizeRule(&ev)
	if err := Validate(ev); err != nil {
		return model.BaseEvent{}, err
	}
	return s.store.Create(ctx, ev)
}

// Get returns a stored event.
func (s *Service) Get(ctx context.Context, id string) (model.BaseEvent, error) {
	return s.store.Get(ctx, id)
}

// List returns stored events matching q.
func (s *Service) List(ctx context.Context, q store.Query) ([]model.BaseEvent, error) {
	return s.store.List(ctx, q)
}

// Edit applies patch to the occurrence of event id that starts at
// occurrenceStart. A zero occurrenceStart means the first occurrence.
// It returns the event that now holds the edited occurrence.
func (s *Service) Edit(ctx context.Context, id string, occurrenceStart time.Time, patch Patch, scope Scope) (model.BaseEvent, error) {
	base, occ, err := s.load(ctx, id, occurrenceStart)
	if err != nil {
		return model.BaseEvent{}, err
	}

	if !base.Recurrence.Repeats() || scope == ScopeAll || (scope == ScopeFollowing && occ.Equal(base.Start)) {
		next := base.Clone()
		applyPatch(&next, occ, patch)
		next = s.localize(next)
		normalizeRule(&next)
		if err := Validate(next); err != nil {
			return model.BaseEvent{}, err
		}
		return s.store.Update(ctx, next)
	}

	switch scope {
	case ScopeThis:
		detached := base.Clone()
		detached.ID = ""
		detached.Recurrence = nil
		detached.ExceptionDates = nil
		detached.Start, detached.End = occ, occ.Add(base.Duration())
		applyPatch(&detached, occ, patch)
		detached.Recurrence = nil
		detached = s.localize(detached)
		if err := Validate(detached); err != nil {
			return model.BaseEvent{}, err
		}

		// Detached copy before the exception; undone if the series update fails.
		created, err := s.store.Create(ctx, detached)
		if err != nil {
			return model.BaseEvent{}, err
		}
		head := base.Clone()
		head.ExceptionDates = recurrence.AddException(base, occ)
		if _, err := s.store.Update(ctx, head); err != nil {
			s.rollback(ctx, created.ID)
			return model.BaseEvent{}, err
		}
		return created, nil

	case ScopeFollowing:
		head, tail, err := splitAt(base, occ)
		if err != nil {
			return model.BaseEvent{}, err
		}
		applyPatch(&tail, occ, patch)
		tail = s.localize(tail)
		normalizeRule(&tail)
		if err := Validate(tail); err != nil {
			return model.BaseEvent{}, err
		}
		created, err := s.store.Create(ctx, tail)
		if err != nil {
			return model.BaseEvent{}, err
		}
		if _, err := s.store.Update(ctx, head); err != nil {
			s.rollback(ctx, created.ID)
			return model.BaseEvent{}, err
		}
		return created, nil
	}
	return model.BaseEvent{}, fmt.Errorf("unsupported scope %q", scope)
}

// Remove deletes the occurrence of event id that starts at occurrenceStart,
// together with the rest of its series as selected by scope.
func (s *Service) Remove(ctx context.Context, id string, occurrenceStart time.Time, scope Scope) error {
	base, occ, err := s.load(ctx, id, occurrenceStart)
	if err != nil {
		return err
	}

	if !base.Recurrence.Repeats() || scope == ScopeAll || (scope == ScopeFollowing && occ.Equal(base.Start)) {
		return s.store.Delete(ctx, id)
	}

	switch scope {
	case ScopeThis:
		next := base.Clone()
		next.ExceptionDates = recurrence.AddException(base, occ)
		_, err := s.store.Update(ctx, next)
		return err
	case ScopeFollowing:
		head, _, err := splitAt(base, occ)
		if err != nil {
			return err
		}
		_, err = s.store.Update(ctx, head)
		return err
	}
	return fmt.Errorf("unsupported scope %q", scope)
}

// Import stores events decoded from another calendar, skipping invalid ones.
// It returns the number stored.
func (s *Service) Import(ctx context.Context, events []model.BaseEvent) (int, error) {
	n := 0
	for _, ev := range events {
		if _, err := s.Create(ctx, ev); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				appLog.Warn("import: skipping invalid event", "title", ev.Title, "error", ve.Error())
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// load fetches a writable event and resolves the targeted occurrence.
func (s *Service) load(ctx context.Context, id string, occurrenceStart time.Time) (model.BaseEvent, time.Time, error) {
	base, err := s.store.Get(ctx, id)
	if err != nil {
		return model.BaseEvent{}, time.Time{}, err
	}
	if base.ReadOnly() {
		return model.BaseEvent{}, time.Time{}, ErrReadOnly
	}
	base = s.localize(base)
	occurrenceStart = occurrenceStart.In(s.opts.Location)
	if occurrenceStart.IsZero() || !base.Recurrence.Repeats() {
		return base, base.Start, nil
	}

	occs, err := recurrence.Expand(base, occurrenceStart, occurrenceStart)
	if err != nil {
		return model.BaseEvent{}, time.Time{}, err
	}
	if len(occs) == 0 || !occs[0].Start.Equal(occurrenceStart) {
		return model.BaseEvent{}, time.Time{}, &ValidationError{Fields: map[string]string{
			"occurrence": fmt.Sprintf("no occurrence of %s starts at %s", id, occurrenceStart.Format(time.RFC3339)),
		}}
	}
	return base, occs[0].Start, nil
}

// splitAt ends base before occ and builds the series that continues from
// occ. Exceptions are partitioned between the two by calendar day.
func splitAt(base model.BaseEvent, occ time.Time) (head, tail model.BaseEvent, err error) {
	headRule, err := recurrence.SplitSeries(base, occ)
	if err != nil {
		return model.BaseEvent{}, model.BaseEvent{}, err
	}
	tailRule, err := recurrence.ContinueSeries(base, occ)
	if err != nil {
		return model.BaseEvent{}, model.BaseEvent{}, err
	}

	split := timeutil.DayKey(occ)
	var before, after []time.Time
	for _, ex := range base.ExceptionDates {
		if timeutil.DayKey(ex).Before(split) {
			before = append(before, ex)
		} else {
			after = append(after, ex)
		}
	}

	head = base.Clone()
	head.Recurrence = &headRule
	head.ExceptionDates = before

	tail = base.Clone()
	tail.ID = ""
	tail.Start, tail.End = occ, occ.Add(base.Duration())
	tail.Recurrence = &tailRule
	tail.ExceptionDates = after
	return head, tail, nil
}

// applyPatch edits ev in place. occ is the start of the edited occurrence;
// a new start moves ev.Start by the same offset.
func applyPatch(ev *model.BaseEvent, occ time.Time, p Patch) {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Type != nil {
		ev.Type = *p.Type
	}
	if p.OwnerTag != nil {
		ev.OwnerTag = *p.OwnerTag
	}
	if p.Notes != nil {
		ev.Notes = *p.Notes
	}

	duration := ev.Duration()
	newStart, newEnd := occ, occ.Add(duration)
	if p.Start != nil {
		newStart = *p.Start
		newEnd = newStart.Add(duration)
	}
	if p.End != nil {
		newEnd = *p.End
	}
	ev.Start = ev.Start.Add(newStart.Sub(occ))
	ev.End = ev.Start.Add(newEnd.Sub(newStart))

	if p.Recurrence != nil {
		ev.Recurrence = p.Recurrence.Clone()
	}
}

// localize moves every instant of ev onto the calendar's zone. Recurrence
// steps, weekdays and exception days are all evaluated on that wall clock,
// and JSON round trips only keep a fixed offset.
func (s *Service) localize(ev model.BaseEvent) model.BaseEvent {
	loc := s.opts.Location
	out := ev.Clone()
	out.Start = out.Start.In(loc)
	out.End = out.End.In(loc)
	for i, ex := range out.ExceptionDates {
		out.ExceptionDates[i] = ex.In(loc)
	}
	if out.Recurrence != nil && out.Recurrence.EndDate != nil {
		end := out.Recurrence.EndDate.In(loc)
		out.Recurrence.EndDate = &end
	}
	return out
}

// rollback removes an event created earlier in a multi-step edit.
func (s *Service) rollback(ctx context.Context, id string) {
	if err := s.store.Delete(ctx, id); err != nil {
		appLog.Error("rollback failed", err, "id", id)
	}
}

// normalizeRule drops a rule that does not repeat.
func normalizeRule(ev *model.BaseEvent) {
	if ev.Recurrence != nil && !ev.Recurrence.Repeats() {
		ev.Recurrence = nil
	}
	if ev.Recurrence == nil {
		ev.ExceptionDates = nil
	}
}

// Entry is a positioned occurrence with its owner color.
type Entry struct {
	model.PositionedOccurrence
	Color    projection.Color `json:"color"`
	ReadOnly bool             `json:"read_only"`
}

// Week is the projection of one visible week.
type Week struct {
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
	Days    []time.Time `json:"days"`
	Entries []Entry     `json:"entries"`
}

// Week projects stored and subscribed events for the week containing anchor.
// A failing source is logged and left out.
func (s *Service) Week(ctx context.Context, anchor time.Time, filter projection.Filter) (Week, error) {
	anchor = anchor.In(s.opts.Location)
	start, end := projection.WeekWindow(anchor, s.opts.WeekStart, s.opts.VisibleDays)

	events, err := s.store.List(ctx, store.Query{From: start, To: end})
	if err != nil {
		return Week{}, fmt.Errorf("list events: %w", err)
	}
	for _, src := range s.sources {
		extra, err := src.Events(ctx)
		if err != nil {
			appLog.Warn("week: source unavailable", "source", src.Name(), "error", err.Error())
			continue
		}
		events = append(events, extra...)
	}

	events = filter.Apply(events)
	for i := range events {
		events[i] = s.localize(events[i])
	}

	positioned, err := projection.Project(events, start, end)
	if err != nil {
		return Week{}, err
	}

	w := Week{
		Start:   start,
		End:     end,
		Days:    timeutil.WeekDays(anchor, s.opts.WeekStart, s.opts.VisibleDays),
		Entries: make([]Entry, 0, len(positioned)),
	}
	for _, p := range positioned {
		w.Entries = append(w.Entries, Entry{
			PositionedOccurrence: p,
			Color:                projection.ColorFor(s.opts.Palette, p.OwnerTag),
			ReadOnly:             p.Source != "",
		})
	}
	return w, nil
}

// Owners returns the distinct owner tags of stored events, sorted.
func (s *Service) Owners(ctx context.Context) ([]string, error) {
	events, err := s.store.List(ctx, store.Query{})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ev := range events {
		if !slices.Contains(out, ev.OwnerTag) {
			out = append(out, ev.OwnerTag)
		}
	}
	slices.Sort(out)
	return out, nil
}

// History returns recent store changes when the store keeps them.
func (s *Service) History(ctx context.Context, limit int) ([]store.Change, error) {
	h, ok := s.store.(interface {
		History(ctx context.Context, limit int) ([]store.Change, error)
	})
	if !ok {
		return nil, nil
	}
	return h.History(ctx, limit)
}

// Options returns the view options in effect.
func (s *Service) Options() Options {
	return s.opts
}
