package projection

import (
	"hash/fnv"
	"slices"
	"strings"

	"familycal/internal/model"
)

// Filter narrows the events shown in a view. Zero value matches everything.
type Filter struct {
	OwnerTags []string
	Types     []string
	// Search matches title, owner and notes case-insensitively.
	Search string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev model.BaseEvent) bool {
	if len(f.OwnerTags) > 0 && !containsFold(f.OwnerTags, ev.OwnerTag) {
		return false
	}
	if len(f.Types) > 0 && !containsFold(f.Types, ev.Type) {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" {
		return true
	}
	for _, field := range []string{ev.Title, ev.OwnerTag, ev.Notes} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Apply returns the events that pass the filter, in input order.
func (f Filter) Apply(events []model.BaseEvent) []model.BaseEvent {
	out := make([]model.BaseEvent, 0, len(events))
	for _, ev := range events {
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(strings.TrimSpace(s), v) })
}

// Color is a palette entry: Main for owners' own events, Light for events
// shown on someone's behalf.
type Color struct {
	Main  string `json:"main" yaml:"main"`
	Light string `json:"light" yaml:"light"`
}

// DefaultPalette is used when the configuration does not define one.
var DefaultPalette = []Color{
	{Main: "#2563eb", Light: "#dbeafe"},
	{Main: "#d946ef", Light: "#f5d0fe"},
	{Main: "#f97316", Light: "#ffedd5"},
	{Main: "#10b981", Light: "#d1fae5"},
	{Main: "#8b5cf6", Light: "#ede9fe"},
	{Main: "#f43f5e", Light: "#fee2e2"},
	{Main: "#0ea5e9", Light: "#e0f2fe"},
	{Main: "#84cc16", Light: "#ecfccb"},
	{Main: "#eab308", Light: "#fef9c3"},
	{Main: "#14b8a6", Light: "#ccfbf1"},
}

// ColorFor picks the palette entry for an owner tag. The choice depends only
// on the tag and the palette, so it is stable across runs.
func ColorFor(palette []Color, ownerTag string) Color {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(ownerTag))))
	return palette[h.Sum32()%uint32(len(palette))]
}
