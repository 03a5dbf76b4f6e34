// Package layout places same-day occurrences into side-by-side columns so
// overlapping ones never collide.
package layout

import (
	"cmp"
	"slices"
	"time"

	"familycal/internal/model"
	"familycal/internal/timeutil"
)

// span is one of the disjoint active intervals of a day, with the columns
// occupied anywhere inside it.
type span struct {
	start, end time.Time
	cols       []bool
}

func (s span) has(col int) bool {
	return col < len(s.cols) && s.cols[col]
}

func (s span) with(col int) span {
	cols := make([]bool, max(len(s.cols), col+1))
	copy(cols, s.cols)
	cols[col] = true
	return span{start: s.start, end: s.end, cols: cols}
}

// Day assigns Column and ColumnCount to the occurrences of one day.
//
// Occurrences are processed by start time, shorter first on ties (then by
// event id and title so the result does not depend on input order). Each
// takes the smallest column not occupied in any active interval it overlaps;
// the active intervals are split at its boundaries so occupancy is tracked
// for exactly the covered sub-ranges. ColumnCount is the highest column+1
// within each cluster of transitively overlapping occurrences.
//
// The result is sorted in processing order. Day never fails; zero-length
// occurrences overlap nothing and take column 0 unless they fall strictly
// inside an occupied span.
func Day(occurrences []model.Occurrence) []model.PositionedOccurrence {
	out := make([]model.PositionedOccurrence, len(occurrences))
	for i, o := range occurrences {
		out[i] = model.PositionedOccurrence{Occurrence: o}
	}
	slices.SortStableFunc(out, compare)

	var spans []span
	for i := range out {
		start, end := out[i].Start, out[i].End
		col := freeColumn(spans, start, end)
		out[i].Column = col
		if start.Before(end) {
			spans = occupy(spans, start, end, col)
		}
	}

	assignColumnCounts(out)
	return out
}

func compare(a, b model.PositionedOccurrence) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := cmp.Compare(a.End.Sub(a.Start), b.End.Sub(b.Start)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.EventID, b.EventID); c != 0 {
		return c
	}
	return cmp.Compare(a.Title, b.Title)
}

func freeColumn(spans []span, start, end time.Time) int {
	for col := 0; ; col++ {
		taken := false
		for _, s := range spans {
			if timeutil.RangesOverlap(start, end, s.start, s.end) && s.has(col) {
				taken = true
				break
			}
		}
		if !taken {
			return col
		}
	}
}

// occupy marks col as used over [start, end), splitting spans where the range
// begins or ends inside them and filling uncovered gaps with new spans. spans
// is kept sorted and disjoint.
func occupy(spans []span, start, end time.Time, col int) []span {
	out := make([]span, 0, len(spans)+3)
	// cursor is the first instant of [start, end) not yet covered by out.
	cursor := start

	for _, s := range spans {
		if !timeutil.RangesOverlap(start, end, s.start, s.end) {
			if !s.start.Before(end) && cursor.Before(end) {
				out = append(out, newSpan(cursor, end, col))
				cursor = end
			}
			out = append(out, s)
			continue
		}

		if cursor.Before(s.start) {
			out = append(out, newSpan(cursor, s.start, col))
		}
		if s.start.Before(start) {
			out = append(out, span{start: s.start, end: start, cols: s.cols})
		}
		lo, hi := latest(s.start, start), earliest(s.end, end)
		out = append(out, span{start: lo, end: hi, cols: s.cols}.with(col))
		if end.Before(s.end) {
			out = append(out, span{start: end, end: s.end, cols: s.cols})
		}
		cursor = hi
	}
	if cursor.Before(end) {
		out = append(out, newSpan(cursor, end, col))
	}
	return out
}

func newSpan(start, end time.Time, col int) span {
	return span{start: start, end: end}.with(col)
}

// assignColumnCounts gives every member of an overlap cluster the cluster's
// column count.
func assignColumnCounts(out []model.PositionedOccurrence) {
	parent := make([]int, len(out))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if timeutil.RangesOverlap(out[i].Start, out[i].End, out[j].Start, out[j].End) {
				parent[find(j)] = find(i)
			}
		}
	}

	width := make(map[int]int, len(out))
	for i := range out {
		root := find(i)
		width[root] = max(width[root], out[i].Column+1)
	}
	for i := range out {
		out[i].ColumnCount = width[find(i)]
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
