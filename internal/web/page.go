package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"familycal/internal/calendar"
	appLog "familycal/internal/log"
	"familycal/internal/timeutil"
)

// pxPerHour is the vertical scale of the week grid.
const pxPerHour = 48.0

//go:embed templates/week.html
var templatesFS embed.FS

var weekTemplate = template.Must(template.ParseFS(templatesFS, "templates/week.html"))

type weekPage struct {
	Title      string
	Prev, Next string
	GridHeight float64
	Hours      []hourLine
	Days       []dayColumn
}

type hourLine struct {
	Top   float64
	Label string
}

type dayColumn struct {
	Label   string
	Today   bool
	Entries []entryBox
}

type entryBox struct {
	Title, Owner, Time       string
	Top, Height, Left, Width float64
	Color, Background        string
	ReadOnly                 bool
}

// handleWeekPage renders the week as a static HTML grid. It takes the same
// query parameters as /api/week and is what the preview capture loads.
func (s *Server) handleWeekPage(w http.ResponseWriter, r *http.Request) {
	week, err := s.week(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	page := s.buildPage(week)
	var buf bytes.Buffer
	if err := weekTemplate.Execute(&buf, page); err != nil {
		appLog.Error("render week page failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) buildPage(week calendar.Week) weekPage {
	startHour, endHour := s.cfg.DayStartHour, s.cfg.DayEndHour
	gridHeight := float64(endHour-startHour) * pxPerHour

	page := weekPage{
		Title:      fmt.Sprintf("Week of %s", week.Start.Format("Jan 2, 2006")),
		Prev:       week.Start.AddDate(0, 0, -7).Format("2006-01-02"),
		Next:       week.Start.AddDate(0, 0, 7).Format("2006-01-02"),
		GridHeight: gridHeight,
	}
	for h := startHour; h < endHour; h++ {
		page.Hours = append(page.Hours, hourLine{
			Top:   float64(h-startHour) * pxPerHour,
			Label: timeutil.MinutesToClock(h * 60),
		})
	}

	today := timeutil.DayKey(s.now().In(s.svc.Options().Location))
	index := make(map[timeutil.Day]int, len(week.Days))
	for i, d := range week.Days {
		key := timeutil.DayKey(d)
		index[key] = i
		page.Days = append(page.Days, dayColumn{
			Label: d.Format("Mon Jan 2"),
			Today: key == today,
		})
	}

	for _, e := range week.Entries {
		i, ok := index[timeutil.DayKey(e.Start)]
		if !ok {
			continue
		}
		top, height := timeutil.SlotPosition(e.Start, e.End, startHour, pxPerHour)
		// Clip to the visible grid.
		bottom := min(top+height, gridHeight)
		top = max(top, 0)
		if bottom <= top {
			continue
		}
		width := 100.0 / float64(e.ColumnCount)
		page.Days[i].Entries = append(page.Days[i].Entries, entryBox{
			Title:      e.Title,
			Owner:      e.OwnerTag,
			Time:       timeutil.FormatClock(e.Start) + " - " + timeutil.FormatClock(e.End),
			Top:        top,
			Height:     bottom - top,
			Left:       float64(e.Column) * width,
			Width:      width,
			Color:      e.Color.Main,
			Background: e.Color.Light,
			ReadOnly:   e.ReadOnly,
		})
	}
	return page
}
