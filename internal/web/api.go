package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"familycal/internal/calendar"
	appLog "familycal/internal/log"
	"familycal/internal/model"
	"familycal/internal/projection"
	"familycal/internal/recurrence"
	"familycal/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// eventRequest is the POST /api/events body. The recurrence may be given as
// a structured rule or as an RRULE string.
type eventRequest struct {
	model.BaseEvent
	RRule string `json:"rrule,omitempty"`
}

// handleWeek returns the positioned occurrences of one week.
//
// GET /api/week?date=2024-01-10&owner=Mia,Leo&type=Sport&q=swim
//   - date:  any day of the wanted week (default today)
//   - owner: owner tags to keep (repeatable or comma-separated)
//   - type:  event types to keep
//   - q:     case-insensitive search over title, owner and notes
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	week, err := s.week(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

func (s *Server) week(r *http.Request) (calendar.Week, error) {
	q := r.URL.Query()
	loc := s.svc.Options().Location

	anchor := s.now().In(loc)
	if v := q.Get("date"); v != "" {
		t, err := parseTimeParam(v, loc)
		if err != nil {
			return calendar.Week{}, err
		}
		anchor = t
	}
	filter := projection.Filter{
		OwnerTags: splitList(q["owner"]),
		Types:     splitList(q["type"]),
		Search:    q.Get("q"),
	}

	key := strings.Join([]string{
		anchor.Format("2006-01-02"),
		strings.Join(filter.OwnerTags, ","),
		strings.Join(filter.Types, ","),
		strings.ToLower(filter.Search),
	}, "|")
	if week, ok := s.cachedWeek(key); ok {
		return week, nil
	}

	week, err := s.svc.Week(r.Context(), anchor, filter)
	if err != nil {
		return calendar.Week{}, err
	}
	s.storeWeek(key, week)
	return week, nil
}

// handleListEvents lists stored base events.
//
// GET /api/events?owner=Mia&from=2024-01-01&to=2024-01-31
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.svc.Options().Location

	query := store.Query{OwnerTag: q.Get("owner")}
	for name, dst := range map[string]*time.Time{"from": &query.From, "to": &query.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := parseTimeParam(v, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", name, err))
			return
		}
		*dst = t
	}

	events, err := s.svc.List(r.Context(), query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []model.BaseEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev := req.BaseEvent
	if req.RRule != "" {
		rule, err := recurrence.ParseRRule(req.RRule, ev.Start.Location())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		ev.Recurrence = &rule
	}

	created, err := s.svc.Create(r.Context(), ev)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.InvalidateWeek()
	appLog.Info("event created", "id", created.ID, "owner", created.OwnerTag)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventView{BaseEvent: ev, Repeat: recurrence.Describe(ev.Recurrence)})
}

// eventView adds the human-readable recurrence summary.
type eventView struct {
	model.BaseEvent
	Repeat string `json:"repeat"`
}

// handleEditEvent applies a patch to one occurrence, the following ones or
// the whole series.
//
// PUT /api/events/{id}?scope=this|following|all&occurrence=2024-01-15T09:00:00Z
func (s *Server) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	scope, occ, ok := s.scopeParams(w, r)
	if !ok {
		return
	}
	var patch calendar.Patch
	if !decodeBody(w, r, &patch) {
		return
	}

	ev, err := s.svc.Edit(r.Context(), r.PathValue("id"), occ, patch, scope)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.InvalidateWeek()
	appLog.Info("event edited", "id", r.PathValue("id"), "scope", string(scope), "result_id", ev.ID)
	writeJSON(w, http.StatusOK, ev)
}

// DELETE /api/events/{id}?scope=this|following|all&occurrence=...
func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	scope, occ, ok := s.scopeParams(w, r)
	if !ok {
		return
	}
	if err := s.svc.Remove(r.Context(), r.PathValue("id"), occ, scope); err != nil {
		writeServiceError(w, err)
		return
	}
	s.InvalidateWeek()
	appLog.Info("event removed", "id", r.PathValue("id"), "scope", string(scope))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.svc.Owners(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if owners == nil {
		owners = []string{}
	}
	writeJSON(w, http.StatusOK, owners)
}

// GET /api/history?limit=20
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	changes, err := s.svc.History(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if changes == nil {
		changes = []store.Change{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) scopeParams(w http.ResponseWriter, r *http.Request) (calendar.Scope, time.Time, bool) {
	q := r.URL.Query()
	scope, err := calendar.ParseScope(q.Get("scope"))
	if err != nil {
		writeServiceError(w, err)
		return "", time.Time{}, false
	}
	var occ time.Time
	if v := q.Get("occurrence"); v != "" {
		occ, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "occurrence must be RFC 3339")
			return "", time.Time{}, false
		}
	}
	return scope, occ, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// parseTimeParam accepts RFC 3339, "2006-01-02T15:04" or a bare date, the
// latter two read in loc.
func parseTimeParam(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &calendar.ValidationError{Fields: map[string]string{"date": fmt.Sprintf("cannot parse %q", v)}}
}
