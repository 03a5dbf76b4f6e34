package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"familycal/internal/calendar"
	"familycal/internal/config"
	appLog "familycal/internal/log"
	"familycal/internal/recurrence"
	"familycal/internal/store"
	"familycal/internal/timeutil"
)

// weekCacheTTL bounds how stale a cached /api/week answer may get when
// only subscriptions change underneath it.
const weekCacheTTL = 30 * time.Second

// Server provides the week page and the JSON API over a calendar.Service.
type Server struct {
	cfg *config.Config
	svc *calendar.Service
	mux *http.ServeMux

	// now is swapped in tests.
	now func() time.Time

	// Cached /api/week responses keyed by anchor day and filter. Any write
	// through the API drops the whole cache.
	weekMu    sync.RWMutex
	weekCache map[string]weekCacheEntry
}

type weekCacheEntry struct {
	week      calendar.Week
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *calendar.Service) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		mux:       http.NewServeMux(),
		now:       time.Now,
		weekCache: make(map[string]weekCacheEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// username or password counts as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="familycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server on cfg.Listen until ctx is canceled, then shuts
// it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleEditEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleRemoveEvent)
	s.mux.HandleFunc("GET /api/owners", s.handleOwners)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)

	s.mux.HandleFunc("GET /week", s.handleWeekPage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/week", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG of the week page.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.cfg.Preview.Path)
}

// InvalidateWeek drops cached week projections, e.g. after a subscription
// refresh.
func (s *Server) InvalidateWeek() {
	s.weekMu.Lock()
	clear(s.weekCache)
	s.weekMu.Unlock()
}

func (s *Server) cachedWeek(key string) (calendar.Week, bool) {
	s.weekMu.RLock()
	defer s.weekMu.RUnlock()
	e, ok := s.weekCache[key]
	if !ok || s.now().Sub(e.updatedAt) >= weekCacheTTL {
		return calendar.Week{}, false
	}
	return e.week, true
}

func (s *Server) storeWeek(key string, w calendar.Week) {
	s.weekMu.Lock()
	s.weekCache[key] = weekCacheEntry{week: w, updatedAt: s.now()}
	s.weekMu.Unlock()
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		ve  *calendar.ValidationError
		ire *recurrence.InvalidRuleError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": ve.Fields})
	case errors.As(err, &ire), errors.Is(err, timeutil.ErrMalformedTime):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, calendar.ErrReadOnly):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// splitList merges repeated and comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
