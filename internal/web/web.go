package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"icsimport/internal/clock"
	"icsimport/internal/config"
	"icsimport/internal/ics"
	"icsimport/internal/importer"
	appLog "icsimport/internal/log"
	"icsimport/internal/model"
)

const eventsCacheTTL = 30 * time.Second

type (
	// Runner performs import runs and reports the last outcome.
	Runner interface {
		Run(ctx context.Context, opts importer.Options) (importer.Result, error)
		Status() importer.Status
		LeaseHeldUntil(ctx context.Context) (time.Time, error)
	}

	// EventLister reads local events.
	EventLister interface {
		Events(ctx context.Context, w model.Window) ([]model.LocalEvent, error)
		Event(ctx context.Context, id int64) (model.LocalEvent, error)
	}

	// Server exposes health, status, the imported events and a manual
	// refresh over HTTP.
	Server struct {
		cfg    *config.Config
		runner Runner
		events EventLister
		opts   importer.Options
		loc    *time.Location
		clock  clock.Clock
		router *mux.Router

		// Short-lived cache of /api/events responses, dropped after every
		// manual refresh.
		eventsMu    sync.RWMutex
		eventsCache map[eventsKey]eventsCache
	}
)

// NewServer constructs a new Server. opts are the run options used by
// POST /api/refresh.
func NewServer(cfg *config.Config, runner Runner, events EventLister, opts importer.Options, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", cfg.Timezone)
	}

	s := &Server{
		cfg:         cfg,
		runner:      runner,
		events:      events,
		opts:        opts,
		loc:         loc,
		clock:       clk,
		router:      mux.NewRouter(),
		eventsCache: make(map[eventsKey]eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// HTTPServer wraps Handler in an http.Server bound to cfg.Listen.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// A manual refresh runs the whole import inside the request.
		WriteTimeout: 5 * time.Minute,
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(accessLogMiddleware)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/{id:[0-9]+}", s.handleEvent).Methods(http.MethodGet)
	s.router.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	// An empty username or password disables auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="icsimport", charset="UTF-8"`)
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
// LeaseHeldUntil is when the next run may start; nil before the first.
type statusResponse struct {
	Feed           string          `json:"feed"`
	Timezone       string          `json:"timezone"`
	Refresh        string          `json:"refresh"`
	WindowBefore   int             `json:"window_before_days"`
	WindowAfter    int             `json:"window_after_days"`
	LeaseHeldUntil *time.Time      `json:"lease_held_until,omitempty"`
	Import         importer.Status `json:"import"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	feed := ""
	if s.opts.FeedURL != "" {
		feed = ics.RedactURL(s.opts.FeedURL)
	}

	var heldUntil *time.Time
	until, err := s.runner.LeaseHeldUntil(r.Context())
	if err != nil {
		appLog.Error("api status: lease lookup failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read lease")
		return
	}
	if !until.IsZero() {
		heldUntil = &until
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Feed:           feed,
		Timezone:       s.loc.String(),
		Refresh:        s.cfg.RefreshCron,
		WindowBefore:   s.opts.WindowBefore,
		WindowAfter:    s.opts.WindowAfter,
		LeaseHeldUntil: heldUntil,
		Import:         s.runner.Status(),
	})
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events          []eventDTO `json:"events"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	DisplayTimeZone string     `json:"display_timezone"`
}

// eventDTO is a JSON-friendly view of an imported event.
type eventDTO struct {
	ID         int64  `json:"id"`
	UID        string `json:"uid"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AllDay     bool   `json:"all_day"`
	Start      string `json:"start"`
	End        string `json:"end"`
	StartLocal string `json:"start_local"`
	EndLocal   string `json:"end_local"`
	LocationID *int64 `json:"location_id,omitempty"`
	Status     string `json:"status"`
}

func toEventDTO(ev model.LocalEvent) eventDTO {
	return eventDTO{
		ID:         ev.ID,
		UID:        ev.UID,
		Title:      ev.Title,
		Content:    ev.Content,
		AllDay:     ev.AllDay,
		Start:      ev.StartUTC,
		End:        ev.EndUTC,
		StartLocal: ev.StartLocal,
		EndLocal:   ev.EndLocal,
		LocationID: ev.LocationID,
		Status:     string(ev.Status),
	}
}

type eventsKey struct {
	days, backfill int
}

// eventsCache holds a cached /api/events response and its timestamp.
type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// handleEvents lists the published local events in a window around now.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	key := eventsKey{days: days, backfill: backfill}

	now := s.clock.Now()
	s.eventsMu.RLock()
	ec, ok := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ok && now.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	window := model.NewWindow(now.In(s.loc), backfill, days)
	events, err := s.events.Events(r.Context(), window)
	if err != nil {
		appLog.Error("api events: listing failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, toEventDTO(ev))
	}

	resp := eventsResponse{
		Events:          dtos,
		RangeStart:      window.Start,
		RangeEnd:        window.End,
		DisplayTimeZone: s.loc.String(),
	}

	s.eventsMu.Lock()
	s.eventsCache[key] = eventsCache{resp: resp, updatedAt: now}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleEvent returns one local event by id, trashed ones included.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ev, err := s.events.Event(r.Context(), id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
		return
	case err != nil:
		appLog.Error("api event: lookup failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to read event")
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

// handleRefresh runs an import now. The lease still applies: a refresh
// during the cooldown answers 409 without fetching.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(r.Context(), s.opts)
	if err != nil {
		appLog.Error("api refresh failed", err, "run_id", res.RunID)
		writeError(w, refreshStatus(err), err.Error())
		return
	}

	s.eventsMu.Lock()
	clear(s.eventsCache)
	s.eventsMu.Unlock()

	if res.Skipped {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func refreshStatus(err error) int {
	switch {
	case errors.Is(err, importer.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrFetchFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
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

// accessLogMiddleware logs every request with its status and duration.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		appLog.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", writer.code,
			"duration", time.Since(start).String(),
		)
	})
}

type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// recoveryLogger sends recovered panics to the application log.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	appLog.Error("http handler panic", fmt.Errorf("%s", fmt.Sprint(v...)))
}
