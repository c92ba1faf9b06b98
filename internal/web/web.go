package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"calgrid/internal/bus"
	"calgrid/internal/calendar"
	"calgrid/internal/config"
	"calgrid/internal/ics"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/split"
	"calgrid/internal/store"
)

// Syncer runs an ICS import on demand.
type Syncer interface {
	Sync(ctx context.Context) (ics.SyncReport, error)
}

// Deps are the collaborators a Server drives.
type Deps struct {
	Store      *store.Store
	Bus        *bus.Bus
	Splitter   *split.Splitter
	IDs        split.IDProvider
	Builder    calendar.Builder
	Controller *calendar.Controller
	// Importer may be nil when no feeds are configured.
	Importer Syncer
	Metrics  *Metrics
	Location *time.Location
}

// Server exposes the calendar over HTTP.
type Server struct {
	cfg      *config.Config
	deps     Deps
	mux      *http.ServeMux
	validate *validator.Validate
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.IDs == nil {
		deps.IDs = split.UUIDProvider{}
	}
	if deps.Splitter == nil {
		deps.Splitter = split.New(deps.IDs)
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		mux:      http.NewServeMux(),
		validate: validator.New(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with metrics and optional basic auth.
func (s *Server) Handler() http.Handler {
	h := s.deps.Metrics.middleware(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="calgrid", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
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

func (s *Server) now() time.Time {
	if s.deps.Builder.Now != nil {
		return s.deps.Builder.Now()
	}
	return time.Now()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /api/view", s.handleGetView)
	s.mux.HandleFunc("POST /api/view", s.handleSetView)
	s.mux.HandleFunc("GET /api/layout", s.handleLayout)

	s.mux.HandleFunc("GET /calendar.ics", s.handleExport)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventRequest is the body of POST /api/events and PUT /api/events/{id}.
type eventRequest struct {
	ID        string `json:"id" validate:"omitempty,max=128"`
	Title     string `json:"title" validate:"required,max=200"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	AllDay    bool   `json:"allDay"`
	StartTime *int   `json:"startTime" validate:"required,gte=0,lt=1440"`
	EndTime   *int   `json:"endTime" validate:"required,gt=0,lte=1440"`
	Color     string `json:"color" validate:"omitempty,max=32"`
}

func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (model.Event, error) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.Event{}, &requestError{msg: "invalid JSON body: " + err.Error()}
	}
	if req.AllDay {
		start, end := 0, model.MinutesPerDay
		req.StartTime, req.EndTime = &start, &end
	}
	if req.EndDate == "" {
		req.EndDate = req.Date
	}
	if err := s.validate.Struct(req); err != nil {
		return model.Event{}, &requestError{msg: err.Error()}
	}

	ev := model.Event{
		ID:        req.ID,
		Title:     strings.TrimSpace(req.Title),
		StartTime: *req.StartTime,
		EndTime:   *req.EndTime,
		Color:     req.Color,
	}
	var err error
	if ev.Date, err = model.ParseDay(req.Date); err != nil {
		return model.Event{}, &requestError{msg: err.Error()}
	}
	if ev.EndDate, err = model.ParseDay(req.EndDate); err != nil {
		return model.Event{}, &requestError{msg: err.Error()}
	}
	return ev, nil
}

// GET /api/events[?date=YYYY-MM-DD | ?start=&end=]
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("date") != "":
		d, err := model.ParseDay(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Store.EventsByDate(d))
	case q.Get("start") != "" || q.Get("end") != "":
		start, end, err := split.ParseRange(q.Get("start"), q.Get("end"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Store.EventsBetween(start, end))
	default:
		writeJSON(w, http.StatusOK, s.deps.Store.All())
	}
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Store.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.decodeEvent(w, r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if ev.ID == "" {
		ev.ID = s.deps.IDs.NewID()
	}
	if err := s.deps.Bus.Publish(bus.EventCreated{Event: ev}); err != nil {
		writeFailure(w, err)
		return
	}
	appLog.Info("event created", "id", ev.ID, "date", ev.Date, "end_date", ev.EndDate)
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.decodeEvent(w, r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	id := r.PathValue("id")
	if ev.ID != "" && ev.ID != id {
		writeError(w, http.StatusBadRequest, "body id does not match path")
		return
	}
	ev.ID = id

	prev, err := s.deps.Store.Get(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ev.Source = prev.Source

	if err := s.deps.Bus.Publish(bus.EventEdited{Event: ev}); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type deleteResponse struct {
	Directives []split.Directive `json:"directives"`
}

// DELETE /api/events/{id}?scope=all|day|range&day=&start=&end=
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Store.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	q := r.URL.Query()
	scope, err := split.ParseScope(q.Get("scope"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	req := split.Request{Scope: scope}
	switch scope {
	case split.ScopeDay:
		if req.Day, err = model.ParseDay(q.Get("day")); err != nil {
			writeError(w, http.StatusBadRequest, "day: "+err.Error())
			return
		}
	case split.ScopeRange:
		if req.Start, req.End, err = split.ParseRange(q.Get("start"), q.Get("end")); err != nil {
			writeFailure(w, err)
			return
		}
	}

	directives, err := s.deps.Splitter.Plan(ev, req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := calendar.Dispatch(s.deps.Bus, directives); err != nil {
		writeFailure(w, err)
		return
	}
	for _, d := range directives {
		s.deps.Metrics.CountDirective(string(d.Kind))
	}
	appLog.Info("event delete applied", "id", ev.ID, "scope", scope, "directives", len(directives))
	if directives == nil {
		directives = []split.Directive{}
	}
	writeJSON(w, http.StatusOK, deleteResponse{Directives: directives})
}

// GET /api/view returns the controller's current view; with view and/or date
// it renders that selection without changing it.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("view") == "" && q.Get("date") == "" {
		writeJSON(w, http.StatusOK, s.deps.Controller.Current())
		return
	}

	view, date := s.deps.Controller.Selection()
	if v := q.Get("view"); v != "" {
		var ok bool
		if view, ok = bus.ParseView(v); !ok {
			writeError(w, http.StatusBadRequest, "unknown view "+v)
			return
		}
	}
	if d := q.Get("date"); d != "" {
		var err error
		if date, err = model.ParseDay(d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Builder.Build(view, date))
}

type viewRequest struct {
	View string `json:"view" validate:"omitempty,oneof=month week day"`
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// POST /api/view changes the selection through the bus.
func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var msgs []bus.Message
	if req.View != "" {
		msgs = append(msgs, bus.ViewChanged{View: bus.View(req.View)})
	}
	if req.Date != "" {
		msgs = append(msgs, bus.DateChanged{Date: model.MustParseDay(req.Date)})
	}
	for _, m := range msgs {
		if err := s.deps.Bus.Publish(m); err != nil {
			writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Controller.Current())
}

type layoutResponse struct {
	Day          model.Day     `json:"day"`
	AllDay       []model.Event `json:"allDay"`
	TotalColumns int           `json:"totalColumns"`
	Boxes        []layout.Box  `json:"boxes"`
}

// GET /api/layout?date= packs a single day.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	d := model.DayOf(s.now().In(s.deps.Location))
	if q := r.URL.Query().Get("date"); q != "" {
		var err error
		if d, err = model.ParseDay(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	dl := layout.Day(s.deps.Store.EventsByDate(d), d)
	s.deps.Metrics.ObserveLayout(dl.Timed.TotalColumns)
	writeJSON(w, http.StatusOK, layoutResponse{
		Day:          d,
		AllDay:       dl.AllDay,
		TotalColumns: dl.Timed.TotalColumns,
		Boxes:        dl.Timed.Boxes(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.deps.Store.All(), "calgrid", s.deps.Location, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Importer == nil {
		writeError(w, http.StatusServiceUnavailable, "no ICS sources configured")
		return
	}
	report, err := s.deps.Importer.Sync(r.Context())
	status := http.StatusOK
	if err != nil {
		// Partial failures still report what was imported.
		status = http.StatusBadGateway
	}
	writeJSON(w, status, report)
}

// requestError marks malformed client input.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, model.ErrMissingID),
		errors.Is(err, model.ErrEmptyTitle),
		errors.Is(err, model.ErrEndDateBeforeStart),
		errors.Is(err, model.ErrEndTimeNotAfterStart),
		errors.Is(err, model.ErrTimeOutOfRange),
		errors.Is(err, split.ErrInvalidRange),
		errors.Is(err, split.ErrUnknownScope),
		errors.Is(err, split.ErrDayOutsideEvent):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("request failed", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
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

// ListenAndServe serves h on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, listen string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
