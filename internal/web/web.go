package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"playtestbot/internal/config"
	"playtestbot/internal/ics"
	"playtestbot/internal/lifecycle"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
	"playtestbot/internal/roster"
)

const gamesCacheTTL = 30 * time.Second

// Server exposes the roster and the current submissions over HTTP.
type Server struct {
	cfg     *config.Config
	holder  *config.Holder
	actions *lifecycle.Actions
	now     func() time.Time
	router  chi.Router

	// /api/events/{name}/games reads chat history, so responses are cached
	// per event for a short time.
	gamesMu    sync.RWMutex
	gamesCache map[string]gamesCache
}

type gamesCache struct {
	resp      gamesResponse
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, holder *config.Holder, actions *lifecycle.Actions) *Server {
	s := &Server{
		cfg:        cfg,
		holder:     holder,
		actions:    actions,
		now:        time.Now,
		gamesCache: make(map[string]gamesCache),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.basicAuthEnabled() {
		r.Use(s.basicAuthMiddleware)
	}
	s.router = r
	s.registerRoutes()
	return s
}

// WithClock overrides the time source; it returns s.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}
	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	}()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/events", s.handleEvents)
	s.router.Get("/api/events/{name}/games", s.handleGames)
	s.router.Get("/calendar.ics", s.handleCalendar)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every route except /health.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="playtestbot", charset="UTF-8"`)
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

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			appLog.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the JSON view of one roster entry.
type eventDTO struct {
	Name     string    `json:"name"`
	Weekday  string    `json:"weekday"`
	Start    string    `json:"start"`
	Timezone string    `json:"timezone"`
	Channel  string    `json:"channel"`
	Host     string    `json:"host"`
	Next     time.Time `json:"next"`
	Phase    string    `json:"phase"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
	Now    time.Time  `json:"now"`
}

// handleEvents lists the roster ordered by next occurrence.
//
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.holder.Load()
	th := s.cfg.Thresholds
	now := s.now()

	resp := eventsResponse{Events: []eventDTO{}, Now: now.UTC()}
	for _, ev := range snap.Roster.SortedByNext(now, th) {
		phase, next := th.PhaseOf(ev, now)
		resp.Events = append(resp.Events, eventDTO{
			Name:     ev.Name,
			Weekday:  ev.Weekday.String(),
			Start:    ev.Start.String(),
			Timezone: ev.TimezoneName(),
			Channel:  string(ev.Channel),
			Host:     string(ev.Host),
			Next:     next,
			Phase:    phase.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// gameDTO is the JSON view of one submission.
type gameDTO struct {
	Name        string  `json:"name"`
	Players     string  `json:"players"`
	Length      string  `json:"length"`
	Description string  `json:"description"`
	Platform    string  `json:"platform"`
	Info        *string `json:"info,omitempty"`
	Submitter   string  `json:"submitter"`
	Status      string  `json:"status"`
}

type gamesResponse struct {
	Event       string    `json:"event"`
	Occurrence  time.Time `json:"occurrence"`
	Games       []gameDTO `json:"games"`
	CollectedAt time.Time `json:"collected_at"`
}

// handleGames returns the submissions for an event's current occurrence.
//
// GET /api/events/{name}/games
func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap := s.holder.Load()
	ev, err := snap.Roster.Find(name)
	if err != nil {
		if errors.Is(err, roster.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "unknown event "+name)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	key := strings.ToLower(ev.Name)
	now := s.now()
	s.gamesMu.RLock()
	gc, ok := s.gamesCache[key]
	s.gamesMu.RUnlock()
	if ok && now.Sub(gc.updatedAt) < gamesCacheTTL {
		writeJSON(w, http.StatusOK, gc.resp)
		return
	}

	games, err := s.actions.CollectGames(r.Context(), snap, ev)
	if err != nil {
		appLog.Error("api games: collect failed", err, "event", ev.Name)
		writeError(w, http.StatusBadGateway, "failed to read submissions")
		return
	}

	resp := gamesResponse{
		Event:       ev.Name,
		Occurrence:  s.cfg.Thresholds.Next(ev, now, 0),
		Games:       make([]gameDTO, 0, len(games)),
		CollectedAt: now.UTC(),
	}
	for _, g := range games {
		resp.Games = append(resp.Games, toGameDTO(g))
	}

	s.gamesMu.Lock()
	s.gamesCache[key] = gamesCache{resp: resp, updatedAt: now}
	s.gamesMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func toGameDTO(g model.Game) gameDTO {
	return gameDTO{
		Name:        g.Name,
		Players:     g.Players,
		Length:      g.Length,
		Description: g.Description,
		Platform:    g.Platform,
		Info:        g.Info,
		Submitter:   string(g.Submitter),
		Status:      g.Status(),
	}
}

// handleCalendar serves the roster as an iCalendar feed.
//
// GET /calendar.ics
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	snap := s.holder.Load()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	err := ics.WriteFeed(w, snap.Roster.All(), s.now(), ics.FeedOptions{
		Name:          "Playtest sessions",
		SessionLength: s.cfg.Announcement.SessionLength,
		Thresholds:    s.cfg.Thresholds,
	})
	if err != nil {
		appLog.Error("calendar feed failed", err)
	}
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
