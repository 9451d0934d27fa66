package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"playtestbot/internal/announce"
	"playtestbot/internal/config"
	"playtestbot/internal/lifecycle"
	"playtestbot/internal/lifecycle/lifecycletest"
	"playtestbot/internal/model"
	"playtestbot/internal/roster"
	"playtestbot/internal/submission"
)

var now = time.Date(2026, time.October, 21, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) (*Server, *lifecycletest.Platform) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth

	friday, err := roster.NewEvent("friday", "Playtest Night", "US/Eastern", "1900", "100", "200")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	tuesday, err := roster.NewEvent("tuesday", "Design Jam", "Europe/London", "1830", "101", "201")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	holder := config.NewHolder(&config.Snapshot{
		Roster:  roster.New(friday, tuesday),
		Markers: submission.Markers{Approve: "✅", OnDeck: "🔜"},
	})

	composer, err := announce.New(announce.Options{}, cfg.Thresholds)
	if err != nil {
		t.Fatalf("announce.New: %v", err)
	}
	p := &lifecycletest.Platform{}
	clock := func() time.Time { return now }
	actions := lifecycle.NewActions(p, composer, cfg.Thresholds, lifecycle.WithActionsClock(clock))
	return NewServer(cfg, holder, actions).WithClock(clock), p
}

func get(t *testing.T, s *Server, path string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := get(t, s, "/health", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("GET /health = %d %q", w.Code, w.Body.String())
	}
}

func TestEventsOrderedByNextOccurrence(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := get(t, s, "/api/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/events = %d: %s", w.Code, w.Body.String())
	}

	var resp eventsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %+v", resp.Events)
	}
	if resp.Events[0].Name != "Playtest Night" || resp.Events[1].Name != "Design Jam" {
		t.Fatalf("order = %s, %s", resp.Events[0].Name, resp.Events[1].Name)
	}
	want := time.Date(2026, time.October, 23, 23, 0, 0, 0, time.UTC)
	if !resp.Events[0].Next.Equal(want) || resp.Events[0].Phase != "upcoming" || resp.Events[0].Timezone != "US/Eastern" {
		t.Fatalf("events[0] = %+v", resp.Events[0])
	}
}

func TestGames(t *testing.T) {
	s, p := newTestServer(t, nil)
	p.Post("100", model.Message{
		Author:    "7",
		Content:   ":bullet_1: Foo :bullet_2: 2 :bullet_3: 1h :bullet_4: fun :bullet_5: TTS",
		Reactions: []string{"✅"},
		Timestamp: now.Add(-time.Hour),
	})

	w := get(t, s, "/api/events/playtest%20night/games", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET games = %d: %s", w.Code, w.Body.String())
	}
	var resp gamesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Event != "Playtest Night" || len(resp.Games) != 1 || resp.Games[0].Status != "approved" || resp.Games[0].Submitter != "7" {
		t.Fatalf("resp = %+v", resp)
	}

	// Served from cache: a new submission is not visible yet.
	p.Post("100", model.Message{
		Author:    "8",
		Content:   ":bullet_1: Bar :bullet_2: 2 :bullet_3: 1h :bullet_4: fun :bullet_5: TTS",
		Timestamp: now.Add(-time.Minute),
	})
	w = get(t, s, "/api/events/Playtest%20Night/games", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Games) != 1 {
		t.Fatalf("cached games = %d, want 1", len(resp.Games))
	}

	if w := get(t, s, "/api/events/nope/games", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown event = %d", w.Code)
	}
}

func TestCalendar(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := get(t, s, "/calendar.ics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /calendar.ics = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "SUMMARY:Playtest Night") || !strings.Contains(body, "SUMMARY:Design Jam") {
		t.Fatalf("calendar body:\n%s", body)
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, &config.BasicAuthConfig{Username: "admin", Password: "hunter2"})

	if w := get(t, s, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("/health with auth enabled = %d", w.Code)
	}
	w := get(t, s, "/api/events", nil)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("unauthenticated /api/events = %d", w.Code)
	}
	w = get(t, s, "/api/events", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", w.Code)
	}
	w = get(t, s, "/api/events", func(r *http.Request) { r.SetBasicAuth("admin", "hunter2") })
	if w.Code != http.StatusOK {
		t.Fatalf("good credentials = %d", w.Code)
	}
}
