package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"playtestbot/internal/announce"
	"playtestbot/internal/config"
	"playtestbot/internal/lifecycle"
	"playtestbot/internal/lifecycle/lifecycletest"
	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
	"playtestbot/internal/roster"
	"playtestbot/internal/submission"
)

const (
	approve   = "✅"
	onDeck    = "🔜"
	response  = model.ChannelRef("900")
	voice     = model.ChannelRef("800")
	imageURL  = "https://example.com/banner.png"
	eventHost = model.UserRef("200")
)

// occurrence is the Friday 19:00 US/Eastern session used throughout.
var occurrence = time.Date(2026, time.October, 23, 23, 0, 0, 0, time.UTC)

type fixture struct {
	now      time.Time
	platform *lifecycletest.Platform
	snap     *config.Snapshot
	actions  *lifecycle.Actions
	th       recurrence.Thresholds
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	if len(names) == 0 {
		names = []string{"Playtest Night"}
	}

	var events []model.Event
	for i, name := range names {
		ev, err := roster.NewEvent("friday", name, "US/Eastern", "1900", model.ChannelRef(fmt.Sprintf("10%d", i)), eventHost)
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		events = append(events, ev)
	}

	th := recurrence.DefaultThresholds()
	composer, err := announce.New(announce.Options{DisplayZones: []string{"US/Eastern"}, PreviewOffset: 10 * time.Minute}, th)
	if err != nil {
		t.Fatalf("announce.New: %v", err)
	}

	f := &fixture{
		now:      occurrence.Add(-3 * time.Minute),
		platform: &lifecycletest.Platform{},
		th:       th,
		snap: &config.Snapshot{
			Roster:          roster.New(events...),
			Markers:         submission.Markers{Approve: approve, OnDeck: onDeck},
			ResponseChannel: response,
			VoiceTemplate:   voice,
		},
	}
	f.actions = lifecycle.NewActions(f.platform, composer, th,
		lifecycle.WithActionsClock(f.clock), lifecycle.WithImage(imageURL))
	return f
}

func (f *fixture) event(t *testing.T, name string) model.Event {
	t.Helper()
	ev, err := f.snap.Roster.Find(name)
	if err != nil {
		t.Fatalf("Find(%q): %v", name, err)
	}
	return ev
}

// submit posts a submission for ev at the given time.
func (f *fixture) submit(ev model.Event, at time.Time, name, platform string, reactions ...string) {
	f.platform.Post(ev.Channel, model.Message{
		Author:    "7",
		Content:   fmt.Sprintf(":bullet_1: %s :bullet_2: 2-4 :bullet_3: 1h :bullet_4: fun :bullet_5: %s", name, platform),
		Reactions: reactions,
		Timestamp: at,
	})
}

func TestCollectGames(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	monday := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

	f.submit(ev, monday.Add(2*time.Hour), "Second", "TTS", approve)
	f.submit(ev, monday, "First", "Screen", approve, onDeck)
	// Last week's session, before the submission window.
	f.submit(ev, occurrence.Add(-7*24*time.Hour), "Stale", "TTS", approve)
	f.platform.Post(ev.Channel, model.Message{Author: "8", Content: "looking forward to it", Timestamp: monday})

	games, err := f.actions.CollectGames(context.Background(), f.snap, ev)
	if err != nil {
		t.Fatalf("CollectGames: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("CollectGames() returned %d games, want 2: %+v", len(games), games)
	}
	if games[0].Name != "First" || !games[0].OnDeck || !games[0].Approved {
		t.Fatalf("games[0] = %+v", games[0])
	}
	if games[1].Name != "Second" || games[1].OnDeck {
		t.Fatalf("games[1] = %+v", games[1])
	}
}

func TestCollectGamesHistoryError(t *testing.T) {
	f := newFixture(t)
	f.platform.HistoryErr = errors.New("boom")
	if _, err := f.actions.CollectGames(context.Background(), f.snap, f.event(t, "Playtest Night")); err == nil {
		t.Fatalf("CollectGames() succeeded with a failing history")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	at := occurrence.Add(-48 * time.Hour)
	f.submit(ev, at, "Foo", "TTS", approve)
	f.submit(ev, at.Add(time.Minute), "Bar", "Tabletopia", approve)
	f.submit(ev, at.Add(2*time.Minute), "Pending", "TTS")
	f.platform.AddResource("Foo (TTS)")

	ctx := context.Background()
	if err := f.actions.Start(ctx, f.snap, ev); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.platform.Created(); got != 1 {
		t.Fatalf("Created() = %d, want 1", got)
	}
	if err := f.actions.Start(ctx, f.snap, ev); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := f.platform.Created(); got != 1 {
		t.Fatalf("Created() after repeat = %d, want 1", got)
	}

	labels := f.platform.Labels()
	slices.Sort(labels)
	if !slices.Equal(labels, []string{"Bar (Tabletopia)", "Foo (TTS)"}) {
		t.Fatalf("Labels() = %v", labels)
	}

	posts := f.platform.SentTo(response)
	if len(posts) != 2 || !strings.Contains(posts[0], "Foo (TTS by <@7>)") || strings.Contains(posts[0], "Pending") {
		t.Fatalf("response posts = %q", posts)
	}
	started := f.platform.SentTo(ev.Channel)
	if len(started) != 2 || started[0] != "Playtest Night has started! Please join <#800>" {
		t.Fatalf("event posts = %q", started)
	}
}

func TestStartSerializesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	f.submit(ev, occurrence.Add(-time.Hour), "Foo", "TTS", approve)
	f.submit(ev, occurrence.Add(-time.Hour), "Bar", "Tabletopia", approve)
	ctx := context.Background()

	// The first creation starts a competing Start and gives it time to race.
	second := make(chan error, 1)
	var once sync.Once
	f.platform.BeforeCreate = func(string) {
		once.Do(func() {
			go func() { second <- f.actions.Start(ctx, f.snap, ev) }()
			time.Sleep(50 * time.Millisecond)
		})
	}

	if err := f.actions.Start(ctx, f.snap, ev); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := f.platform.Created(); got != 2 {
		t.Fatalf("Created() = %d, want 2 (labels %v)", got, f.platform.Labels())
	}
}

func TestStartRequiresConfiguration(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")

	snap := *f.snap
	snap.ResponseChannel = ""
	if err := f.actions.Start(context.Background(), &snap, ev); !errors.Is(err, lifecycle.ErrNoResponseChannel) {
		t.Fatalf("Start() error = %v, want ErrNoResponseChannel", err)
	}
	snap = *f.snap
	snap.VoiceTemplate = ""
	if err := f.actions.Start(context.Background(), &snap, ev); !errors.Is(err, lifecycle.ErrNoVoiceTemplate) {
		t.Fatalf("Start() error = %v, want ErrNoVoiceTemplate", err)
	}
}

func TestStartCreateFailure(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	f.submit(ev, occurrence.Add(-time.Hour), "Foo", "TTS", approve)
	f.platform.CreateErr = errors.New("missing permissions")

	if err := f.actions.Start(context.Background(), f.snap, ev); err == nil {
		t.Fatalf("Start() succeeded with failing CreateResource")
	}
	if got := f.platform.SentTo(response); len(got) != 0 {
		t.Fatalf("roster posted after a failed start: %q", got)
	}
}

func TestEndReportsPartialCleanup(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	at := occurrence.Add(-48 * time.Hour)
	f.submit(ev, at, "Foo", "TTS", approve)
	f.submit(ev, at.Add(time.Minute), "Bar", "TTS", approve)
	f.submit(ev, at.Add(2*time.Minute), "Gone", "TTS", approve)
	f.platform.AddResource("Foo (TTS)")
	f.platform.AddResource("Bar (TTS)")
	f.platform.AddResource("Unrelated")
	f.platform.DestroyErr = map[string]error{"Bar (TTS)": errors.New("forbidden")}
	f.now = occurrence.Add(recurrence.DefaultEnding)

	if err := f.actions.End(context.Background(), f.snap, ev); err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := f.platform.Destroyed(); got != 1 {
		t.Fatalf("Destroyed() = %d, want 1", got)
	}

	posts := f.platform.SentTo(response)
	want := "Cleaned up voice channels for Playtest Night, but 2 channels could not be found or removed"
	if len(posts) != 1 || posts[0] != want {
		t.Fatalf("response posts = %q, want %q", posts, want)
	}

	var announcement *lifecycletest.Sent
	for _, s := range f.platform.Sent() {
		if s.Channel == ev.Channel {
			announcement = &s
		}
	}
	if announcement == nil {
		t.Fatalf("no announcement posted")
	}
	if !strings.Contains(announcement.Text, "October 30") || announcement.ImageURL != imageURL {
		t.Fatalf("announcement = %+v", announcement)
	}
}

func TestEndWithoutApprovedGames(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	f.platform.AddResource("Unrelated")
	f.now = occurrence.Add(recurrence.DefaultEnding)

	if err := f.actions.End(context.Background(), f.snap, ev); err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := f.platform.Labels(); len(got) != 1 {
		t.Fatalf("unrelated resource touched: %v", got)
	}
	if got := f.platform.SentTo(response); len(got) != 1 || got[0] != "Cleaned up voice channels for Playtest Night" {
		t.Fatalf("response posts = %q", got)
	}
}
