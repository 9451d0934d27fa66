package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"playtestbot/internal/announce"
	"playtestbot/internal/config"
	"playtestbot/internal/journal"
	"playtestbot/internal/lifecycle"
	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
	"playtestbot/internal/roster"
)

func newScheduler(t *testing.T, f *fixture, opts ...lifecycle.Option) *lifecycle.Scheduler {
	t.Helper()
	opts = append([]lifecycle.Option{lifecycle.WithClock(f.clock)}, opts...)
	s, err := lifecycle.NewScheduler(config.NewHolder(f.snap), f.actions, journal.NewMemory(), f.th, "@every 5m", opts...)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func tick(t *testing.T, s *lifecycle.Scheduler) []lifecycle.Transition {
	t.Helper()
	got, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return got
}

func describe(ts []lifecycle.Transition) []string {
	out := make([]string, 0, len(ts))
	for _, tr := range ts {
		out = append(out, tr.Event+"/"+tr.Phase.String())
	}
	return out
}

func assertTransitions(t *testing.T, got []lifecycle.Transition, want ...string) {
	t.Helper()
	d := describe(got)
	if fmt.Sprint(d) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", d, want)
	}
}

func TestTickServicesOneEventPerTick(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	f := newFixture(t, names...)
	s := newScheduler(t, f)

	f.now = occurrence.Add(-10 * time.Minute)
	assertTransitions(t, tick(t, s))

	f.now = occurrence.Add(-3 * time.Minute)
	assertTransitions(t, tick(t, s), "A/starting")
	assertTransitions(t, tick(t, s), "B/starting")

	// The remaining events are started late, from Ongoing, one per tick.
	// Ongoing hooks of already started events run alongside.
	f.now = occurrence.Add(2 * time.Minute)
	ongoing := 0
	for _, name := range names[2:] {
		var starts []string
		for _, tr := range tick(t, s) {
			switch tr.Phase {
			case recurrence.Starting:
				starts = append(starts, tr.Event)
			case recurrence.Ongoing:
				ongoing++
			}
		}
		if len(starts) != 1 || starts[0] != name {
			t.Fatalf("started %v, want [%s]", starts, name)
		}
	}
	if ongoing != len(names)-1 {
		t.Fatalf("ongoing transitions = %d, want %d", ongoing, len(names)-1)
	}
	if got := len(f.platform.SentTo(response)); got != len(names) {
		t.Fatalf("roster posts = %d, want %d", got, len(names))
	}

	assertTransitions(t, tick(t, s), "J/ongoing")
	assertTransitions(t, tick(t, s))
}

func TestTickServiceAll(t *testing.T) {
	f := newFixture(t, "A", "B")
	s := newScheduler(t, f, lifecycle.WithServiceMode(config.ServiceAll))

	f.now = occurrence.Add(-3 * time.Minute)
	assertTransitions(t, tick(t, s), "A/starting", "B/starting")
	assertTransitions(t, tick(t, s))
}

func TestTickEndingBoundary(t *testing.T) {
	f := newFixture(t)
	hooks := 0
	f.actions = lifecycle.NewActions(f.platform, mustComposer(t, f.th), f.th,
		lifecycle.WithActionsClock(f.clock),
		lifecycle.WithOngoingHook(func(context.Context, *config.Snapshot, model.Event) error {
			hooks++
			return nil
		}))
	s := newScheduler(t, f)

	f.now = occurrence.Add(-time.Minute)
	assertTransitions(t, tick(t, s), "Playtest Night/starting")

	f.now = occurrence.Add(recurrence.DefaultEnding - time.Minute)
	assertTransitions(t, tick(t, s), "Playtest Night/ongoing")
	if hooks != 1 {
		t.Fatalf("ongoing hook ran %d times, want 1", hooks)
	}

	f.now = occurrence.Add(recurrence.DefaultEnding)
	assertTransitions(t, tick(t, s), "Playtest Night/ending")
	assertTransitions(t, tick(t, s))

	// Past the grace window the next occurrence is a week away.
	f.now = occurrence.Add(recurrence.DefaultGrace + time.Minute)
	assertTransitions(t, tick(t, s))
}

func TestTickEndsOccurrenceWhoseEndingWindowWasMissed(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, "Playtest Night")
	f.submit(ev, occurrence.Add(-48*time.Hour), "Foo", "TTS", approve)
	s := newScheduler(t, f)

	f.now = occurrence.Add(-time.Minute)
	assertTransitions(t, tick(t, s), "Playtest Night/starting")
	if got := f.platform.Labels(); len(got) != 1 {
		t.Fatalf("Labels() after start = %v", got)
	}

	// Consecutive ticks one poll interval plus a second apart, on both sides
	// of the five minute Ending window.
	f.now = occurrence.Add(recurrence.DefaultEnding - 500*time.Millisecond)
	assertTransitions(t, tick(t, s), "Playtest Night/ongoing")

	f.now = f.now.Add(5*time.Minute + time.Second)
	got := tick(t, s)
	assertTransitions(t, got, "Playtest Night/ending")
	if !got[0].Occurrence.Equal(occurrence) {
		t.Fatalf("ended occurrence = %v, want %v", got[0].Occurrence, occurrence)
	}
	if got := f.platform.Labels(); len(got) != 0 {
		t.Fatalf("resources left after catch-up end: %v", got)
	}
	if posts := f.platform.SentTo(response); len(posts) != 2 || posts[1] != "Cleaned up voice channels for Playtest Night" {
		t.Fatalf("response posts = %q", posts)
	}
	announcements := f.platform.SentTo(ev.Channel)
	if len(announcements) != 2 || !strings.Contains(announcements[1], "October 30") {
		t.Fatalf("event channel posts = %q", announcements)
	}

	for range 3 {
		f.now = f.now.Add(5 * time.Minute)
		assertTransitions(t, tick(t, s))
	}
}

func TestTickNoCatchUpEndWithoutStart(t *testing.T) {
	f := newFixture(t)
	s := newScheduler(t, f)

	// Never started, so there is nothing to end after the window passes.
	f.now = occurrence.Add(recurrence.DefaultGrace + time.Minute)
	assertTransitions(t, tick(t, s))
	if got := len(f.platform.Sent()); got != 0 {
		t.Fatalf("notifications = %d, want 0", got)
	}
}

func TestTickOngoingDoesNotBlockLaterEvents(t *testing.T) {
	f := newFixture(t, "A", "B")
	late, err := roster.NewEvent("friday", "B", "US/Eastern", "1910", "101", eventHost)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	f.snap.Roster = f.snap.Roster.With(late)
	s := newScheduler(t, f)

	f.now = occurrence.Add(-time.Minute)
	assertTransitions(t, tick(t, s), "A/starting")

	// A is ongoing and B still starts in the same tick.
	f.now = occurrence.Add(7 * time.Minute)
	assertTransitions(t, tick(t, s), "A/ongoing", "B/starting")
	assertTransitions(t, tick(t, s))
}

func TestTickErrorAbortsAndRetries(t *testing.T) {
	f := newFixture(t, "A", "B")
	s := newScheduler(t, f, lifecycle.WithServiceMode(config.ServiceAll))
	f.platform.NotifyErr = errors.New("rate limited")

	f.now = occurrence.Add(-3 * time.Minute)
	got, err := s.Tick(context.Background())
	if err == nil {
		t.Fatalf("Tick() succeeded with failing notifications")
	}
	if len(got) != 1 || got[0].Err == nil || got[0].Event != "A" {
		t.Fatalf("transitions = %+v", got)
	}

	// Nothing was journaled, so the next tick retries.
	f.platform.NotifyErr = nil
	assertTransitions(t, tick(t, s), "A/starting", "B/starting")
}

func TestReloadSwapsRoster(t *testing.T) {
	f := newFixture(t, "A")
	s := newScheduler(t, f)
	f.now = occurrence.Add(-3 * time.Minute)

	ev, err := roster.NewEvent("friday", "Late Addition", "US/Eastern", "19:00", "150", eventHost)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	next := *f.snap
	next.Roster = roster.New(ev)
	s.Reload(&next)

	assertTransitions(t, tick(t, s), "Late Addition/starting")
}

func TestRunContinuesAfterFailures(t *testing.T) {
	f := newFixture(t)
	panicked := false
	f.actions = lifecycle.NewActions(f.platform, mustComposer(t, f.th), f.th,
		lifecycle.WithActionsClock(f.clock),
		lifecycle.WithOngoingHook(func(context.Context, *config.Snapshot, model.Event) error {
			panicked = true
			panic("hook exploded")
		}))
	f.platform.NotifyErr = errors.New("offline")
	f.now = occurrence.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	wait := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		switch len(waits) {
		case 1:
			// First tick failed on notify; let the next one succeed.
			f.platform.NotifyErr = nil
		case 3:
			cancel()
			return ctx.Err()
		}
		return nil
	}
	s := newScheduler(t, f, lifecycle.WithWait(wait))

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if len(waits) != 3 {
		t.Fatalf("Run waited %d times, want 3", len(waits))
	}
	for _, d := range waits {
		if d != 5*time.Minute {
			t.Fatalf("wait = %v, want 5m", d)
		}
	}
	if !panicked {
		t.Fatalf("ongoing hook never ran")
	}
	if got := f.platform.SentTo(response); len(got) != 1 {
		t.Fatalf("roster posts = %d, want 1", len(got))
	}
}

func TestNewSchedulerRejectsBadPoll(t *testing.T) {
	f := newFixture(t)
	if _, err := lifecycle.NewScheduler(config.NewHolder(f.snap), f.actions, nil, f.th, "every now and then"); err == nil {
		t.Fatalf("NewScheduler() accepted a bad poll spec")
	}
}

func mustComposer(t *testing.T, th recurrence.Thresholds) *announce.Composer {
	t.Helper()
	c, err := announce.New(announce.Options{}, th)
	if err != nil {
		t.Fatalf("announce.New: %v", err)
	}
	return c
}
