package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"playtestbot/internal/announce"
	"playtestbot/internal/config"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
	"playtestbot/internal/submission"
)

var (
	// ErrNoResponseChannel means the snapshot has no response channel.
	ErrNoResponseChannel = errors.New("no response channel configured")
	// ErrNoVoiceTemplate means the snapshot has no voice template.
	ErrNoVoiceTemplate = errors.New("no voice template configured")
)

// OngoingHook runs once per occurrence while an event is ongoing.
type OngoingHook func(ctx context.Context, snap *config.Snapshot, ev model.Event) error

// Actions are the transition actions and the submission collection step.
// They are safe to call from command handlers as well as the scheduler:
// Start, Cleanup and End hold resMu while they touch resources, so creation
// and removal never interleave.
type Actions struct {
	resMu sync.Mutex

	platform Platform
	composer *announce.Composer
	th       recurrence.Thresholds
	now      func() time.Time
	imageURL string
	ongoing  OngoingHook
}

// ActionsOption customizes Actions.
type ActionsOption func(*Actions)

// WithActionsClock overrides the time source.
func WithActionsClock(now func() time.Time) ActionsOption {
	return func(a *Actions) { a.now = now }
}

// WithImage attaches imageURL to weekly announcements.
func WithImage(imageURL string) ActionsOption {
	return func(a *Actions) { a.imageURL = imageURL }
}

// WithOngoingHook sets the Ongoing transition behavior.
func WithOngoingHook(h OngoingHook) ActionsOption {
	return func(a *Actions) { a.ongoing = h }
}

func NewActions(p Platform, composer *announce.Composer, th recurrence.Thresholds, opts ...ActionsOption) *Actions {
	a := &Actions{
		platform: p,
		composer: composer,
		th:       th,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CollectGames returns the submissions for the event's current occurrence,
// in the chronological order of their messages.
func (a *Actions) CollectGames(ctx context.Context, snap *config.Snapshot, ev model.Event) ([]model.Game, error) {
	return a.collect(ctx, snap, ev, a.th.WindowStart(ev, a.now()))
}

func (a *Actions) collect(ctx context.Context, snap *config.Snapshot, ev model.Event, after time.Time) ([]model.Game, error) {
	type stamped struct {
		at   time.Time
		game model.Game
	}
	var found []stamped

	for msg, err := range a.platform.History(ctx, ev.Channel, after) {
		if err != nil {
			return nil, fmt.Errorf("reading history for %s: %w", ev.Name, err)
		}
		g, ok := submission.Parse(msg.Content, msg.Author)
		if !ok {
			continue
		}
		found = append(found, stamped{at: msg.Timestamp, game: submission.Tag(g, msg.Reactions, snap.Markers)})
	}

	slices.SortStableFunc(found, func(x, y stamped) int { return x.at.Compare(y.at) })

	games := make([]model.Game, 0, len(found))
	for _, s := range found {
		games = append(games, s.game)
	}
	appLog.Debug("collected games", "event", ev.Name, "after", after, "count", len(games))
	return games, nil
}

// Start creates one resource per approved game and posts the roster.
// Labels that already have a live resource are not created again, so a
// repeated Start does not duplicate resources.
func (a *Actions) Start(ctx context.Context, snap *config.Snapshot, ev model.Event) error {
	a.resMu.Lock()
	defer a.resMu.Unlock()

	if snap.ResponseChannel == "" {
		return ErrNoResponseChannel
	}
	if snap.VoiceTemplate == "" {
		return ErrNoVoiceTemplate
	}

	games, err := a.CollectGames(ctx, snap, ev)
	if err != nil {
		return err
	}

	live, err := a.platform.Resources(ctx)
	if err != nil {
		return fmt.Errorf("listing resources: %w", err)
	}
	existing := make(map[string]struct{}, len(live))
	for _, r := range live {
		existing[r.Label] = struct{}{}
	}

	created := 0
	for _, g := range games {
		if !g.Approved {
			continue
		}
		label := g.Label()
		if _, ok := existing[label]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.platform.CreateResource(ctx, snap.VoiceTemplate, label); err != nil {
			return fmt.Errorf("creating %q: %w", label, err)
		}
		existing[label] = struct{}{}
		created++
	}
	appLog.Info("start: resources created", "event", ev.Name, "created", created, "games", len(games))

	if err := a.platform.Notify(ctx, snap.ResponseChannel, Notification{Text: announce.StartRoster(ev, games)}); err != nil {
		return fmt.Errorf("posting roster: %w", err)
	}
	if err := a.platform.Notify(ctx, ev.Channel, Notification{Text: announce.Started(ev, snap.VoiceTemplate)}); err != nil {
		return fmt.Errorf("posting start notice: %w", err)
	}
	return nil
}

// Ongoing runs the configured hook; without one it does nothing.
func (a *Actions) Ongoing(ctx context.Context, snap *config.Snapshot, ev model.Event) error {
	if a.ongoing == nil {
		return nil
	}
	return a.ongoing(ctx, snap, ev)
}

// End destroys the resources of approved games, reports how many could not
// be cleaned up and posts next week's announcement. A partial cleanup is
// reported, not returned as an error.
func (a *Actions) End(ctx context.Context, snap *config.Snapshot, ev model.Event) error {
	return a.EndOccurrence(ctx, snap, ev, a.th.Next(ev, a.now(), 0))
}

// EndOccurrence is End for the given occurrence, which may already be past
// its grace window.
func (a *Actions) EndOccurrence(ctx context.Context, snap *config.Snapshot, ev model.Event, occ time.Time) error {
	if snap.ResponseChannel == "" {
		return ErrNoResponseChannel
	}

	a.resMu.Lock()
	failed, err := a.cleanup(ctx, snap, ev, a.th.WindowFor(occ))
	a.resMu.Unlock()
	if err != nil {
		return err
	}

	if err := a.platform.Notify(ctx, snap.ResponseChannel, Notification{Text: announce.Cleanup(ev, failed)}); err != nil {
		return fmt.Errorf("posting cleanup notice: %w", err)
	}

	return a.Announce(ctx, ev, ev.Channel)
}

// Cleanup destroys the live resources of approved games and returns the
// number of approved games whose resource could not be found or destroyed.
func (a *Actions) Cleanup(ctx context.Context, snap *config.Snapshot, ev model.Event) (int, error) {
	a.resMu.Lock()
	defer a.resMu.Unlock()
	return a.cleanup(ctx, snap, ev, a.th.WindowStart(ev, a.now()))
}

func (a *Actions) cleanup(ctx context.Context, snap *config.Snapshot, ev model.Event, after time.Time) (int, error) {
	games, err := a.collect(ctx, snap, ev, after)
	if err != nil {
		return 0, err
	}

	var pending []string
	for _, g := range games {
		if g.Approved {
			pending = append(pending, g.Label())
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	live, err := a.platform.Resources(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing resources: %w", err)
	}

	failed := 0
	for _, r := range live {
		i := slices.Index(pending, r.Label)
		if i < 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		pending = slices.Delete(pending, i, i+1)
		if err := a.platform.DestroyResource(ctx, r.ID); err != nil {
			appLog.Error("end: destroy resource failed", err, "event", ev.Name, "label", r.Label)
			failed++
		}
	}
	failed += len(pending)

	appLog.Info("end: cleanup finished", "event", ev.Name, "failed", failed)
	return failed, nil
}

// Announce posts the weekly announcement for ev to channel.
func (a *Actions) Announce(ctx context.Context, ev model.Event, channel model.ChannelRef) error {
	text, err := a.composer.Announcement(ev, a.now())
	if err != nil {
		return err
	}
	if err := a.platform.Notify(ctx, channel, Notification{Text: text, ImageURL: a.imageURL}); err != nil {
		return fmt.Errorf("posting announcement: %w", err)
	}
	return nil
}
