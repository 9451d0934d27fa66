package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"playtestbot/internal/config"
	"playtestbot/internal/journal"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
)

// DefaultPoll is the tick schedule used when none is configured.
const DefaultPoll = "@every 5m"

// journalRetention is how long completed transitions are remembered.
const journalRetention = 14 * 24 * time.Hour

// Transition is one action taken (or attempted) during a tick.
type Transition struct {
	Event      string
	Phase      recurrence.Phase
	Occurrence time.Time
	Err        error
}

// Scheduler drives the event lifecycle from a polling loop.
type Scheduler struct {
	holder   *config.Holder
	actions  *Actions
	journal  journal.Journal
	th       recurrence.Thresholds
	schedule cron.Schedule
	mode     string
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithServiceMode selects config.ServiceFirst or config.ServiceAll.
func WithServiceMode(mode string) Option {
	return func(s *Scheduler) { s.mode = mode }
}

// WithWait overrides how Run sleeps between ticks.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.wait = wait }
}

// NewScheduler builds a scheduler ticking on poll, a robfig/cron spec such
// as "@every 5m" or "*/5 * * * *".
func NewScheduler(holder *config.Holder, actions *Actions, j journal.Journal, th recurrence.Thresholds, poll string, opts ...Option) (*Scheduler, error) {
	if poll == "" {
		poll = DefaultPoll
	}
	sched, err := cron.ParseStandard(poll)
	if err != nil {
		return nil, fmt.Errorf("parsing poll schedule %q: %w", poll, err)
	}
	if j == nil {
		j = journal.NewMemory()
	}

	s := &Scheduler{
		holder:   holder,
		actions:  actions,
		journal:  j,
		th:       th,
		schedule: sched,
		mode:     config.ServiceFirst,
		now:      time.Now,
		wait:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reload publishes a new configuration. A tick in progress finishes with
// the snapshot it started with.
func (s *Scheduler) Reload(snap *config.Snapshot) {
	s.holder.Store(snap)
	appLog.Info("scheduler: configuration reloaded", "events", snap.Roster.Len())
}

// Run ticks until ctx is canceled. The next tick is scheduled only after the
// previous one has completed, so ticks never overlap. A failing tick is
// logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	appLog.Info("scheduler: running", "mode", s.mode)
	for {
		s.safeTick(ctx)
		if ctx.Err() != nil {
			appLog.Info("scheduler: stopped")
			return nil
		}

		now := s.now()
		next := s.schedule.Next(now)
		if err := s.wait(ctx, next.Sub(now)); err != nil {
			appLog.Info("scheduler: stopped")
			return nil
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("scheduler: tick panicked", fmt.Errorf("%v", r))
		}
	}()
	if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("scheduler: tick failed", err)
	}
}

// Tick evaluates the roster once, in roster order.
//
// For each event the phase of its current occurrence decides what is due:
// End at Ending (or later, for a started occurrence whose Ending window no
// tick saw), Start at Starting (or at Ongoing when Start never ran for the
// occurrence), and the Ongoing hook once per occurrence. Each completed
// transition is journaled so it runs at most once per occurrence. In
// ServiceFirst mode the tick stops after the first Start or End; the Ongoing
// hook does not end the tick. A failing transition aborts the tick.
func (s *Scheduler) Tick(ctx context.Context) ([]Transition, error) {
	snap := s.holder.Load()
	now := s.now()
	tickID := uuid.NewString()
	appLog.Debug("scheduler: tick", "tick", tickID, "events", snap.Roster.Len(), "now", now.UTC())

	var done []Transition
	for _, ev := range snap.Roster.All() {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		phase, occ := s.th.PhaseOf(ev, now)
		action, target, err := s.due(ctx, ev, phase, occ)
		if err != nil {
			return done, err
		}
		if action == recurrence.Upcoming {
			continue
		}

		appLog.Info("scheduler: transition", "tick", tickID, "event", ev.Name, "phase", phase, "action", action, "occurrence", target)
		t := Transition{Event: ev.Name, Phase: action, Occurrence: target}
		if err := s.run(ctx, snap, ev, action, target); err != nil {
			t.Err = err
			done = append(done, t)
			return done, fmt.Errorf("%s %s: %w", action, ev.Name, err)
		}
		if err := s.journal.Record(ctx, key(ev, target, action)); err != nil {
			return done, err
		}
		done = append(done, t)

		if action != recurrence.Ongoing && s.mode != config.ServiceAll {
			break
		}
	}

	if err := s.journal.Prune(ctx, now.Add(-journalRetention)); err != nil {
		appLog.Error("scheduler: journal prune failed", err, "tick", tickID)
	}
	return done, nil
}

// due returns the transition owed for ev and the occurrence it belongs to,
// or Upcoming for none. A previous occurrence that was started but never
// ended, because no tick landed in its Ending window, is ended first.
func (s *Scheduler) due(ctx context.Context, ev model.Event, phase recurrence.Phase, occ time.Time) (recurrence.Phase, time.Time, error) {
	prev := recurrence.Previous(ev, occ)
	started, err := s.journal.Done(ctx, key(ev, prev, recurrence.Starting))
	if err != nil {
		return recurrence.Upcoming, occ, err
	}
	if started {
		owed, err := s.unless(ctx, ev, prev, recurrence.Ending)
		if err != nil || owed != recurrence.Upcoming {
			return owed, prev, err
		}
	}

	var p recurrence.Phase
	switch phase {
	case recurrence.Ending:
		p, err = s.unless(ctx, ev, occ, recurrence.Ending)
	case recurrence.Starting:
		p, err = s.unless(ctx, ev, occ, recurrence.Starting)
	case recurrence.Ongoing:
		started, err = s.journal.Done(ctx, key(ev, occ, recurrence.Starting))
		switch {
		case err != nil:
			p = recurrence.Upcoming
		case !started:
			p = recurrence.Starting
		default:
			p, err = s.unless(ctx, ev, occ, recurrence.Ongoing)
		}
	default:
		p = recurrence.Upcoming
	}
	return p, occ, err
}

// unless returns p if it has not been journaled for occ yet.
func (s *Scheduler) unless(ctx context.Context, ev model.Event, occ time.Time, p recurrence.Phase) (recurrence.Phase, error) {
	ok, err := s.journal.Done(ctx, key(ev, occ, p))
	if err != nil {
		return recurrence.Upcoming, err
	}
	if ok {
		return recurrence.Upcoming, nil
	}
	return p, nil
}

func (s *Scheduler) run(ctx context.Context, snap *config.Snapshot, ev model.Event, action recurrence.Phase, occ time.Time) error {
	switch action {
	case recurrence.Starting:
		return s.actions.Start(ctx, snap, ev)
	case recurrence.Ongoing:
		return s.actions.Ongoing(ctx, snap, ev)
	case recurrence.Ending:
		return s.actions.EndOccurrence(ctx, snap, ev, occ)
	default:
		return nil
	}
}

func key(ev model.Event, occ time.Time, p recurrence.Phase) journal.Key {
	return journal.Key{Event: ev.Name, Occurrence: occ, Phase: p.String()}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
