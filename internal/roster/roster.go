package roster

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
)

// ErrEventNotFound is returned by Find for unknown names.
var ErrEventNotFound = errors.New("event not found")

// Roster is an ordered, immutable set of events. Order is service priority
// for the scheduler.
type Roster struct {
	events []model.Event
}

// New copies events into a Roster. Later events replace earlier ones with
// the same (case-insensitive) name, keeping the earlier position.
func New(events ...model.Event) Roster {
	var r Roster
	for _, ev := range events {
		r = r.With(ev)
	}
	return r
}

// With returns a roster containing ev, replacing a same-named event in place.
func (r Roster) With(ev model.Event) Roster {
	out := slices.Clone(r.events)
	for i := range out {
		if strings.EqualFold(out[i].Name, ev.Name) {
			out[i] = ev
			return Roster{events: out}
		}
	}
	return Roster{events: append(out, ev)}
}

func (r Roster) Len() int { return len(r.events) }

// All returns the events in roster order.
func (r Roster) All() []model.Event {
	return slices.Clone(r.events)
}

// Find looks an event up by name, case-insensitive.
func (r Roster) Find(name string) (model.Event, error) {
	want := strings.TrimSpace(name)
	for _, ev := range r.events {
		if strings.EqualFold(ev.Name, want) {
			return ev, nil
		}
	}
	return model.Event{}, fmt.Errorf("%w: %q", ErrEventNotFound, want)
}

// SortedByNext returns the events ordered by their next occurrence.
func (r Roster) SortedByNext(now time.Time, th recurrence.Thresholds) []model.Event {
	out := r.All()
	next := make(map[string]time.Time, len(out))
	for _, ev := range out {
		next[ev.Name] = th.Next(ev, now, 0)
	}
	slices.SortStableFunc(out, func(a, b model.Event) int {
		return next[a.Name].Compare(next[b.Name])
	})
	return out
}

// NewEvent builds an event from its textual configuration.
func NewEvent(day, name, tz, start string, channel model.ChannelRef, host model.UserRef) (model.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Event{}, errors.New("roster: event name is empty")
	}
	weekday, err := recurrence.ParseWeekday(day)
	if err != nil {
		return model.Event{}, fmt.Errorf("roster: event %q: %w", name, err)
	}
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return model.Event{}, fmt.Errorf("roster: event %q: timezone: %w", name, err)
	}
	clock, err := recurrence.ParseClock(start)
	if err != nil {
		return model.Event{}, fmt.Errorf("roster: event %q: %w", name, err)
	}
	return model.Event{
		Weekday:  weekday,
		Name:     name,
		Location: loc,
		Start:    clock,
		Channel:  channel,
		Host:     host,
	}, nil
}
