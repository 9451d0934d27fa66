package recurrence

import (
	"time"

	"playtestbot/internal/model"
)

// Phase is the lifecycle position of an event relative to its occurrence.
// It is derived from time, never stored.
type Phase int

const (
	Upcoming Phase = iota
	Starting
	Ongoing
	Ending
)

func (p Phase) String() string {
	switch p {
	case Upcoming:
		return "upcoming"
	case Starting:
		return "starting"
	case Ongoing:
		return "ongoing"
	case Ending:
		return "ending"
	default:
		return "unknown"
	}
}

// PhaseAt classifies delta = occurrence - now.
func (th Thresholds) PhaseAt(delta time.Duration) Phase {
	switch {
	case delta <= -th.Ending:
		return Ending
	case delta <= 0:
		return Ongoing
	case delta <= th.Starting:
		return Starting
	default:
		return Upcoming
	}
}

// PhaseOf returns the event's phase at now and the occurrence it refers to.
func (th Thresholds) PhaseOf(ev model.Event, now time.Time) (Phase, time.Time) {
	next := th.Next(ev, now, 0)
	return th.PhaseAt(next.Sub(now)), next
}
