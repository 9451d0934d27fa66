package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
)

const (
	// DefaultGrace is how long after its start an occurrence is still "this week's".
	DefaultGrace = 4 * time.Hour
	// DefaultStarting is the lead time before an occurrence in which it is Starting.
	DefaultStarting = 5 * time.Minute
	// DefaultEnding is the elapsed time after an occurrence from which it is Ending.
	DefaultEnding = 3*time.Hour + 55*time.Minute

	week = 7 * 24 * time.Hour
)

var rruleDays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// Thresholds controls the lifecycle windows around an occurrence.
type Thresholds struct {
	Starting time.Duration `yaml:"starting" json:"starting"`
	Ending   time.Duration `yaml:"ending" json:"ending"`
	Grace    time.Duration `yaml:"grace" json:"grace"`
}

// DefaultThresholds returns the 5m / 3h55m / 4h windows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Starting: DefaultStarting,
		Ending:   DefaultEnding,
		Grace:    DefaultGrace,
	}
}

// Normalize replaces non-positive values with defaults.
func (th *Thresholds) Normalize() {
	if th.Starting <= 0 {
		th.Starting = DefaultStarting
	}
	if th.Ending <= 0 {
		th.Ending = DefaultEnding
	}
	if th.Grace <= 0 {
		th.Grace = DefaultGrace
	}
}

// NextOccurrence returns the UTC instant of ev's occurrence that is current
// for now+offset, using the default grace window.
func NextOccurrence(ev model.Event, now time.Time, offset time.Duration) time.Time {
	return DefaultThresholds().Next(ev, now, offset)
}

// Next returns the first occurrence of ev that is not more than th.Grace
// before now+offset.
//
// Occurrences are generated by a weekly RRULE whose DTSTART lives in the
// event's own location, so every instance is the event's local wall-clock
// start on its own calendar date, resolved with that date's offset.
func (th Thresholds) Next(ev model.Event, now time.Time, offset time.Duration) time.Time {
	grace := th.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	loc := ev.Location
	if loc == nil {
		loc = time.UTC
	}

	threshold := now.Add(offset).Add(-grace)

	// Anchor a week early on the local calendar so the rule's first
	// instance is never past the threshold.
	anchor := threshold.In(loc).AddDate(0, 0, -7)
	dtstart := atClock(anchor, ev.Start, loc)

	if !ev.Weekday.Valid() {
		appLog.Error("recurrence: invalid weekday", nil, "event", ev.Name, "weekday", int(ev.Weekday))
		return threshold.UTC()
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dtstart,
		Byweekday: []rrule.Weekday{rruleDays[ev.Weekday]},
	})
	if err != nil {
		appLog.Error("recurrence: failed to build weekly rule", err, "event", ev.Name)
		return stepWeekly(dtstart, ev.Weekday, threshold, loc)
	}

	return r.After(threshold, true).UTC()
}

// stepWeekly walks forward day by day on the local calendar to the first
// instance at or after threshold. Used only when the rule cannot be built.
func stepWeekly(from time.Time, day model.Weekday, threshold time.Time, loc *time.Location) time.Time {
	clock := model.Clock{Hour: from.Hour(), Minute: from.Minute()}
	for d := 0; d < 15; d++ {
		candidate := atClock(from.AddDate(0, 0, d), clock, loc)
		if model.WeekdayOf(candidate.Weekday()) == day && !candidate.Before(threshold) {
			return candidate.UTC()
		}
	}
	return threshold.UTC()
}

// atClock localizes the calendar date of t at the given wall clock in loc.
func atClock(t time.Time, c model.Clock, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// WindowStart is the instant after which submissions for the occurrence
// current at now are collected: one week before it, plus the grace window.
func (th Thresholds) WindowStart(ev model.Event, now time.Time) time.Time {
	return th.WindowFor(th.Next(ev, now, 0))
}

// WindowFor is WindowStart for a known occurrence.
func (th Thresholds) WindowFor(occ time.Time) time.Time {
	grace := th.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return occ.Add(-week).Add(grace)
}

// Previous returns the occurrence of ev one week before occ, at the same
// local wall clock.
func Previous(ev model.Event, occ time.Time) time.Time {
	loc := ev.Location
	if loc == nil {
		loc = time.UTC
	}
	return atClock(occ.In(loc).AddDate(0, 0, -7), ev.Start, loc).UTC()
}
