// Package ics publishes the event roster as an iCalendar feed and imports
// weekly events from one.
package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
)

// Extension properties carrying the chat bindings of an event.
const (
	propChannel = ical.ComponentProperty("X-PLAYTESTBOT-CHANNEL")
	propHost    = ical.ComponentProperty("X-PLAYTESTBOT-HOST")
)

const localLayout = "20060102T150405"

var byDay = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// FeedOptions control the generated calendar.
type FeedOptions struct {
	Name          string
	SessionLength time.Duration
	Thresholds    recurrence.Thresholds
}

// Feed builds a calendar with one weekly VEVENT per event. DTSTART is the
// occurrence current at now, written as local time with its TZID, so
// clients expand the series across DST changes the same way the bot does.
func Feed(events []model.Event, now time.Time, opts FeedOptions) *ical.Calendar {
	length := opts.SessionLength
	if length <= 0 {
		length = 3 * time.Hour
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//playtestbot//weekly sessions//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, ev := range events {
		if !ev.Weekday.Valid() {
			continue
		}
		loc := ev.Location
		if loc == nil {
			loc = time.UTC
		}
		start := opts.Thresholds.Next(ev, now, 0).In(loc)
		end := start.Add(length)

		ve := cal.AddEvent(uid(ev))
		ve.SetDtStampTime(now.UTC())
		ve.SetProperty(ical.ComponentPropertyDtStart, start.Format(localLayout), ical.WithTZID(loc.String()))
		ve.SetProperty(ical.ComponentPropertyDtEnd, end.Format(localLayout), ical.WithTZID(loc.String()))
		ve.AddRrule("FREQ=WEEKLY;BYDAY=" + byDay[ev.Weekday])
		ve.SetSummary(ev.Name)
		if ev.Channel != "" {
			ve.SetDescription("Submissions in " + ev.Channel.Mention())
			ve.SetProperty(propChannel, string(ev.Channel))
		}
		if ev.Host != "" {
			ve.SetProperty(propHost, string(ev.Host))
		}
	}
	return cal
}

// WriteFeed serializes Feed(events, now, opts) to w.
func WriteFeed(w io.Writer, events []model.Event, now time.Time, opts FeedOptions) error {
	if err := Feed(events, now, opts).SerializeTo(w); err != nil {
		return fmt.Errorf("ics: write feed: %w", err)
	}
	return nil
}

func uid(ev model.Event) string {
	slug := strings.Join(strings.Fields(strings.ToLower(ev.Name)), "-")
	return slug + "@playtestbot"
}
