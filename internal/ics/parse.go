package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
)

// ParseRoster reads weekly events from an ICS payload. Each VEVENT supplies
// the name (SUMMARY), weekday and wall-clock start (DTSTART with TZID), and
// the chat bindings from the X-PLAYTESTBOT-CHANNEL and X-PLAYTESTBOT-HOST
// properties. VEVENTs that cannot be read are logged and skipped.
func ParseRoster(src Source, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (model.Event, error) {
	var out model.Event

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Name = strings.TrimSpace(p.Value)
	}
	if out.Name == "" {
		return out, errors.New("missing SUMMARY")
	}

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil && !strings.Contains(strings.ToUpper(rr.Value), "FREQ=WEEKLY") {
		return out, fmt.Errorf("event %q: only weekly recurrences are supported", out.Name)
	}

	dt := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dt == nil || dt.Value == "" {
		return out, fmt.Errorf("event %q: missing DTSTART", out.Name)
	}
	loc := time.UTC
	if tzs, ok := dt.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzs) > 0 {
		l, err := time.LoadLocation(tzs[0])
		if err != nil {
			return out, fmt.Errorf("event %q: TZID: %w", out.Name, err)
		}
		loc = l
	}
	start, err := parseICSTime(dt.Value, loc)
	if err != nil {
		return out, fmt.Errorf("event %q: DTSTART: %w", out.Name, err)
	}

	out.Location = loc
	out.Weekday = model.WeekdayOf(start.Weekday())
	out.Start = model.Clock{Hour: start.Hour(), Minute: start.Minute()}
	if p := ve.GetProperty(propChannel); p != nil {
		out.Channel = model.ChannelRef(strings.TrimSpace(p.Value))
	}
	if p := ve.GetProperty(propHost); p != nil {
		out.Host = model.UserRef(strings.TrimSpace(p.Value))
	}
	return out, nil
}

// parseICSTime parses a DATE-TIME value. UTC values are converted into loc
// so the weekday and wall clock are read in the event's zone.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(localLayout+"Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	if !strings.Contains(v, "T") {
		return time.Time{}, errors.New("all-day events have no start time")
	}
	return time.ParseInLocation(localLayout, v, loc)
}
