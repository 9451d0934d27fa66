package model

import (
	"fmt"
	"time"
)

// UserRef is an opaque reference to a chat user (the platform's user ID).
type UserRef string

// Mention renders the user as a chat mention.
func (u UserRef) Mention() string {
	if u == "" {
		return ""
	}
	return "<@" + string(u) + ">"
}

// ChannelRef is an opaque reference to a chat channel.
type ChannelRef string

// Mention renders the channel as a chat link.
func (c ChannelRef) Mention() string {
	if c == "" {
		return ""
	}
	return "<#" + string(c) + ">"
}

// Weekday is a day of the week with Monday=0 ... Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// Valid reports whether d is in 0..6.
func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

// Time converts to the standard library weekday.
func (d Weekday) Time() time.Weekday {
	return time.Weekday((int(d) + 1) % 7)
}

// WeekdayOf converts a standard library weekday.
func WeekdayOf(w time.Weekday) Weekday {
	return Weekday((int(w) + 6) % 7)
}

// Clock is a local time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d%02d", c.Hour, c.Minute)
}

// Event is a weekly recurring session. Events are never edited in place;
// reconfiguration replaces them.
type Event struct {
	Weekday  Weekday
	Name     string
	Location *time.Location
	Start    Clock

	// Channel is where submissions for this event are posted.
	Channel ChannelRef
	// Host is only used for mentions.
	Host UserRef
}

// TimezoneName returns the IANA name of the event's location.
func (e Event) TimezoneName() string {
	if e.Location == nil {
		return "UTC"
	}
	return e.Location.String()
}

// Game is one parsed submission, a snapshot of a message at collection time.
type Game struct {
	Name        string
	Players     string
	Length      string
	Description string
	Platform    string

	// Info is nil when the submission carries no additional info.
	Info *string

	Submitter UserRef

	Approved bool
	OnDeck   bool
}

// Label is the name used for the game's ephemeral resource.
func (g Game) Label() string {
	return g.Name + " (" + g.Platform + ")"
}

// Status returns "on deck", "approved" or "pending".
func (g Game) Status() string {
	switch {
	case g.OnDeck:
		return "on deck"
	case g.Approved:
		return "approved"
	default:
		return "pending"
	}
}

// Message is one entry of a channel's history.
type Message struct {
	ID        string
	Author    UserRef
	Content   string
	Reactions []string
	Timestamp time.Time
}

// Resource is a live ephemeral resource (e.g. a voice room).
type Resource struct {
	ID    string
	Label string
}
