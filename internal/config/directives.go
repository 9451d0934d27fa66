package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"playtestbot/internal/model"
	"playtestbot/internal/roster"
)

var (
	channelMention = regexp.MustCompile(`<#(\d+)>`)
	userMention    = regexp.MustCompile(`<@!?(\d+)>`)
)

const (
	onDeckPrefix  = "On deck emoji"
	approvePrefix = "Approve emoji"
)

// ErrUnknownDirective marks a config message that is not a directive.
var ErrUnknownDirective = errors.New("not a configuration directive")

// ParseDirectives builds a Snapshot from config channel messages given in
// chronological order. Recognized directives:
//
//	Approve emoji <emoji>
//	On deck emoji <emoji>
//	Respond in #channel
//	Voice template #channel
//	Event, <day>, <name>, <timezone>, <HHMM>, #channel @host
//
// Later directives override earlier ones; an Event with an existing name
// replaces it. Malformed messages are skipped and reported in the returned
// slice so the caller can log them.
func ParseDirectives(messages []string) (*Snapshot, []error) {
	s := &Snapshot{}
	var skipped []error

	for i, msg := range messages {
		if err := applyDirective(s, msg); err != nil {
			if !errors.Is(err, ErrUnknownDirective) {
				skipped = append(skipped, fmt.Errorf("message %d: %w", i, err))
			}
		}
	}
	return s, skipped
}

func applyDirective(s *Snapshot, msg string) error {
	content := strings.TrimSpace(msg)
	switch {
	case strings.HasPrefix(content, onDeckPrefix):
		marker := lastField(content[len(onDeckPrefix):])
		if marker == "" {
			return errors.New("on deck emoji: missing emoji")
		}
		s.Markers.OnDeck = marker
	case strings.HasPrefix(content, approvePrefix):
		marker := lastField(content[len(approvePrefix):])
		if marker == "" {
			return errors.New("approve emoji: missing emoji")
		}
		s.Markers.Approve = marker
	case strings.HasPrefix(content, "Respond in"):
		ch, ok := firstMention(channelMention, content)
		if !ok {
			return errors.New("respond in: no channel mention")
		}
		s.ResponseChannel = model.ChannelRef(ch)
	case strings.HasPrefix(content, "Voice template"):
		ch, ok := firstMention(channelMention, content)
		if !ok {
			return errors.New("voice template: no channel mention")
		}
		s.VoiceTemplate = model.ChannelRef(ch)
	case strings.HasPrefix(content, "Event"):
		ev, err := parseEventDirective(content)
		if err != nil {
			return err
		}
		s.Roster = s.Roster.With(ev)
	default:
		return ErrUnknownDirective
	}
	return nil
}

func parseEventDirective(content string) (model.Event, error) {
	parts := strings.Split(content, ",")
	if len(parts) < 5 {
		return model.Event{}, fmt.Errorf("event: want at least 5 comma-separated fields, got %d", len(parts))
	}
	channel, ok := firstMention(channelMention, content)
	if !ok {
		return model.Event{}, errors.New("event: no channel mention")
	}
	host, ok := firstMention(userMention, content)
	if !ok {
		return model.Event{}, errors.New("event: no host mention")
	}
	// The start field may be followed by the mentions without a comma.
	start := strings.Fields(parts[4])
	if len(start) == 0 {
		return model.Event{}, errors.New("event: empty start time")
	}
	return roster.NewEvent(parts[1], parts[2], parts[3], start[0], model.ChannelRef(channel), model.UserRef(host))
}

// lastField returns the last whitespace-separated field of s, or "".
func lastField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func firstMention(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
