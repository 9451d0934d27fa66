// Package command answers chat commands addressed to the bot.
package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"playtestbot/internal/announce"
	"playtestbot/internal/config"
	"playtestbot/internal/lifecycle"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
	"playtestbot/internal/roster"
)

// Event names run up to the next mention.
var (
	testPostPattern = regexp.MustCompile(`(?i)test post for ([^<>]+)`)
	reportPattern   = regexp.MustCompile(`(?i)report for ([^<>]+)`)
	createPattern   = regexp.MustCompile(`(?i)create channels for ([^<>]+)`)
	deletePattern   = regexp.MustCompile(`(?i)delete channels for ([^<>]+)`)
	helpPattern     = regexp.MustCompile(`(?i)\bhelp\b`)
	listPattern     = regexp.MustCompile(`(?i)list events`)
)

// Message is an incoming chat message.
type Message struct {
	Channel model.ChannelRef
	Content string
	// MentionsBot is true when the bot is tagged in the message.
	MentionsBot bool
}

// Handler dispatches commands against the current configuration.
type Handler struct {
	holder   *config.Holder
	actions  *lifecycle.Actions
	notifier lifecycle.Notifier
	th       recurrence.Thresholds
	now      func() time.Time
}

func NewHandler(holder *config.Holder, actions *lifecycle.Actions, notifier lifecycle.Notifier, th recurrence.Thresholds) *Handler {
	return &Handler{
		holder:   holder,
		actions:  actions,
		notifier: notifier,
		th:       th,
		now:      time.Now,
	}
}

// WithClock overrides the time source; it returns h.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Handle runs every command found in msg, in a fixed order, and replies in
// the response channel. Messages outside the response channel or not
// tagging the bot are ignored. It reports whether msg was a command.
func (h *Handler) Handle(ctx context.Context, msg Message) (bool, error) {
	snap := h.holder.Load()
	if !msg.MentionsBot || snap.ResponseChannel == "" || msg.Channel != snap.ResponseChannel {
		return false, nil
	}

	handled := false
	steps := []struct {
		re  *regexp.Regexp
		run func(ctx context.Context, snap *config.Snapshot, ev model.Event, name string) error
	}{
		{testPostPattern, h.testPost},
		{reportPattern, h.report},
		{createPattern, h.createChannels},
		{deletePattern, h.deleteChannels},
	}
	for _, step := range steps {
		m := step.re.FindStringSubmatch(msg.Content)
		if m == nil {
			continue
		}
		handled = true
		name := strings.ToLower(strings.TrimSpace(m[1]))
		ev, err := snap.Roster.Find(name)
		if errors.Is(err, roster.ErrEventNotFound) {
			return true, h.reply(ctx, snap, announce.NotFound(name))
		}
		if err := step.run(ctx, snap, ev, name); err != nil {
			return true, err
		}
	}

	if helpPattern.MatchString(msg.Content) {
		handled = true
		if err := h.reply(ctx, snap, announce.Help()); err != nil {
			return true, err
		}
	}
	if listPattern.MatchString(msg.Content) {
		handled = true
		now := h.now()
		events := snap.Roster.SortedByNext(now, h.th)
		if err := h.reply(ctx, snap, announce.EventList(events, now, h.th)); err != nil {
			return true, err
		}
	}
	return handled, nil
}

func (h *Handler) testPost(ctx context.Context, snap *config.Snapshot, ev model.Event, _ string) error {
	return h.actions.Announce(ctx, ev, snap.ResponseChannel)
}

func (h *Handler) report(ctx context.Context, snap *config.Snapshot, ev model.Event, name string) error {
	games, err := h.actions.CollectGames(ctx, snap, ev)
	if err != nil {
		return err
	}
	return h.reply(ctx, snap, announce.Report(name, games))
}

func (h *Handler) createChannels(ctx context.Context, snap *config.Snapshot, ev model.Event, _ string) error {
	if err := h.actions.Start(ctx, snap, ev); err != nil {
		appLog.Error("command: create channels failed", err, "event", ev.Name)
		return h.reply(ctx, snap, fmt.Sprintf("I couldn't create channels for %s: %v", ev.Name, err))
	}
	return nil
}

func (h *Handler) deleteChannels(ctx context.Context, snap *config.Snapshot, ev model.Event, _ string) error {
	failed, err := h.actions.Cleanup(ctx, snap, ev)
	if err != nil {
		appLog.Error("command: delete channels failed", err, "event", ev.Name)
		return h.reply(ctx, snap, fmt.Sprintf("I couldn't delete channels for %s: %v", ev.Name, err))
	}
	return h.reply(ctx, snap, announce.Cleanup(ev, failed))
}

func (h *Handler) reply(ctx context.Context, snap *config.Snapshot, text string) error {
	if err := h.notifier.Notify(ctx, snap.ResponseChannel, lifecycle.Notification{Text: text}); err != nil {
		return fmt.Errorf("command: reply: %w", err)
	}
	return nil
}
