package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"playtestbot/internal/command"
	"playtestbot/internal/config"
	"playtestbot/internal/lifecycle"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
)

// Bot connects the gateway to configuration reloads and commands.
type Bot struct {
	p        *Platform
	commands *command.Handler
	holder   *config.Holder
	onConfig func(*config.Snapshot)

	mu            sync.RWMutex
	ctx           context.Context
	botID         string
	configChannel model.ChannelRef

	reloadMu sync.Mutex
}

// NewBot wires p to commands. onConfig receives every snapshot parsed from
// the config channel. When configChannel is empty the bot looks for it on
// connect: the channel whose first message tags the bot and mentions
// "configuration".
func NewBot(p *Platform, configChannel string, commands *command.Handler, holder *config.Holder, onConfig func(*config.Snapshot)) *Bot {
	return &Bot{
		p:             p,
		commands:      commands,
		holder:        holder,
		onConfig:      onConfig,
		ctx:           context.Background(),
		configChannel: model.ChannelRef(configChannel),
	}
}

// Run opens the gateway and blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.p.s.AddHandler(b.onReady)
	b.p.s.AddHandler(b.onMessageCreate)
	b.p.s.AddHandler(b.onMessageUpdate)
	b.p.s.AddHandler(b.onMessageDelete)

	if err := b.p.s.Open(); err != nil {
		return err
	}
	appLog.Info("discord: gateway connected")

	<-ctx.Done()
	if err := b.p.s.Close(); err != nil {
		appLog.Error("discord: close failed", err)
	}
	return nil
}

// Sync loads the configuration over REST without opening the gateway.
func (b *Bot) Sync(ctx context.Context) error {
	_, botID, channel := b.state()
	if botID == "" {
		opt, cancel := b.p.call(ctx)
		me, err := b.p.s.User("@me", opt)
		cancel()
		if err != nil {
			return fmt.Errorf("discord: identify bot user: %w", err)
		}
		botID = me.ID
		b.mu.Lock()
		b.botID = botID
		b.mu.Unlock()
	}
	if channel == "" {
		found, ok := b.discoverConfigChannel(ctx, botID)
		if !ok {
			return nil
		}
		b.mu.Lock()
		b.configChannel = found
		b.mu.Unlock()
	}
	b.reload(ctx, true)
	return nil
}

func (b *Bot) state() (context.Context, string, model.ChannelRef) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx, b.botID, b.configChannel
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	if r.User != nil {
		b.botID = r.User.ID
	}
	b.mu.Unlock()

	ctx, botID, channel := b.state()
	appLog.Info("discord: signed in", "user", botID)

	if channel == "" {
		found, ok := b.discoverConfigChannel(ctx, botID)
		if !ok {
			appLog.Warn("discord: no config channel found; keeping current configuration")
			return
		}
		b.mu.Lock()
		b.configChannel = found
		b.mu.Unlock()
		appLog.Info("discord: found config channel", "channel", found)
	}
	b.reload(ctx, true)
}

func (b *Bot) discoverConfigChannel(ctx context.Context, botID string) (model.ChannelRef, bool) {
	opt, cancel := b.p.call(ctx)
	channels, err := b.p.s.GuildChannels(b.p.guildID, opt)
	cancel()
	if err != nil {
		appLog.Error("discord: list channels failed", err)
		return "", false
	}

	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		opt, cancel := b.p.call(ctx)
		first, err := b.p.s.ChannelMessages(ch.ID, 1, "", "0", "", opt)
		cancel()
		if err != nil {
			appLog.Debug("discord: cannot read channel", "channel", ch.Name, "err", err)
			continue
		}
		if len(first) == 1 && isConfigAnnouncement(first[0], botID) {
			return model.ChannelRef(ch.ID), true
		}
	}
	return "", false
}

// reload rebuilds the configuration from the config channel history.
func (b *Bot) reload(ctx context.Context, quiet bool) {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	_, _, channel := b.state()
	if channel == "" {
		return
	}

	var texts []string
	for msg, err := range b.p.History(ctx, channel, time.Time{}) {
		if err != nil {
			appLog.Error("discord: reading config channel failed", err, "channel", channel)
			return
		}
		texts = append(texts, msg.Content)
	}

	snap, skipped := config.ParseDirectives(texts)
	for _, err := range skipped {
		appLog.Warn("discord: config directive skipped", "err", err)
	}
	b.onConfig(snap)
	appLog.Info("discord: configuration ingested", "events", snap.Roster.Len(), "skipped", len(skipped))

	if quiet {
		return
	}
	respond := b.holder.Load().ResponseChannel
	if respond == "" {
		return
	}
	if err := b.p.Notify(ctx, respond, lifecycle.Notification{Text: "Ingested new configuration"}); err != nil {
		appLog.Error("discord: config acknowledgement failed", err)
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, botID, channel := b.state()
	if m.Message == nil || m.Author == nil || m.Author.ID == botID {
		return
	}
	if channel != "" && model.ChannelRef(m.ChannelID) == channel {
		b.reload(ctx, false)
		return
	}

	msg := command.Message{
		Channel:     model.ChannelRef(m.ChannelID),
		Content:     m.Content,
		MentionsBot: mentionsUser(m.Mentions, botID),
	}
	if _, err := b.commands.Handle(ctx, msg); err != nil {
		appLog.Error("discord: command failed", err, "channel", m.ChannelID)
	}
}

func (b *Bot) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Message != nil {
		b.configChanged(m.ChannelID)
	}
}

func (b *Bot) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message != nil {
		b.configChanged(m.ChannelID)
	}
}

func (b *Bot) configChanged(channelID string) {
	ctx, _, channel := b.state()
	if channel != "" && model.ChannelRef(channelID) == channel {
		b.reload(ctx, false)
	}
}

func mentionsUser(users []*discordgo.User, id string) bool {
	if id == "" {
		return false
	}
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

func isConfigAnnouncement(m *discordgo.Message, botID string) bool {
	return strings.Contains(m.Content, "configuration") && mentionsUser(m.Mentions, botID)
}
