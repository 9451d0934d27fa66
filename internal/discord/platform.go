// Package discord implements the lifecycle platform on Discord.
package discord

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/bwmarrin/discordgo"

	"playtestbot/internal/config"
	"playtestbot/internal/lifecycle"
	appLog "playtestbot/internal/log"
	"playtestbot/internal/model"
)

// historyPage is the largest page the messages endpoint returns.
const historyPage = 100

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

// Platform is the Discord implementation of lifecycle.Platform. Every REST
// call is bounded by the configured request timeout.
type Platform struct {
	s       *discordgo.Session
	guildID string
	timeout time.Duration
}

var _ lifecycle.Platform = (*Platform)(nil)

// NewPlatform creates a session for the bot token in cfg. The gateway is
// not opened until Bot.Run.
func NewPlatform(cfg config.DiscordConfig) (*Platform, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is empty")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = intents
	return &Platform{s: s, guildID: cfg.GuildID, timeout: cfg.RequestTimeout}, nil
}

func (p *Platform) call(ctx context.Context) (discordgo.RequestOption, context.CancelFunc) {
	if p.timeout <= 0 {
		return discordgo.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return discordgo.WithContext(ctx), cancel
}

// History pages through channel forward from the given instant.
func (p *Platform) History(ctx context.Context, channel model.ChannelRef, after time.Time) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		cursor := snowflakeAt(after)
		for {
			opt, cancel := p.call(ctx)
			page, err := p.s.ChannelMessages(string(channel), historyPage, "", cursor, "", opt)
			cancel()
			if err != nil {
				yield(model.Message{}, fmt.Errorf("discord: history of %s: %w", channel, err))
				return
			}
			if len(page) == 0 {
				return
			}
			sortOldestFirst(page)
			for _, m := range page {
				if !yield(toMessage(m), nil) {
					return
				}
			}
			cursor = page[len(page)-1].ID
			if len(page) < historyPage {
				return
			}
		}
	}
}

// Resources lists the guild's voice channels.
func (p *Platform) Resources(ctx context.Context) ([]model.Resource, error) {
	opt, cancel := p.call(ctx)
	defer cancel()
	channels, err := p.s.GuildChannels(p.guildID, opt)
	if err != nil {
		return nil, fmt.Errorf("discord: list channels: %w", err)
	}
	var out []model.Resource
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildVoice {
			out = append(out, model.Resource{ID: ch.ID, Label: ch.Name})
		}
	}
	return out, nil
}

// CreateResource clones the template voice channel under label, keeping
// its category, permissions, bitrate and user limit.
func (p *Platform) CreateResource(ctx context.Context, template model.ChannelRef, label string) (model.Resource, error) {
	opt, cancel := p.call(ctx)
	defer cancel()

	tmpl, err := p.s.Channel(string(template), opt)
	if err != nil {
		return model.Resource{}, fmt.Errorf("discord: voice template %s: %w", template, err)
	}
	ch, err := p.s.GuildChannelCreateComplex(p.guildID, discordgo.GuildChannelCreateData{
		Name:                 label,
		Type:                 discordgo.ChannelTypeGuildVoice,
		Bitrate:              tmpl.Bitrate,
		UserLimit:            tmpl.UserLimit,
		PermissionOverwrites: tmpl.PermissionOverwrites,
		ParentID:             tmpl.ParentID,
		Position:             tmpl.Position + 1,
	}, opt)
	if err != nil {
		return model.Resource{}, fmt.Errorf("discord: create %q: %w", label, err)
	}
	appLog.Debug("discord: voice channel created", "id", ch.ID, "label", label)
	return model.Resource{ID: ch.ID, Label: ch.Name}, nil
}

func (p *Platform) DestroyResource(ctx context.Context, id string) error {
	opt, cancel := p.call(ctx)
	defer cancel()
	if _, err := p.s.ChannelDelete(id, opt); err != nil {
		return fmt.Errorf("discord: delete channel %s: %w", id, err)
	}
	return nil
}

func (p *Platform) Notify(ctx context.Context, channel model.ChannelRef, n lifecycle.Notification) error {
	opt, cancel := p.call(ctx)
	defer cancel()
	if _, err := p.s.ChannelMessageSendComplex(string(channel), toMessageSend(n), opt); err != nil {
		return fmt.Errorf("discord: send to %s: %w", channel, err)
	}
	return nil
}

func toMessageSend(n lifecycle.Notification) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: n.Text}
	if n.ImageURL != "" {
		send.Embeds = []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: n.ImageURL}}}
	}
	return send
}

func toMessage(m *discordgo.Message) model.Message {
	out := model.Message{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		out.Author = model.UserRef(m.Author.ID)
	}
	for _, r := range m.Reactions {
		if r.Emoji != nil {
			out.Reactions = append(out.Reactions, r.Emoji.MessageFormat())
		}
	}
	return out
}
