package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

// DefaultWebhookName is the identity inbound email is posted under.
const DefaultWebhookName = "sophia"

// discordMissingPermissions is the API error code for a missing permission.
const discordMissingPermissions = 50013

// WebhookAPI lists and creates channel webhooks. *discordgo.Session satisfies it.
type WebhookAPI interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
}

// AvatarSource returns a data URI for a new webhook's avatar.
type AvatarSource interface {
	AvatarDataURI(ctx context.Context, guildID string) (string, error)
}

// Selector finds or creates the impersonation webhook of a channel.
type Selector struct {
	api    WebhookAPI
	name   string
	avatar AvatarSource
}

// NewSelector creates a selector. avatar may be nil; an empty name uses DefaultWebhookName.
func NewSelector(api WebhookAPI, name string, avatar AvatarSource) *Selector {
	if name == "" {
		name = DefaultWebhookName
	}
	return &Selector{api: api, name: name, avatar: avatar}
}

// Obtain returns the channel's named webhook, creating it when missing.
// Returns nil when no usable webhook can be had; callers then post as the bot.
func (s *Selector) Obtain(ctx context.Context, ch *discordgo.Channel) *discordgo.Webhook {
	if ch == nil {
		return nil
	}

	hooks, err := s.api.ChannelWebhooks(ch.ID, discordgo.WithContext(ctx))
	if err != nil {
		s.logFailure("list", ch, err)
		return nil
	}

	if hook, ok := lo.Find(hooks, func(h *discordgo.Webhook) bool {
		return h != nil && h.Name == s.name
	}); ok {
		if hook.Token == "" {
			// Owned by another application: we cannot execute it, and a second
			// hook with the same name would only confuse members.
			slog.Warn("relay: webhook exists without execute token",
				"channel_id", ch.ID, "webhook_id", hook.ID, "name", s.name)
			return nil
		}
		return hook
	}

	avatar := ""
	if s.avatar != nil {
		if uri, err := s.avatar.AvatarDataURI(ctx, ch.GuildID); err != nil {
			slog.Debug("relay: webhook avatar unavailable", "channel_id", ch.ID, "error", err)
		} else {
			avatar = uri
		}
	}

	hook, err := s.api.WebhookCreate(ch.ID, s.name, avatar, discordgo.WithContext(ctx))
	if err != nil {
		s.logFailure("create", ch, err)
		return nil
	}
	slog.Info("relay.webhook_created", "channel_id", ch.ID, "channel", ch.Name, "webhook_id", hook.ID)
	return hook
}

func (s *Selector) logFailure(op string, ch *discordgo.Channel, err error) {
	if IsPermissionError(err) {
		slog.Warn("relay: missing permission to manage webhooks",
			"op", op, "channel_id", ch.ID, "channel", ch.Name)
		return
	}
	slog.Warn("relay: webhook lookup failed", "op", op, "channel_id", ch.ID, "error", err)
}

// IsPermissionError reports whether err is a Discord "forbidden" or
// "missing permissions" response.
func IsPermissionError(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden {
		return true
	}
	return rest.Message != nil && rest.Message.Code == discordMissingPermissions
}
