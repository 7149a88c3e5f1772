package relay

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

var (
	replyPrefix  = regexp.MustCompile(`(?i)^re:\s*`)
	channelToken = regexp.MustCompile(`(?i)\[Discord\]\s*#([^\s-]+)`)
)

// Directory looks up guild channels. *discordgo.Session satisfies it.
type Directory interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Destination is where an inbound email is posted.
type Destination struct {
	Channel    *discordgo.Channel
	ParsedName string // channel token read from the subject, empty if none
	Fallback   bool   // resolved through the configured fallback channel
}

// ParseChannelName extracts the channel token from a notification subject.
// A leading reply marker is ignored. The token stops at the first whitespace
// or hyphen, so "#dev-chat - alice" yields "dev".
func ParseChannelName(subject string) (string, bool) {
	clean := strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
	m := channelToken.FindStringSubmatch(clean)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Resolver maps email subjects to guild channels.
type Resolver struct {
	dir               Directory
	guildID           string
	fallbackChannelID string
}

// NewResolver creates a resolver searching guildID, with an optional fallback channel.
func NewResolver(dir Directory, guildID, fallbackChannelID string) *Resolver {
	return &Resolver{dir: dir, guildID: guildID, fallbackChannelID: fallbackChannelID}
}

// Resolve returns the destination channel for a subject. ok is false when
// neither the subject nor the fallback names a reachable channel.
// Lookup errors are logged and treated as misses.
func (r *Resolver) Resolve(ctx context.Context, subject string) (Destination, bool) {
	name, matched := ParseChannelName(subject)
	if matched && r.guildID != "" {
		if ch := r.findByName(ctx, name); ch != nil {
			return Destination{Channel: ch, ParsedName: name}, true
		}
		slog.Info("relay.channel_not_found", "channel", name, "guild_id", r.guildID, "subject", subject)
	}

	if r.fallbackChannelID != "" {
		ch, err := r.dir.Channel(r.fallbackChannelID, discordgo.WithContext(ctx))
		if err != nil {
			slog.Warn("relay: fallback channel lookup failed", "channel_id", r.fallbackChannelID, "error", err)
		} else if ch != nil {
			return Destination{Channel: ch, ParsedName: name, Fallback: true}, true
		}
	}

	return Destination{ParsedName: name}, false
}

func (r *Resolver) findByName(ctx context.Context, name string) *discordgo.Channel {
	channels, err := r.dir.GuildChannels(r.guildID, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("relay: list guild channels failed", "guild_id", r.guildID, "error", err)
		return nil
	}
	ch, ok := lo.Find(channels, func(c *discordgo.Channel) bool {
		return c != nil && isTextChannel(c) && c.Name == name
	})
	if !ok {
		return nil
	}
	return ch
}

func isTextChannel(c *discordgo.Channel) bool {
	return c.Type == discordgo.ChannelTypeGuildText || c.Type == discordgo.ChannelTypeGuildNews
}
