package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ytsclub/sophbot/internal/relay"
)

// Gateway is the Discord REST and gateway surface the channel uses.
// *discordgo.Session satisfies it; tests substitute a fake.
type Gateway interface {
	relay.Gateway

	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error

	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembersSearch(guildID, query string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)

	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
	HeartbeatLatency() time.Duration
}

var _ Gateway = (*discordgo.Session)(nil)
