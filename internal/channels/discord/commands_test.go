package discord

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/internal/config"
)

const (
	testGuild    = "1405628370301091860"
	testChannel  = "111111111111111111"
	testOperator = "704038199776903209"
	testUser     = "222222222222222222"
)

func newTestChannel(t *testing.T) (*Channel, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	gw.channels = []*discordgo.Channel{{ID: testChannel, GuildID: testGuild, Name: "general", Type: discordgo.ChannelTypeGuildText}}
	cfg := config.DiscordConfig{
		CommandPrefix: "soph ",
		GuildID:       testGuild,
		OperatorIDs:   config.FlexibleStringSlice{testOperator},
	}
	return newChannel(gw, cfg, bus.NewLoop(0, 0), nil), gw
}

func guildMessage(authorID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "900",
		GuildID:   testGuild,
		ChannelID: testChannel,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "alice"},
		Timestamp: time.Now(),
	}
}

func TestHandleCommand_NotACommand(t *testing.T) {
	c, gw := newTestChannel(t)
	require.False(t, c.handleCommand(context.Background(), guildMessage(testUser, "hello soph ping")))
	require.True(t, c.handleCommand(context.Background(), guildMessage(testUser, "soph ")), "bare prefix is silent")
	require.Empty(t, gw.sent)
	require.Empty(t, gw.embeds)
}

func TestHandleCommand_UnknownReplies(t *testing.T) {
	c, gw := newTestChannel(t)
	require.True(t, c.handleCommand(context.Background(), guildMessage(testUser, "soph dance")))
	require.Equal(t, []string{ErrCommandNotFound.Reply()}, gw.sent)
}

func TestPing(t *testing.T) {
	c, gw := newTestChannel(t)
	gw.latency = 42 * time.Millisecond

	c.handleCommand(context.Background(), guildMessage(testUser, "SOPH ping"))
	require.Len(t, gw.embeds, 1)
	require.Equal(t, "Pong! Catch that :ping_pong:! 42ms ", gw.embeds[0].Title)
	require.Equal(t, colorTeal, gw.embeds[0].Color)
}

func TestNick(t *testing.T) {
	grace := &discordgo.Member{User: &discordgo.User{ID: "333333333333333333", Username: "grace"}, Nick: "Amazing Grace"}
	ada := &discordgo.Member{User: &discordgo.User{ID: "444444444444444444", Username: "ada", Discriminator: "1815"}}

	tests := []struct {
		name     string
		content  string
		perms    int64
		permsErr error
		nickErr  error
		wantKind ErrorKind
		wantID   string
		wantNick string
	}{
		{name: "mention", content: "soph nick <@!333333333333333333> The Admiral", perms: discordgo.PermissionManageNicknames, wantID: grace.User.ID, wantNick: "The Admiral"},
		{name: "raw id", content: "soph nick 444444444444444444 Countess", perms: discordgo.PermissionManageNicknames, wantID: ada.User.ID, wantNick: "Countess"},
		{name: "quoted nickname", content: `soph nick "Amazing Grace" Grace`, perms: discordgo.PermissionManageNicknames, wantID: grace.User.ID, wantNick: "Grace"},
		{name: "tag", content: "soph nick ada#1815 Lovelace", perms: discordgo.PermissionAdministrator, wantID: ada.User.ID, wantNick: "Lovelace"},
		{name: "no permission", content: "soph nick grace x", wantKind: ErrMissingPermissions},
		{name: "permission lookup fails", content: "soph nick grace x", permsErr: errors.New("unknown channel"), wantKind: ErrCheckFailure},
		{name: "missing nickname", content: "soph nick grace", perms: discordgo.PermissionManageNicknames, wantKind: ErrMissingRequiredArgument},
		{name: "missing member", content: "soph nick", perms: discordgo.PermissionManageNicknames, wantKind: ErrMissingRequiredArgument},
		{name: "unknown member", content: "soph nick nobody x", perms: discordgo.PermissionManageNicknames, wantKind: ErrBadArgument},
		{name: "unclosed quote", content: `soph nick "grace x`, perms: discordgo.PermissionManageNicknames, wantKind: ErrExpectedClosingQuote},
		{name: "api failure", content: "soph nick grace x", perms: discordgo.PermissionManageNicknames, nickErr: errors.New("hierarchy"), wantKind: ErrInvokeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, gw := newTestChannel(t)
			gw.members = []*discordgo.Member{grace, ada}
			gw.perms[testUser] = tt.perms
			gw.permsErr = tt.permsErr
			gw.nickErr = tt.nickErr

			c.handleCommand(context.Background(), guildMessage(testUser, tt.content))

			if tt.wantKind != 0 {
				require.Equal(t, []string{tt.wantKind.Reply()}, gw.sent)
				require.Empty(t, gw.nicknames)
				return
			}
			require.Empty(t, gw.sent)
			require.Equal(t, map[string]string{tt.wantID: tt.wantNick}, gw.nicknames)
			require.Len(t, gw.embeds, 1)
			require.Equal(t, " :white_check_mark: | Nickname changed. ", gw.embeds[0].Description)
		})
	}
}

func TestNick_DirectMessage(t *testing.T) {
	c, gw := newTestChannel(t)
	m := guildMessage(testUser, "soph nick grace x")
	m.GuildID = ""
	c.handleCommand(context.Background(), m)
	require.Equal(t, []string{ErrNoPrivateMessage.Reply()}, gw.sent)
}

func history(n int, age time.Duration) []*discordgo.Message {
	out := make([]*discordgo.Message, n)
	for i := range out {
		out[i] = &discordgo.Message{ID: fmt.Sprintf("h%d", i), Timestamp: time.Now().Add(-age)}
	}
	return out
}

func TestPurge(t *testing.T) {
	t.Run("bulk deletes in batches", func(t *testing.T) {
		c, gw := newTestChannel(t)
		gw.perms[testUser] = discordgo.PermissionManageMessages
		gw.history = history(250, time.Hour)

		c.handleCommand(context.Background(), guildMessage(testUser, "soph purge 150"))

		require.Empty(t, gw.sent)
		require.Equal(t, []string{"900"}, gw.deleted, "invocation removed first")
		require.Len(t, gw.bulk, 2)
		require.Len(t, gw.bulk[0], 100)
		require.Len(t, gw.bulk[1], 50)
		require.Equal(t, "h100", gw.bulk[1][0])
	})

	t.Run("old messages deleted one by one", func(t *testing.T) {
		c, gw := newTestChannel(t)
		gw.perms[testUser] = discordgo.PermissionManageMessages
		gw.history = append(history(3, time.Hour), &discordgo.Message{ID: "old", Timestamp: time.Now().Add(-30 * 24 * time.Hour)})

		c.handleCommand(context.Background(), guildMessage(testUser, "soph purge"))

		require.Equal(t, [][]string{{"h0", "h1", "h2"}}, gw.bulk)
		require.Equal(t, []string{"900", "old"}, gw.deleted)
	})

	t.Run("single recent message", func(t *testing.T) {
		c, gw := newTestChannel(t)
		gw.perms[testUser] = discordgo.PermissionManageMessages
		gw.history = history(1, time.Minute)

		c.handleCommand(context.Background(), guildMessage(testUser, "soph purge 5"))

		require.Empty(t, gw.bulk)
		require.Equal(t, []string{"900", "h0"}, gw.deleted)
	})

	t.Run("without permission only the invocation goes", func(t *testing.T) {
		c, gw := newTestChannel(t)
		gw.history = history(10, time.Hour)

		c.handleCommand(context.Background(), guildMessage(testUser, "soph purge 5"))

		require.Empty(t, gw.sent)
		require.Empty(t, gw.bulk)
		require.Equal(t, []string{"900"}, gw.deleted)
		require.Zero(t, gw.historyReq)
	})

	t.Run("bad amount", func(t *testing.T) {
		c, gw := newTestChannel(t)
		c.handleCommand(context.Background(), guildMessage(testUser, "soph purge lots"))
		require.Equal(t, []string{ErrBadArgument.Reply()}, gw.sent)
		require.Empty(t, gw.deleted)
	})

	t.Run("extra arguments", func(t *testing.T) {
		c, gw := newTestChannel(t)
		c.handleCommand(context.Background(), guildMessage(testUser, "soph purge 5 more"))
		require.Equal(t, []string{ErrTooManyArguments.Reply()}, gw.sent)
	})
}

func TestEmbed(t *testing.T) {
	c, gw := newTestChannel(t)

	c.handleCommand(context.Background(), guildMessage(testUser, "soph embed hello"))
	require.Equal(t, []string{ErrMissingPermissions.Reply()}, gw.sent)

	gw.perms[testUser] = discordgo.PermissionManageMessages
	c.handleCommand(context.Background(), guildMessage(testUser, "soph embed   Meeting at 5pm, room \"B\"  "))
	require.Len(t, gw.embeds, 1)
	require.Equal(t, `Meeting at 5pm, room "B"`, gw.embeds[0].Description)

	c.handleCommand(context.Background(), guildMessage(testUser, "soph embed"))
	require.Equal(t, ErrMissingRequiredArgument.Reply(), gw.sent[len(gw.sent)-1])
}

func TestSnipe(t *testing.T) {
	c, gw := newTestChannel(t)

	c.handleCommand(context.Background(), guildMessage(testUser, "soph snipe"))
	require.Equal(t, []string{"alice, there's nothing to snipe!"}, gw.sent)

	c.handleDelete(&discordgo.MessageDelete{
		Message: &discordgo.Message{ID: "1", ChannelID: testChannel},
		BeforeDelete: &discordgo.Message{
			ID:        "1",
			ChannelID: testChannel,
			Content:   "oops",
			Author:    &discordgo.User{ID: "5", Username: "bob", Discriminator: "0"},
		},
	})

	c.handleCommand(context.Background(), guildMessage(testUser, "soph snipe"))
	require.Len(t, gw.embeds, 1)
	embed := gw.embeds[0]
	require.Equal(t, "Snipe:", embed.Title)
	require.Equal(t, "**Last Deleted Message:** \noops \n - bob", embed.Description)
	require.Equal(t, colorPurple, embed.Color)
	require.Equal(t, "Snipe requested by alice", embed.Footer.Text)
}

func TestStatus(t *testing.T) {
	c, gw := newTestChannel(t)

	c.handleCommand(context.Background(), guildMessage(testUser, "soph status playing chess"))
	require.Equal(t, []string{ErrNotOwner.Reply()}, gw.sent)
	require.Empty(t, gw.statuses)

	c.handleCommand(context.Background(), guildMessage(testOperator, "soph status Listening the rain"))
	require.Len(t, gw.statuses, 1)
	act := gw.statuses[0].Activities[0]
	require.Equal(t, discordgo.ActivityTypeListening, act.Type)
	require.Equal(t, "the rain", act.Name)

	c.handleCommand(context.Background(), guildMessage(testOperator, "soph status dancing wildly"))
	require.Equal(t, ErrBadArgument.Reply(), gw.sent[len(gw.sent)-1])
}

func TestHelp(t *testing.T) {
	c, gw := newTestChannel(t)
	c.handleCommand(context.Background(), guildMessage(testUser, "soph help"))
	require.Len(t, gw.embeds, 1)
	for _, name := range []string{"ping", "nick", "purge", "embed", "snipe", "status"} {
		require.Contains(t, gw.embeds[0].Description, "`soph "+name)
	}
}
