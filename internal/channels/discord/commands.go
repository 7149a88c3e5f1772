package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

const (
	colorTeal   = 0x1ABC9C
	colorPurple = 0x9B59B6
	colorNick   = 0x224B8B

	defaultPurgeAmount = 10000
	bulkDeleteMax      = 100
	// Discord refuses bulk deletes of messages older than two weeks.
	bulkDeleteMaxAge = 14*24*time.Hour - time.Minute
)

var memberMention = regexp.MustCompile(`^<@!?(\d+)>$`)
var snowflake = regexp.MustCompile(`^\d{15,21}$`)

var activityKinds = map[string]discordgo.ActivityType{
	"playing":   discordgo.ActivityTypeGame,
	"watching":  discordgo.ActivityTypeWatching,
	"listening": discordgo.ActivityTypeListening,
	"competing": discordgo.ActivityTypeCompeting,
}

// handleCommand runs a prefixed command. Returns true if the message was one.
func (c *Channel) handleCommand(ctx context.Context, m *discordgo.Message) bool {
	if !hasPrefixFold(m.Content, c.prefix) {
		return false
	}

	args := newArgReader(m.Content[len(c.prefix):])
	name := strings.ToLower(args.word())
	if name == "" {
		return true
	}

	var err error
	switch name {
	case "ping":
		err = c.cmdPing(ctx, m)
	case "nick":
		err = c.cmdNick(ctx, m, args)
	case "purge":
		err = c.cmdPurge(ctx, m, args)
	case "embed":
		err = c.cmdEmbed(ctx, m, args)
	case "snipe":
		err = c.cmdSnipe(ctx, m)
	case "status":
		err = c.cmdStatus(ctx, m, args)
	case "help":
		err = c.cmdHelp(ctx, m)
	default:
		err = cmdErr(ErrCommandNotFound, name, nil)
	}

	if err != nil {
		c.replyError(ctx, m, name, err)
	}
	return true
}

func (c *Channel) replyError(ctx context.Context, m *discordgo.Message, name string, err error) {
	kind := kindOf(err)
	slog.Warn("discord: command failed",
		"command", name,
		"kind", kind.String(),
		"user_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"error", err,
	)
	if _, sendErr := c.api.ChannelMessageSend(m.ChannelID, kind.Reply(), discordgo.WithContext(ctx)); sendErr != nil {
		slog.Warn("discord: command error reply failed", "command", name, "error", sendErr)
	}
}

func (c *Channel) sendEmbed(ctx context.Context, command, channelID string, embed *discordgo.MessageEmbed) error {
	if _, err := c.api.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return cmdErr(ErrInvokeFailed, command, err)
	}
	return nil
}

func (c *Channel) cmdPing(ctx context.Context, m *discordgo.Message) error {
	ms := c.api.HeartbeatLatency().Round(time.Millisecond).Milliseconds()
	return c.sendEmbed(ctx, "ping", m.ChannelID, &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Pong! Catch that :ping_pong:! %dms ", ms),
		Color: colorTeal,
	})
}

func (c *Channel) cmdNick(ctx context.Context, m *discordgo.Message, args *argReader) error {
	if err := c.requirePermission(ctx, "nick", m, discordgo.PermissionManageNicknames); err != nil {
		return err
	}

	target, ok, err := args.next()
	if err != nil {
		return err
	}
	if !ok {
		return cmdErr(ErrMissingRequiredArgument, "nick", errors.New("member is a required argument"))
	}
	nick := args.rest()
	if nick == "" {
		return cmdErr(ErrMissingRequiredArgument, "nick", errors.New("nick is a required argument"))
	}

	member, err := c.resolveMember(ctx, m.GuildID, target)
	if err != nil {
		return cmdErr(ErrBadArgument, "nick", err)
	}
	if err := c.api.GuildMemberNickname(m.GuildID, member.User.ID, nick, discordgo.WithContext(ctx)); err != nil {
		return cmdErr(ErrInvokeFailed, "nick", err)
	}

	slog.Info("discord.nickname_changed", "guild_id", m.GuildID, "member_id", member.User.ID, "by", m.Author.ID)
	return c.sendEmbed(ctx, "nick", m.ChannelID, &discordgo.MessageEmbed{
		Description: " :white_check_mark: | Nickname changed. ",
		Color:       colorNick,
	})
}

func (c *Channel) cmdPurge(ctx context.Context, m *discordgo.Message, args *argReader) error {
	if m.GuildID == "" {
		return cmdErr(ErrNoPrivateMessage, "purge", nil)
	}

	amount := defaultPurgeAmount
	raw, ok, err := args.next()
	if err != nil {
		return err
	}
	if ok {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return cmdErr(ErrBadArgument, "purge", fmt.Errorf("amount %q: %w", raw, convErr))
		}
		amount = n
	}
	if !args.eof() {
		return cmdErr(ErrTooManyArguments, "purge", nil)
	}

	if err := c.api.ChannelMessageDelete(m.ChannelID, m.ID, discordgo.WithContext(ctx)); err != nil {
		return cmdErr(ErrInvokeFailed, "purge", err)
	}

	// Without Manage Messages the command only removes the invocation.
	allowed, err := c.hasPermission(ctx, m, discordgo.PermissionManageMessages)
	if err != nil {
		return cmdErr(ErrInvokeFailed, "purge", err)
	}
	if !allowed {
		return nil
	}

	deleted, err := c.purge(ctx, m.ChannelID, amount)
	slog.Info("discord.purge", "channel_id", m.ChannelID, "by", m.Author.ID, "requested", amount, "deleted", deleted)
	if err != nil {
		return cmdErr(ErrInvokeFailed, "purge", err)
	}
	return nil
}

// purge deletes up to amount of the channel's most recent messages.
func (c *Channel) purge(ctx context.Context, channelID string, amount int) (int, error) {
	deleted := 0
	before := ""
	for deleted < amount {
		limit := min(bulkDeleteMax, amount-deleted)
		msgs, err := c.api.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return deleted, fmt.Errorf("list messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		before = msgs[len(msgs)-1].ID

		cutoff := time.Now().Add(-bulkDeleteMaxAge)
		recent := lo.Filter(msgs, func(msg *discordgo.Message, _ int) bool { return msg.Timestamp.After(cutoff) })
		old := lo.Filter(msgs, func(msg *discordgo.Message, _ int) bool { return !msg.Timestamp.After(cutoff) })

		if len(recent) > 1 {
			ids := lo.Map(recent, func(msg *discordgo.Message, _ int) string { return msg.ID })
			if err := c.api.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx)); err != nil {
				return deleted, fmt.Errorf("bulk delete: %w", err)
			}
			deleted += len(ids)
		} else {
			old = append(old, recent...)
		}

		for _, msg := range old {
			if err := c.api.ChannelMessageDelete(channelID, msg.ID, discordgo.WithContext(ctx)); err != nil {
				return deleted, fmt.Errorf("delete message %s: %w", msg.ID, err)
			}
			deleted++
		}

		if len(msgs) < limit {
			break
		}
	}
	return deleted, nil
}

func (c *Channel) cmdEmbed(ctx context.Context, m *discordgo.Message, args *argReader) error {
	if err := c.requirePermission(ctx, "embed", m, discordgo.PermissionManageMessages); err != nil {
		return err
	}
	text := args.rest()
	if text == "" {
		return cmdErr(ErrMissingRequiredArgument, "embed", errors.New("text is a required argument"))
	}
	return c.sendEmbed(ctx, "embed", m.ChannelID, &discordgo.MessageEmbed{Description: text})
}

func (c *Channel) cmdSnipe(ctx context.Context, m *discordgo.Message) error {
	last, ok := c.snipes.Last(m.ChannelID)
	if !ok {
		msg := fmt.Sprintf("%s, there's nothing to snipe!", m.Author.Username)
		if _, err := c.api.ChannelMessageSend(m.ChannelID, msg, discordgo.WithContext(ctx)); err != nil {
			return cmdErr(ErrInvokeFailed, "snipe", err)
		}
		return nil
	}
	return c.sendEmbed(ctx, "snipe", m.ChannelID, &discordgo.MessageEmbed{
		Title:       "Snipe:",
		Description: fmt.Sprintf("**Last Deleted Message:** \n%s \n - %s", last.Content, last.Author),
		Color:       colorPurple,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Snipe requested by " + m.Author.Username},
	})
}

func (c *Channel) cmdStatus(ctx context.Context, m *discordgo.Message, args *argReader) error {
	if !c.IsAllowed(m.Author.ID) {
		return cmdErr(ErrNotOwner, "status", nil)
	}

	rawKind, ok, err := args.next()
	if err != nil {
		return err
	}
	if !ok {
		return cmdErr(ErrMissingRequiredArgument, "status", errors.New("activity is a required argument"))
	}
	kind, known := activityKinds[strings.ToLower(rawKind)]
	if !known {
		return cmdErr(ErrBadArgument, "status", fmt.Errorf("unknown activity %q", rawKind))
	}
	text := args.rest()
	if text == "" {
		return cmdErr(ErrMissingRequiredArgument, "status", errors.New("text is a required argument"))
	}

	if err := c.setPresence(kind, text); err != nil {
		return cmdErr(ErrInvokeFailed, "status", err)
	}
	slog.Info("discord.presence_changed", "activity", rawKind, "text", text, "by", m.Author.ID)
	return c.sendEmbed(ctx, "status", m.ChannelID, &discordgo.MessageEmbed{
		Description: " :white_check_mark: | Status updated. ",
		Color:       colorNick,
	})
}

func (c *Channel) cmdHelp(ctx context.Context, m *discordgo.Message) error {
	p := strings.TrimSpace(c.prefix)
	lines := []string{
		fmt.Sprintf("`%s ping` - check the bot's latency", p),
		fmt.Sprintf("`%s nick <member> <nickname>` - change a member's nickname", p),
		fmt.Sprintf("`%s purge [amount]` - delete recent messages", p),
		fmt.Sprintf("`%s embed <text>` - post text as an embed", p),
		fmt.Sprintf("`%s snipe` - show the last deleted message", p),
		fmt.Sprintf("`%s status <playing|watching|listening|competing> <text>` - set the bot's status", p),
	}
	return c.sendEmbed(ctx, "help", m.ChannelID, &discordgo.MessageEmbed{
		Title:       "Commands",
		Description: strings.Join(lines, "\n"),
		Color:       colorTeal,
	})
}

// requirePermission fails unless the author holds perm in the channel.
func (c *Channel) requirePermission(ctx context.Context, command string, m *discordgo.Message, perm int64) error {
	if m.GuildID == "" {
		return cmdErr(ErrNoPrivateMessage, command, nil)
	}
	ok, err := c.hasPermission(ctx, m, perm)
	if err != nil {
		return cmdErr(ErrCheckFailure, command, err)
	}
	if !ok {
		return cmdErr(ErrMissingPermissions, command, nil)
	}
	return nil
}

func (c *Channel) hasPermission(ctx context.Context, m *discordgo.Message, perm int64) (bool, error) {
	perms, err := c.api.UserChannelPermissions(m.Author.ID, m.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("channel permissions: %w", err)
	}
	return perms&perm == perm || perms&discordgo.PermissionAdministrator != 0, nil
}

// resolveMember accepts a mention, a user ID, or a username / nickname / display name.
func (c *Channel) resolveMember(ctx context.Context, guildID, arg string) (*discordgo.Member, error) {
	id := ""
	if sm := memberMention.FindStringSubmatch(arg); sm != nil {
		id = sm[1]
	} else if snowflake.MatchString(arg) {
		id = arg
	}
	if id != "" {
		member, err := c.api.GuildMember(guildID, id, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("member %q not found: %w", arg, err)
		}
		return member, nil
	}

	query, _, _ := strings.Cut(arg, "#")
	candidates, err := c.api.GuildMembersSearch(guildID, query, 10, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("search members %q: %w", arg, err)
	}
	member, ok := lo.Find(candidates, func(mem *discordgo.Member) bool {
		if mem == nil || mem.User == nil {
			return false
		}
		return arg == authorTag(mem.User) || arg == mem.User.Username || arg == displayName(mem, mem.User)
	})
	if !ok {
		return nil, fmt.Errorf("member %q not found", arg)
	}
	return member, nil
}
