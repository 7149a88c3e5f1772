package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/internal/channels"
	"github.com/ytsclub/sophbot/internal/config"
	"github.com/ytsclub/sophbot/internal/relay"
)

const defaultPresence = " the AI & Data Science Club!"

// Notifier sends a chat notification out of band. *notify.Dispatcher satisfies it.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) bool
}

// Channel connects to Discord via the Bot API using gateway events.
// Every event is handled on the chat loop.
type Channel struct {
	*channels.BaseChannel
	session  *discordgo.Session // nil in tests
	api      Gateway
	config   config.DiscordConfig
	loop     *bus.Loop
	notifier Notifier
	snipes   *SnipeCache
	prefix   string
	mirror   bool

	// Owned by the loop goroutine.
	botUserID string

	baseCtx context.Context
}

// New creates a Discord channel. The session is not opened until Start.
func New(cfg config.DiscordConfig, loop *bus.Loop, notifier Notifier) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	// Handlers only enqueue; running them in event order keeps the queue in
	// gateway order.
	session.SyncEvents = true

	// The message cache lets delete events carry the deleted message.
	if cfg.MessageCacheSize > 0 {
		session.State.MaxMessageCount = cfg.MessageCacheSize
	}

	c := newChannel(session, cfg, loop, notifier)
	c.session = session
	return c, nil
}

func newChannel(api Gateway, cfg config.DiscordConfig, loop *bus.Loop, notifier Notifier) *Channel {
	prefix := cfg.CommandPrefix
	if prefix == "" {
		prefix = "soph "
	}
	mirror := true
	if cfg.MirrorMessages != nil {
		mirror = *cfg.MirrorMessages
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", cfg.OperatorIDs),
		api:         api,
		config:      cfg,
		loop:        loop,
		notifier:    notifier,
		snipes:      NewSnipeCache(),
		prefix:      prefix,
		mirror:      mirror,
		baseCtx:     context.Background(),
	}
}

// Session returns the underlying discordgo session.
func (c *Channel) Session() *discordgo.Session { return c.session }

// Start starts the chat loop and opens the Discord gateway connection.
// On failure the loop is closed, so readiness waits fail fast.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting discord bot")
	c.baseCtx = ctx

	if err := c.loop.Start(ctx); err != nil {
		return fmt.Errorf("start chat loop: %w", err)
	}

	c.session.AddHandler(c.onReady)
	c.session.AddHandler(c.onMessageCreate)
	c.session.AddHandler(c.onMessageDelete)

	if err := c.session.Open(); err != nil {
		c.loop.Close()
		return fmt.Errorf("open discord session: %w", err)
	}

	c.SetRunning(true)
	return nil
}

// Stop closes the chat loop and the Discord gateway connection.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	c.loop.Close()
	// Let the job in flight finish before the session goes away.
	select {
	case <-c.loop.Done():
	case <-ctx.Done():
		slog.Warn("discord: chat loop still busy at shutdown")
	}
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

func (c *Channel) post(name string, run func(ctx context.Context) error) {
	if _, err := c.loop.Post(bus.Job{Name: name, Run: run}); err != nil {
		slog.Warn("discord: event dropped", "event", name, "error", err)
	}
}

func (c *Channel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.post("ready", func(ctx context.Context) error {
		c.handleReady(r)
		return nil
	})
}

func (c *Channel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	c.post("message-create", func(ctx context.Context) error {
		c.handleMessage(ctx, m.Message)
		return nil
	})
}

func (c *Channel) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	c.post("message-delete", func(ctx context.Context) error {
		c.handleDelete(m)
		return nil
	})
}

func (c *Channel) handleReady(r *discordgo.Ready) {
	if r.User != nil {
		c.botUserID = r.User.ID
		slog.Info("discord bot connected", "username", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
	}

	presence := c.config.PresenceText
	if presence == "" {
		presence = defaultPresence
	}
	if err := c.setPresence(discordgo.ActivityTypeWatching, presence); err != nil {
		slog.Warn("discord: set presence failed", "error", err)
	}

	if c.loop.MarkReady() {
		slog.Info("discord bot ready")
	}
}

func (c *Channel) setPresence(kind discordgo.ActivityType, text string) error {
	return c.api.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status:     string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{Name: text, Type: kind}},
	})
}

// handleMessage mirrors guild messages to email, then runs commands.
func (c *Channel) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.ID == c.botUserID {
		return
	}

	if c.mirror && c.config.GuildID != "" && m.GuildID == c.config.GuildID {
		c.mirrorMessage(ctx, m)
	}

	c.handleCommand(ctx, m)
}

func (c *Channel) mirrorMessage(ctx context.Context, m *discordgo.Message) {
	chat := c.chatMessage(ctx, m)

	slog.Debug("discord message received",
		"channel", chat.ChannelName,
		"author", chat.AuthorName,
		"preview", channels.Truncate(chat.Content, 50),
	)

	if c.notifier == nil {
		return
	}
	subject := relay.Subject(chat.ChannelName, chat.AuthorName)
	body := relay.NotificationBody(chat)

	// Off the loop: the notification never touches the gateway and must not
	// hold up the next event.
	notifyCtx := c.baseCtx
	go c.notifier.Notify(notifyCtx, subject, body)
}

func (c *Channel) chatMessage(ctx context.Context, m *discordgo.Message) bus.ChatMessage {
	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}

	return bus.ChatMessage{
		ID:          m.ID,
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		ChannelName: c.channelName(ctx, m.ChannelID),
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		AuthorTag:   authorTag(m.Author),
		Content:     content,
		Timestamp:   m.Timestamp,
		Permalink:   relay.Permalink(m.GuildID, m.ChannelID, m.ID),
	}
}

// channelName prefers the state cache and falls back to the REST API.
func (c *Channel) channelName(ctx context.Context, channelID string) string {
	if c.session != nil && c.session.State != nil {
		if ch, err := c.session.State.Channel(channelID); err == nil && ch != nil {
			return ch.Name
		}
	}
	ch, err := c.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil || ch == nil {
		slog.Debug("discord: channel lookup failed", "channel_id", channelID, "error", err)
		return channelID
	}
	return ch.Name
}

func (c *Channel) handleDelete(m *discordgo.MessageDelete) {
	before := m.BeforeDelete
	if before == nil {
		// Not in the state cache: nothing to remember.
		return
	}
	deleted := DeletedMessage{Content: before.Content, DeletedAt: time.Now().UTC()}
	if before.Author != nil {
		deleted.Author = authorTag(before.Author)
		deleted.AuthorID = before.Author.ID
	}
	channelID := before.ChannelID
	if m.Message != nil && m.ChannelID != "" {
		channelID = m.ChannelID
	}
	c.snipes.Record(channelID, deleted)
}

// authorTag renders a user the way Discord shows them: "name" for migrated
// accounts, "name#1234" for legacy discriminators.
func authorTag(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// displayName returns the best available display name: server nickname,
// then global display name, then username.
func displayName(member *discordgo.Member, u *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
