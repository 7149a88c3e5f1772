package relay

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// fakeGateway is an in-memory Discord guild.
type fakeGateway struct {
	mu sync.Mutex

	channels    []*discordgo.Channel
	webhooks    map[string][]*discordgo.Webhook // channel ID → hooks
	listErr     error
	hooksErr    error
	createErr   error
	fallbackErr error

	// failSend marks 0-based send call numbers that fail.
	failSend map[int]bool

	creates  int
	avatars  []string
	sent     []sentMessage
	sendCall int
}

type sentMessage struct {
	ChannelID string
	WebhookID string
	Content   string
}

func newFakeGateway(channels ...*discordgo.Channel) *fakeGateway {
	return &fakeGateway{
		channels: channels,
		webhooks: make(map[string][]*discordgo.Webhook),
		failSend: make(map[int]bool),
	}
}

func textChannel(id, name string) *discordgo.Channel {
	return &discordgo.Channel{ID: id, GuildID: "g1", Name: name, Type: discordgo.ChannelTypeGuildText}
}

func (f *fakeGateway) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.channels, nil
}

func (f *fakeGateway) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.fallbackErr != nil {
		return nil, f.fallbackErr
	}
	for _, c := range f.channels {
		if c.ID == channelID {
			return c, nil
		}
	}
	return nil, restError(http.StatusNotFound, 10003)
}

func (f *fakeGateway) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	if f.hooksErr != nil {
		return nil, f.hooksErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.webhooks[channelID], nil
}

func (f *fakeGateway) WebhookCreate(channelID, name, avatar string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.avatars = append(f.avatars, avatar)
	hook := &discordgo.Webhook{
		ID:        fmt.Sprintf("wh-%d", f.creates),
		ChannelID: channelID,
		Name:      name,
		Token:     "tok",
	}
	f.webhooks[channelID] = append(f.webhooks[channelID], hook)
	return hook, nil
}

func (f *fakeGateway) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.record(sentMessage{WebhookID: webhookID, Content: data.Content})
}

func (f *fakeGateway) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.record(sentMessage{ChannelID: channelID, Content: content})
}

func (f *fakeGateway) record(m sentMessage) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.sendCall
	f.sendCall++
	if f.failSend[n] {
		return nil, errors.New("send failed")
	}
	f.sent = append(f.sent, m)
	return &discordgo.Message{ID: fmt.Sprintf("m-%d", n), Content: m.Content}, nil
}

func restError(status, code int) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "error"},
	}
}
