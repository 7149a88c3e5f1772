package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// fakeGateway records every REST call the channel makes.
type fakeGateway struct {
	mu sync.Mutex

	channels []*discordgo.Channel
	members  []*discordgo.Member
	history  []*discordgo.Message // newest first
	perms    map[string]int64     // user ID → permissions
	permsErr error
	nickErr  error
	latency  time.Duration

	sent       []string
	embeds     []*discordgo.MessageEmbed
	deleted    []string
	bulk       [][]string
	nicknames  map[string]string
	statuses   []discordgo.UpdateStatusData
	searches   []string
	historyReq int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		perms:     make(map[string]int64),
		nicknames: make(map[string]string),
	}
}

func (f *fakeGateway) GuildChannels(string, ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeGateway) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	for _, c := range f.channels {
		if c.ID == channelID {
			return c, nil
		}
	}
	return nil, errors.New("unknown channel")
}

func (f *fakeGateway) ChannelWebhooks(string, ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	return nil, nil
}

func (f *fakeGateway) WebhookCreate(channelID, name, _ string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	return &discordgo.Webhook{ID: "wh", ChannelID: channelID, Name: name, Token: "tok"}, nil
}

func (f *fakeGateway) WebhookExecute(_, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.ChannelMessageSend("", data.Content)
}

func (f *fakeGateway) ChannelMessageSend(_ string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return &discordgo.Message{Content: content}, nil
}

func (f *fakeGateway) ChannelMessageSendEmbed(_ string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeds = append(f.embeds, embed)
	return &discordgo.Message{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (f *fakeGateway) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeGateway) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.historyReq++
	start := 0
	if beforeID != "" {
		start = len(f.history)
		for i, m := range f.history {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(f.history))
	if start >= end {
		return nil, nil
	}
	out := make([]*discordgo.Message, end-start)
	copy(out, f.history[start:end])
	return out, nil
}

func (f *fakeGateway) ChannelMessagesBulkDelete(_ string, ids []string, _ ...discordgo.RequestOption) error {
	if len(ids) < 2 || len(ids) > 100 {
		return fmt.Errorf("bulk delete needs 2-100 messages, got %d", len(ids))
	}
	f.bulk = append(f.bulk, ids)
	return nil
}

func (f *fakeGateway) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	for _, m := range f.members {
		if m.User.ID == userID {
			return m, nil
		}
	}
	return nil, &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: 10007, Message: "Unknown Member"},
	}
}

func (f *fakeGateway) GuildMembersSearch(_, query string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.searches = append(f.searches, query)
	var out []*discordgo.Member
	for _, m := range f.members {
		if strings.HasPrefix(strings.ToLower(m.User.Username), strings.ToLower(query)) ||
			strings.HasPrefix(strings.ToLower(m.Nick), strings.ToLower(query)) {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeGateway) GuildMemberNickname(_, userID, nickname string, _ ...discordgo.RequestOption) error {
	if f.nickErr != nil {
		return f.nickErr
	}
	f.nicknames[userID] = nickname
	return nil
}

func (f *fakeGateway) UserChannelPermissions(userID, _ string, _ ...discordgo.RequestOption) (int64, error) {
	if f.permsErr != nil {
		return 0, f.permsErr
	}
	return f.perms[userID], nil
}

func (f *fakeGateway) UpdateStatusComplex(usd discordgo.UpdateStatusData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, usd)
	return nil
}

func (f *fakeGateway) HeartbeatLatency() time.Duration { return f.latency }

// recordingNotifier captures mirrored notifications.
type recordingNotifier struct {
	got chan [2]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{got: make(chan [2]string, 8)}
}

func (n *recordingNotifier) Notify(_ context.Context, subject, body string) bool {
	n.got <- [2]string{subject, body}
	return true
}
