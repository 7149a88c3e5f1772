package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/pkg/protocol"
)

func TestSubject(t *testing.T) {
	require.Equal(t, "[Discord] #general - alice", Subject("general", "alice"))
}

func TestNotificationBody(t *testing.T) {
	msg := bus.ChatMessage{
		ID:          "300",
		GuildID:     "100",
		ChannelID:   "200",
		ChannelName: "general",
		AuthorID:    "42",
		AuthorName:  "alice",
		Content:     "hello club",
		Timestamp:   time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600)),
	}

	want := "hello club\n" +
		"-------------------\n" +
		"Channel: #general (ID: 200)\n" +
		"Author : alice (ID: 42)\n" +
		"Time   : 2025-03-04 04:06:07 UTC\n" +
		"Link   : https://discord.com/channels/100/200/300\n" +
		"\n"
	require.Equal(t, want, NotificationBody(msg))
}

func TestNotificationSubjectRoundTrips(t *testing.T) {
	for _, name := range []string{"general", "announcements", "ai_club"} {
		got, ok := ParseChannelName("Re: " + Subject(name, "some-user"))
		require.True(t, ok)
		require.Equal(t, name, got)
	}
}

func TestInboundText(t *testing.T) {
	require.Equal(t, "hi\n\n> sent from my email", InboundText("hi"))
}

func TestMailBody(t *testing.T) {
	cases := []struct {
		name string
		body protocol.EmailBody
		want string
	}{
		{"stripped plaintext wins", protocol.EmailBody{StrippedPlaintext: "a", Plaintext: "b", HTML: "<p>c</p>"}, "a"},
		{"plaintext next", protocol.EmailBody{Plaintext: "b", HTML: "<p>c</p>"}, "b"},
		{"stripped html", protocol.EmailBody{StrippedHTML: "<b>bold</b> text", HTML: "<p>c</p>"}, "bold text"},
		{"html", protocol.EmailBody{HTML: "<div><p>hello</p></div>"}, "hello"},
		{"empty", protocol.EmailBody{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MailBody(tc.body))
		})
	}
}

func TestMailFromPayload(t *testing.T) {
	req := require.New(t)
	now := time.Unix(1_700_000_000, 0)
	p := protocol.SampleInboundEmail("general", "bob@example.com", "reply text", now)
	p.Attachments = []protocol.Attachment{{Filename: "a.png"}}

	mail := MailFromPayload(p)
	req.Equal("bob@example.com", mail.From)
	req.Equal("Re: [Discord] #general - sophi_a", mail.Subject)
	req.Equal("reply text", mail.Body)
	req.Equal(1, mail.Attachments)
	req.Equal("webhook", mail.Source)
	req.True(mail.Date.Equal(now))

	empty := MailFromPayload(protocol.InboundEmail{})
	req.Equal("Unknown", empty.From)
	req.Equal("No Subject", empty.Subject)
}
