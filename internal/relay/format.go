// Package relay moves messages between Discord and email: it renders chat
// messages into notifications and routes inbound mail back into channels.
package relay

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/pkg/protocol"
)

const (
	// SubjectPrefix tags every outbound notification so replies can be routed back.
	SubjectPrefix = "[Discord]"

	// InboundSignature marks messages that arrived by email.
	InboundSignature = "\n\n> sent from my email"

	timestampLayout = "2006-01-02 15:04:05 UTC"
	separator       = "-------------------"
)

var htmlTag = regexp.MustCompile(`<[^<]+?>`)

// Subject renders the notification subject for a chat message.
func Subject(channelName, authorName string) string {
	return fmt.Sprintf("%s #%s - %s", SubjectPrefix, channelName, authorName)
}

// Permalink returns the jump URL of a guild message.
func Permalink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// NotificationBody renders the plain-text email body for a chat message.
func NotificationBody(msg bus.ChatMessage) string {
	author := msg.AuthorTag
	if author == "" {
		author = msg.AuthorName
	}
	link := msg.Permalink
	if link == "" {
		link = Permalink(msg.GuildID, msg.ChannelID, msg.ID)
	}

	var b strings.Builder
	b.WriteString(msg.Content)
	b.WriteString("\n")
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Channel: #%s (ID: %s)\n", msg.ChannelName, msg.ChannelID)
	fmt.Fprintf(&b, "Author : %s (ID: %s)\n", author, msg.AuthorID)
	fmt.Fprintf(&b, "Time   : %s\n", msg.Timestamp.UTC().Format(timestampLayout))
	fmt.Fprintf(&b, "Link   : %s\n", link)
	b.WriteString("\n")
	return b.String()
}

// InboundText appends the email signature to a forwarded body.
func InboundText(body string) string {
	return body + InboundSignature
}

// StripHTML removes markup tags. Entities are left as-is.
func StripHTML(s string) string {
	return htmlTag.ReplaceAllString(s, "")
}

// MailBody picks the best text variant of an inbound email body:
// stripped plaintext, plaintext, then the HTML variants with tags removed.
func MailBody(body protocol.EmailBody) string {
	if body.StrippedPlaintext != "" {
		return body.StrippedPlaintext
	}
	if body.Plaintext != "" {
		return body.Plaintext
	}
	html := body.StrippedHTML
	if html == "" {
		html = body.HTML
	}
	if html == "" {
		return ""
	}
	return StripHTML(html)
}

// MailFromPayload converts a webhook payload into an inbound mail.
func MailFromPayload(p protocol.InboundEmail) bus.InboundMail {
	mail := bus.InboundMail{
		From:           p.Header("From", "Unknown"),
		Subject:        p.Header("Subject", "No Subject"),
		Body:           MailBody(p.Body),
		Attachments:    len(p.Attachments),
		EnvelopeSender: p.EnvelopeSender,
		Recipients:     p.Recipients,
		Domain:         p.Domain,
		IsSpam:         p.IsSpam,
		Source:         "webhook",
	}
	if p.ProcessedAt > 0 {
		mail.Date = time.Unix(p.ProcessedAt, 0).UTC()
	}
	return mail
}
