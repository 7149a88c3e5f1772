package config

import "time"

// DiscordConfig configures the Discord bot.
type DiscordConfig struct {
	Token             string              `json:"token"`
	CommandPrefix     string              `json:"command_prefix,omitempty"`                                   // default "soph " (matched case-insensitively)
	GuildID           string              `json:"guild_id,omitempty" validate:"omitempty,numeric"`            // guild mirrored to email and searched for reply channels
	FallbackChannelID string              `json:"fallback_channel_id,omitempty" validate:"omitempty,numeric"` // used when the subject names no known channel
	OperatorIDs       FlexibleStringSlice `json:"operator_ids,omitempty" validate:"dive,numeric"`             // users allowed to run operator commands
	AvatarUserID      string              `json:"avatar_user_id,omitempty" validate:"omitempty,numeric"`      // member whose avatar seeds the relay webhook
	WebhookName       string              `json:"webhook_name,omitempty"`                                     // impersonation identity name (default "sophia")
	PresenceText      string              `json:"presence_text,omitempty"`                                    // "Watching <text>" shown on ready
	MessageCacheSize  int                 `json:"message_cache_size,omitempty" validate:"gte=0"`              // state cache per channel, feeds snipe (default 200)
	MirrorMessages    *bool               `json:"mirror_messages,omitempty"`                                  // email every guild message (default true)
}

// MailConfig configures the outbound notification transport.
type MailConfig struct {
	Provider      string         `json:"provider,omitempty" validate:"omitempty,oneof=maileroo smtp"` // "maileroo" (default) or "smtp"
	Maileroo      MailerooConfig `json:"maileroo"`
	SMTP          SMTPConfig     `json:"smtp"`
	TimeoutSec    int            `json:"timeout_sec,omitempty" validate:"gte=0"`     // per-notification budget (default 10)
	RatePerMinute int            `json:"rate_per_minute,omitempty" validate:"gte=0"` // outbound token bucket (0 = unlimited)
}

// Timeout returns the per-notification budget.
func (m MailConfig) Timeout() time.Duration {
	if m.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.TimeoutSec) * time.Second
}

// IsConfigured reports whether the selected provider has the credentials it needs.
func (m MailConfig) IsConfigured() bool {
	switch m.Provider {
	case "smtp":
		return m.SMTP.Host != "" && m.SMTP.From != "" && len(m.SMTP.To) > 0
	default:
		return m.Maileroo.APIKey != "" && m.Maileroo.FromEmail != "" && m.Maileroo.ToEmail != ""
	}
}

type MailerooConfig struct {
	APIKey    string `json:"api_key"`
	APIURL    string `json:"api_url,omitempty" validate:"omitempty,url"`
	FromEmail string `json:"from_email,omitempty" validate:"omitempty,email"`
	FromName  string `json:"from_name,omitempty"`
	ToEmail   string `json:"to_email,omitempty" validate:"omitempty,email"`
}

// SMTPConfig sends through a plain SMTP relay. To may list carrier MMS gateway
// addresses (e.g. 5551234567@mms.att.net) to deliver as picture messages.
type SMTPConfig struct {
	Host     string              `json:"host,omitempty" validate:"omitempty,hostname|ip"`
	Port     int                 `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username string              `json:"username,omitempty"`
	Password string              `json:"password"`
	From     string              `json:"from,omitempty"`
	To       FlexibleStringSlice `json:"to,omitempty" validate:"dive,email"`
}

// InboundConfig configures the email → Discord sources.
type InboundConfig struct {
	Webhook WebhookInboundConfig `json:"webhook"`
	IMAP    IMAPConfig           `json:"imap"`
}

type WebhookInboundConfig struct {
	Disabled bool `json:"disabled,omitempty"` // turn off POST /email-webhook forwarding
}

// IMAPConfig polls a mailbox for replies as an alternative to the webhook.
type IMAPConfig struct {
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"` // default 993
	Username      string `json:"username,omitempty"`
	Password      string `json:"password"`
	Mailbox       string `json:"mailbox,omitempty"`                       // default "INBOX"
	PollSeconds   int    `json:"poll_seconds,omitempty" validate:"gte=0"` // default 60
	TLSSkipVerify bool   `json:"tls_skip_verify,omitempty"`
}

// IsConfigured reports whether mailbox polling can run.
func (i IMAPConfig) IsConfigured() bool {
	return i.Host != "" && i.Username != "" && i.Password != ""
}
