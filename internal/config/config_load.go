package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// DefaultOperatorIDs are the Discord accounts trusted with operator commands
// when the config does not name any.
var DefaultOperatorIDs = FlexibleStringSlice{"704038199776903209", "701792352301350973"}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			CommandPrefix:    "soph ",
			GuildID:          "1405628370301091860",
			OperatorIDs:      DefaultOperatorIDs,
			AvatarUserID:     "704038199776903209",
			WebhookName:      "sophia",
			PresenceText:     " the AI & Data Science Club!",
			MessageCacheSize: 200,
		},
		Mail: MailConfig{
			Provider: "maileroo",
			Maileroo: MailerooConfig{
				APIURL:   "https://smtp.maileroo.com/api/v2/emails",
				FromName: "Discord Bot",
			},
			SMTP: SMTPConfig{
				Port: 587,
			},
			TimeoutSec: 10,
		},
		Inbound: InboundConfig{
			IMAP: IMAPConfig{
				Port:        993,
				Mailbox:     "INBOX",
				PollSeconds: 60,
			},
		},
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadyTimeoutMs:    15000,
			ReadyPollMs:       500,
			WebhookRateLimit:  30,
			MaxBodyBytes:      1 << 20,
			ShutdownTimeoutMs: 5000,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "sophbot",
		},
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Missing files are skipped; variables already set are never overwritten.
func LoadDotEnv(paths ...string) []string {
	var loaded []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("failed to load env file", "path", p, "error", err)
			continue
		}
		loaded = append(loaded, p)
	}
	return loaded
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. The unprefixed names are the
// ones older deployments were configured with and are still honoured.
func (c *Config) applyEnvOverrides() {
	envStr := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	envInt := func(dst *int, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					*dst = n
					return
				}
			}
		}
	}
	envBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Discord
	envStr(&c.Discord.Token, "SOPHBOT_DISCORD_TOKEN", "token")
	envStr(&c.Discord.GuildID, "SOPHBOT_DISCORD_GUILD_ID", "DISCORD_GUILD_ID")
	envStr(&c.Discord.FallbackChannelID, "SOPHBOT_DISCORD_CHANNEL_ID", "DISCORD_CHANNEL_ID")
	envStr(&c.Discord.CommandPrefix, "SOPHBOT_COMMAND_PREFIX")
	envStr(&c.Discord.WebhookName, "SOPHBOT_WEBHOOK_NAME")
	envStr(&c.Discord.AvatarUserID, "SOPHBOT_AVATAR_USER_ID")
	if v := os.Getenv("SOPHBOT_OPERATOR_IDS"); v != "" {
		c.Discord.OperatorIDs = splitList(v)
	}

	// Outbound mail
	envStr(&c.Mail.Provider, "SOPHBOT_MAIL_PROVIDER")
	envStr(&c.Mail.Maileroo.APIKey, "SOPHBOT_MAILEROO_API_KEY", "MAILEROO_API_KEY")
	envStr(&c.Mail.Maileroo.APIURL, "SOPHBOT_MAILEROO_API_URL", "MAILEROO_API_URL")
	envStr(&c.Mail.Maileroo.FromEmail, "SOPHBOT_MAILEROO_FROM_EMAIL", "MAILEROO_FROM_EMAIL")
	envStr(&c.Mail.Maileroo.FromName, "SOPHBOT_MAILEROO_FROM_NAME", "MAILEROO_FROM_NAME")
	envStr(&c.Mail.Maileroo.ToEmail, "SOPHBOT_MAILEROO_TO_EMAIL", "MAILEROO_TO_EMAIL")
	envStr(&c.Mail.SMTP.Host, "SOPHBOT_SMTP_HOST")
	envInt(&c.Mail.SMTP.Port, "SOPHBOT_SMTP_PORT")
	envStr(&c.Mail.SMTP.Username, "SOPHBOT_SMTP_USERNAME")
	envStr(&c.Mail.SMTP.Password, "SOPHBOT_SMTP_PASSWORD")
	envStr(&c.Mail.SMTP.From, "SOPHBOT_SMTP_FROM")
	if v := os.Getenv("SOPHBOT_SMTP_TO"); v != "" {
		c.Mail.SMTP.To = splitList(v)
	}
	envInt(&c.Mail.TimeoutSec, "SOPHBOT_MAIL_TIMEOUT_SEC")
	envInt(&c.Mail.RatePerMinute, "SOPHBOT_MAIL_RATE_PER_MINUTE")

	// Inbound
	envBool(&c.Inbound.Webhook.Disabled, "SOPHBOT_WEBHOOK_DISABLED")
	envStr(&c.Inbound.IMAP.Host, "SOPHBOT_IMAP_HOST")
	envInt(&c.Inbound.IMAP.Port, "SOPHBOT_IMAP_PORT")
	envStr(&c.Inbound.IMAP.Username, "SOPHBOT_IMAP_USERNAME")
	envStr(&c.Inbound.IMAP.Password, "SOPHBOT_IMAP_PASSWORD")
	envStr(&c.Inbound.IMAP.Mailbox, "SOPHBOT_IMAP_MAILBOX")
	envInt(&c.Inbound.IMAP.PollSeconds, "SOPHBOT_IMAP_POLL_SECONDS")

	// Gateway host/port
	envStr(&c.Gateway.Host, "SOPHBOT_HOST")
	envInt(&c.Gateway.Port, "SOPHBOT_PORT", "PORT")
	envInt(&c.Gateway.ReadyTimeoutMs, "SOPHBOT_READY_TIMEOUT_MS")

	// Telemetry
	envStr(&c.Telemetry.Endpoint, "SOPHBOT_TELEMETRY_ENDPOINT")
	envStr(&c.Telemetry.Protocol, "SOPHBOT_TELEMETRY_PROTOCOL")
	envStr(&c.Telemetry.ServiceName, "SOPHBOT_TELEMETRY_SERVICE_NAME")
	envBool(&c.Telemetry.Enabled, "SOPHBOT_TELEMETRY_ENABLED")
	envBool(&c.Telemetry.Insecure, "SOPHBOT_TELEMETRY_INSECURE")
}

// applyDefaults fills fields a config file may have blanked out.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = d.Discord.CommandPrefix
	}
	if c.Discord.WebhookName == "" {
		c.Discord.WebhookName = d.Discord.WebhookName
	}
	if len(c.Discord.OperatorIDs) == 0 {
		c.Discord.OperatorIDs = d.Discord.OperatorIDs
	}
	if c.Mail.Provider == "" {
		c.Mail.Provider = d.Mail.Provider
	}
	if c.Mail.Maileroo.APIURL == "" {
		c.Mail.Maileroo.APIURL = d.Mail.Maileroo.APIURL
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = d.Telemetry.Protocol
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field formats. Missing credentials are not errors: the
// features that need them are disabled at boot instead.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 fingerprint of the config.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	for _, s := range cp.secrets() {
		maskNonEmpty(s)
	}
	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk so secrets live only in env files.
func (c *Config) StripSecrets() {
	for _, s := range c.secrets() {
		*s = ""
	}
}

// Secrets returns the secret fields keyed by their env var name.
func (c *Config) Secrets() map[string]string {
	return map[string]string{
		"SOPHBOT_DISCORD_TOKEN":    c.Discord.Token,
		"SOPHBOT_MAILEROO_API_KEY": c.Mail.Maileroo.APIKey,
		"SOPHBOT_SMTP_PASSWORD":    c.Mail.SMTP.Password,
		"SOPHBOT_IMAP_PASSWORD":    c.Inbound.IMAP.Password,
	}
}

func (c *Config) secrets() []*string {
	return []*string{
		&c.Discord.Token,
		&c.Mail.Maileroo.APIKey,
		&c.Mail.SMTP.Password,
		&c.Inbound.IMAP.Password,
	}
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
