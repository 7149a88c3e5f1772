package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Discord snowflakes are often pasted as bare numbers.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the bot.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Mail      MailConfig      `json:"mail"`
	Inbound   InboundConfig   `json:"inbound"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host              string `json:"host" validate:"required"`
	Port              int    `json:"port" validate:"min=1,max=65535"`
	ReadyTimeoutMs    int    `json:"ready_timeout_ms,omitempty" validate:"gte=0"`    // bounded wait for the chat loop (default 15000)
	ReadyPollMs       int    `json:"ready_poll_ms,omitempty" validate:"gte=0"`       // readiness poll interval (default 500)
	WebhookRateLimit  int    `json:"webhook_rate_limit,omitempty" validate:"gte=0"`  // max webhook hits per IP per minute (0 = disabled)
	MaxBodyBytes      int64  `json:"max_body_bytes,omitempty" validate:"gte=0"`      // webhook body cap (default 1 MiB)
	ShutdownTimeoutMs int    `json:"shutdown_timeout_ms,omitempty" validate:"gte=0"` // graceful shutdown budget (default 5000)
}

// ReadyTimeout returns the bounded readiness wait.
func (g GatewayConfig) ReadyTimeout() time.Duration {
	return msOr(g.ReadyTimeoutMs, 15*time.Second)
}

// ReadyPoll returns the readiness poll interval.
func (g GatewayConfig) ReadyPoll() time.Duration {
	return msOr(g.ReadyPollMs, 500*time.Millisecond)
}

// ShutdownTimeout returns the graceful shutdown budget.
func (g GatewayConfig) ShutdownTimeout() time.Duration {
	return msOr(g.ShutdownTimeoutMs, 5*time.Second)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`                                       // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`                                      // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty" validate:"omitempty,oneof=grpc http"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`                                      // plaintext transport (local dev)
	ServiceName string            `json:"service_name,omitempty"`                                  // default "sophbot"
	Headers     map[string]string `json:"headers,omitempty"`                                       // extra headers (auth tokens for cloud backends)
}

// IsBotEnabled reports whether a Discord token is configured.
func (c *Config) IsBotEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Discord.Token != ""
}

// IsForwardingEnabled reports whether email → Discord forwarding is configured.
func (c *Config) IsForwardingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Discord.GuildID != ""
}

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
