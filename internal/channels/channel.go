// Package channels provides the lifecycle abstraction shared by the bot's
// message sources: the Discord gateway connection and the IMAP mailbox poller.
package channels

import (
	"context"
	"strings"
	"sync/atomic"
)

// Channel is a long-running message source.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "imap").
	Name() string

	// Start begins listening. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
// Implementations should embed it.
type BaseChannel struct {
	name      string
	running   atomic.Bool
	allowList []string
}

// NewBaseChannel creates a BaseChannel. allowList names the user IDs trusted
// with privileged operations; empty means nobody is.
func NewBaseChannel(name string, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// IsAllowed checks if a sender is on the allowlist.
// Supports compound senderID format "123456|username" and "@"-prefixed entries.
// Unlike an open policy, an empty allowlist allows nobody.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	idPart := senderID
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == trimmed || idPart == trimmed {
			return true
		}
		if idx := strings.Index(trimmed, "|"); idx > 0 && idPart == trimmed[:idx] {
			return true
		}
	}
	return false
}

// Truncate shortens a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
