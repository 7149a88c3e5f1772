package discord

import "time"

// DeletedMessage is the last message removed from a channel.
type DeletedMessage struct {
	Content   string
	Author    string // display form, e.g. "alice" or "alice#1234"
	AuthorID  string
	DeletedAt time.Time
}

// SnipeCache remembers the last deleted message per channel.
// Only touched from the chat loop, so it has no lock.
type SnipeCache struct {
	last map[string]DeletedMessage
}

func NewSnipeCache() *SnipeCache {
	return &SnipeCache{last: make(map[string]DeletedMessage)}
}

// Record overwrites the channel's entry.
func (c *SnipeCache) Record(channelID string, msg DeletedMessage) {
	c.last[channelID] = msg
}

// Last returns the channel's most recent deleted message.
func (c *SnipeCache) Last(channelID string) (DeletedMessage, bool) {
	msg, ok := c.last[channelID]
	return msg, ok
}
