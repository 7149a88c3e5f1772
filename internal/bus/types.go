package bus

import (
	"context"
	"time"
)

// ChatMessage is a message observed on the chat gateway, reduced to the fields
// the relay formats into a notification.
type ChatMessage struct {
	ID          string    `json:"id"`
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"` // username, used in the subject
	AuthorTag   string    `json:"author_tag"`  // display form, used in the body
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Permalink   string    `json:"permalink"`
}

// InboundMail is an email (webhook or mailbox) waiting to be forwarded into chat.
type InboundMail struct {
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Date           time.Time `json:"date,omitempty"`
	Attachments    int       `json:"attachments,omitempty"`
	EnvelopeSender string    `json:"envelope_sender,omitempty"`
	Recipients     []string  `json:"recipients,omitempty"`
	Domain         string    `json:"domain,omitempty"`
	IsSpam         bool      `json:"is_spam,omitempty"`
	Source         string    `json:"source"` // "webhook" or "imap"
}

// Job is a unit of work executed on the chat loop.
type Job struct {
	ID   string
	Name string

	// Run executes on the loop goroutine. Chat gateway calls are only safe here.
	Run func(ctx context.Context) error

	// OnDone, when set, runs on the loop right after Run with its result.
	OnDone func(err error)
}

// State is the lifecycle state of the chat loop.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
