package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	// MaxMessageLen is Discord's hard message limit, in characters.
	MaxMessageLen = 2000
	// ChunkBudget caps every chunk of a split message.
	ChunkBudget = 1900
)

// Sender posts one message. Implementations must not reorder calls.
type Sender interface {
	Send(ctx context.Context, content string) error
}

// WebhookExecutor executes webhooks. *discordgo.Session satisfies it.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelPoster posts as the bot. *discordgo.Session satisfies it.
type ChannelPoster interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type webhookSender struct {
	api  WebhookExecutor
	hook *discordgo.Webhook
}

// WebhookSender posts under a webhook identity with mentions suppressed.
func WebhookSender(api WebhookExecutor, hook *discordgo.Webhook) Sender {
	return &webhookSender{api: api, hook: hook}
}

func (s *webhookSender) Send(ctx context.Context, content string) error {
	_, err := s.api.WebhookExecute(s.hook.ID, s.hook.Token, true, &discordgo.WebhookParams{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("execute webhook %s: %w", s.hook.ID, err)
	}
	return nil
}

type channelSender struct {
	api       ChannelPoster
	channelID string
}

// ChannelSender posts as the bot account.
func ChannelSender(api ChannelPoster, channelID string) Sender {
	return &channelSender{api: api, channelID: channelID}
}

func (s *channelSender) Send(ctx context.Context, content string) error {
	if _, err := s.api.ChannelMessageSend(s.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to channel %s: %w", s.channelID, err)
	}
	return nil
}

// SplitChunks splits text into messages Discord will accept.
// Text within MaxMessageLen is returned whole. Longer text is split on line
// breaks into chunks of at most ChunkBudget characters; joining the chunks
// with "\n" restores the text. A single line longer than the budget is cut
// into budget-sized pieces. A chunk that would hold only a blank line is
// never sent; its line break leads the next chunk instead.
func SplitChunks(text string) []string {
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= MaxMessageLen {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
		lead   string
	)
	emit := func(s string) {
		chunks = append(chunks, lead+s)
		lead = ""
	}
	flush := func() {
		if curLen == 0 {
			return
		}
		if s := strings.TrimSuffix(cur.String(), "\n"); s != "" {
			emit(s)
		} else {
			lead += "\n"
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		if n > ChunkBudget {
			flush()
			for _, piece := range hardSplit(line, ChunkBudget) {
				emit(piece)
			}
			continue
		}
		if curLen+n+1 > ChunkBudget {
			flush()
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		curLen += n + 1
	}
	flush()
	if lead != "" && len(chunks) > 0 {
		chunks[len(chunks)-1] += lead
	}
	return chunks
}

func hardSplit(s string, size int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		n := min(size, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// ChunkOutcome is the result of sending one chunk.
type ChunkOutcome struct {
	Index  int
	Length int // characters
	Err    error
}

// Deliver sends text in order, one chunk after the other. A failed chunk does
// not stop the rest; every attempt is reported.
func Deliver(ctx context.Context, sender Sender, text string) []ChunkOutcome {
	chunks := SplitChunks(text)
	outcomes := make([]ChunkOutcome, 0, len(chunks))
	for i, chunk := range chunks {
		err := ctx.Err()
		if err == nil {
			err = sender.Send(ctx, chunk)
		}
		outcomes = append(outcomes, ChunkOutcome{
			Index:  i,
			Length: utf8.RuneCountInString(chunk),
			Err:    err,
		})
	}
	return outcomes
}

// FailedChunks returns the indexes of chunks that failed.
func FailedChunks(outcomes []ChunkOutcome) []int {
	var failed []int
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o.Index)
		}
	}
	return failed
}

// DeliveryError reports a partial (or total) delivery failure.
type DeliveryError struct {
	Total  int
	Failed []ChunkOutcome
}

func (e *DeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, o := range e.Failed {
		parts = append(parts, fmt.Sprintf("chunk %d: %v", o.Index, o.Err))
	}
	return fmt.Sprintf("delivered %d/%d chunks: %s",
		e.Total-len(e.Failed), e.Total, strings.Join(parts, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, o := range e.Failed {
		errs = append(errs, o.Err)
	}
	return errs
}

// DeliveryErr returns a *DeliveryError when any chunk failed, else nil.
func DeliveryErr(outcomes []ChunkOutcome) error {
	var failed []ChunkOutcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &DeliveryError{Total: len(outcomes), Failed: failed}
}

// IsPartialDelivery reports whether err is a delivery error where some chunks got through.
func IsPartialDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && len(de.Failed) < de.Total
}
