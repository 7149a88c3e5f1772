package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// HeaderValues accepts both ["value", ...] and "value" in JSON.
// Maileroo sends lists; hand-rolled senders often send plain strings.
// Any other value keeps its compact JSON text.
type HeaderValues []string

func (h *HeaderValues) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*h = nil
		return nil
	}
	if s, ok := jsonText(data); ok {
		*h = HeaderValues{s}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*h = HeaderValues{compactJSON(data)}
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := jsonText(v); ok {
			result = append(result, s)
		} else {
			result = append(result, compactJSON(v))
		}
	}
	*h = result
	return nil
}

func jsonText(data []byte) (string, bool) {
	if len(data) == 0 || data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

func compactJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(data)
	}
	return buf.String()
}

// First returns the first value, or def when there is none.
func (h HeaderValues) First(def string) string {
	if len(h) == 0 || h[0] == "" {
		return def
	}
	return h[0]
}

// EmailBody holds the body variants produced by Maileroo inbound routing.
type EmailBody struct {
	Plaintext         string `json:"plaintext,omitempty"`
	StrippedPlaintext string `json:"stripped_plaintext,omitempty"`
	HTML              string `json:"html,omitempty"`
	StrippedHTML      string `json:"stripped_html,omitempty"`
}

// Attachment is an inbound attachment reference. Attachments are logged, never re-posted.
type Attachment struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
}

// InboundEmail is the Maileroo inbound-routing webhook payload.
// Only the fields the relay reads are declared; unknown fields are ignored.
type InboundEmail struct {
	ID             string                  `json:"_id,omitempty"`
	MessageID      string                  `json:"message_id,omitempty"`
	Headers        map[string]HeaderValues `json:"headers"`
	Body           EmailBody               `json:"body"`
	Attachments    []Attachment            `json:"attachments,omitempty"`
	EnvelopeSender string                  `json:"envelope_sender,omitempty"`
	Recipients     []string                `json:"recipients,omitempty"`
	Domain         string                  `json:"domain,omitempty"`
	IsSpam         bool                    `json:"is_spam,omitempty"`
	ProcessedAt    int64                   `json:"processed_at,omitempty"`
}

// UnmarshalJSON decodes headers and body strictly. The remaining fields are
// metadata: a value of an unexpected type is dropped, never an error.
func (e *InboundEmail) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	out := InboundEmail{}
	if raw, ok := fields["headers"]; ok {
		if err := json.Unmarshal(raw, &out.Headers); err != nil {
			return fmt.Errorf("headers: %w", err)
		}
	}
	if raw, ok := fields["body"]; ok {
		if err := json.Unmarshal(raw, &out.Body); err != nil {
			return fmt.Errorf("body: %w", err)
		}
	}

	out.ID = loose[string](fields["_id"])
	out.MessageID = loose[string](fields["message_id"])
	out.Attachments = loose[[]Attachment](fields["attachments"])
	out.EnvelopeSender = loose[string](fields["envelope_sender"])
	out.Recipients = []string(loose[HeaderValues](fields["recipients"]))
	out.Domain = loose[string](fields["domain"])
	out.IsSpam = loose[bool](fields["is_spam"])
	out.ProcessedAt = unixSeconds(fields["processed_at"])

	*e = out
	return nil
}

func loose[T any](raw json.RawMessage) T {
	var v T
	if len(raw) == 0 {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// unixSeconds reads a timestamp sent as an integer, a float or a numeric string.
func unixSeconds(raw json.RawMessage) int64 {
	if f := loose[float64](raw); f > 0 {
		return int64(f)
	}
	if s := loose[string](raw); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			return int64(f)
		}
	}
	return 0
}

// Header returns the first value of the named header, or def.
func (e *InboundEmail) Header(name, def string) string {
	if e.Headers == nil {
		return def
	}
	return e.Headers[name].First(def)
}

// SampleInboundEmail builds a payload shaped like a reply to a bot notification
// for the given channel. Used by the simulate-email command.
func SampleInboundEmail(channel, from, body string, now time.Time) InboundEmail {
	subject := fmt.Sprintf("Re: [Discord] #%s - sophi_a", channel)
	return InboundEmail{
		ID:             fmt.Sprintf("%x", now.UnixNano()),
		MessageID:      fmt.Sprintf("sim-%d@localhost", now.Unix()),
		Domain:         "mail.maileroo.com",
		EnvelopeSender: from,
		Recipients:     []string{"bot@localhost"},
		Headers: map[string]HeaderValues{
			"Content-Type": {"text/plain; charset=UTF-8"},
			"Date":         {now.Format(time.RFC1123Z)},
			"From":         {from},
			"Subject":      {subject},
		},
		Body: EmailBody{
			Plaintext:         body,
			StrippedPlaintext: body,
		},
		ProcessedAt: now.Unix(),
	}
}
