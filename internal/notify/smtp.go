package notify

import (
	"context"
	"fmt"
	"net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ytsclub/sophbot/internal/config"
)

type sendMailFunc func(addr string, auth gosmtp.Auth, from string, to []string, msg []byte) error

// SMTP sends through a plain SMTP relay. Recipients may be carrier MMS
// gateway addresses, which turn each notification into a picture message.
type SMTP struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg config.SMTPConfig) *SMTP {
	if cfg.Port < 1 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg, sendMail: gosmtp.SendMail, now: time.Now}
}

// Deliver sends one message to every configured recipient.
// net/smtp has no context support, so the send runs in a goroutine and the
// context only bounds how long we wait for it.
func (s *SMTP) Deliver(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		return fmt.Errorf("smtp: host is not configured")
	}
	if len(s.cfg.To) == 0 {
		return fmt.Errorf("smtp: no recipients configured")
	}
	from, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return fmt.Errorf("smtp: invalid sender %q: %w", s.cfg.From, err)
	}
	if subject == "" {
		subject = DefaultSubject
	}

	msg := s.buildMessage(from.String(), subject, body)

	var auth gosmtp.Auth
	if strings.TrimSpace(s.cfg.Username) != "" {
		auth = gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}
	addr := host + ":" + strconv.Itoa(s.cfg.Port)

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(addr, auth, from.Address, s.cfg.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp: send via %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp: send via %s: %w", addr, ctx.Err())
	}
}

func (s *SMTP) buildMessage(from, subject, body string) []byte {
	headers := []string{
		"From: " + sanitizeHeader(from),
		"To: " + sanitizeHeader(strings.Join(s.cfg.To, ", ")),
		"Subject: " + sanitizeHeader(subject),
		"Date: " + s.now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + normalizeBody(body))
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\n", "\r\n")
}
