// Package imap polls a mailbox for unread replies and hands them to the
// relay intake, as an alternative to the inbound-routing webhook.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/internal/channels"
	"github.com/ytsclub/sophbot/internal/config"
	"github.com/ytsclub/sophbot/internal/relay"
)

const maxMessageBytes = 2 << 20

// Intake schedules inbound mail. *relay.Intake satisfies it.
type Intake interface {
	Accept(ctx context.Context, mail bus.InboundMail) (string, error)
}

// Message is one unread email fetched from the mailbox.
type Message struct {
	UID         uint32
	MessageID   string
	From        string
	Subject     string
	Date        time.Time
	Body        string
	Attachments int
}

// Poller checks the mailbox every poll interval. It implements
// channels.Channel so the channel manager owns its lifecycle.
type Poller struct {
	*channels.BaseChannel
	cfg    config.IMAPConfig
	intake Intake
	every  time.Duration

	fetchUnread func(ctx context.Context) ([]Message, error)
	markSeen    func(ctx context.Context, uids []uint32) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. Zero port, mailbox and interval take the IMAPS defaults.
func New(cfg config.IMAPConfig, intake Intake) *Poller {
	if cfg.Port < 1 {
		cfg.Port = 993
	}
	if strings.TrimSpace(cfg.Mailbox) == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.PollSeconds < 1 {
		cfg.PollSeconds = 60
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)

	p := &Poller{
		BaseChannel: channels.NewBaseChannel("imap", nil),
		cfg:         cfg,
		intake:      intake,
		every:       time.Duration(cfg.PollSeconds) * time.Second,
	}
	p.fetchUnread = p.fetchUnreadFromIMAP
	p.markSeen = p.markSeenInIMAP
	return p
}

// Start launches the poll loop in the background.
func (p *Poller) Start(ctx context.Context) error {
	if !p.cfg.IsConfigured() {
		return errors.New("imap credentials missing")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("imap poller already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	slog.Info("imap poller started", "host", p.cfg.Host, "mailbox", p.cfg.Mailbox, "poll_seconds", p.cfg.PollSeconds)
	p.SetRunning(true)
	go p.run(ctx)
	return nil
}

// Stop cancels the poll loop and waits for an in-flight poll to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.SetRunning(false)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("imap poller stopped")
			return
		case <-timer.C:
		}
		if err := p.pollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("imap poll failed", "error", err)
		}
		timer.Reset(p.every)
	}
}

// pollOnce fetches unread mail and hands it to the intake. Only accepted
// messages are marked seen; the rest are retried on the next poll.
func (p *Poller) pollOnce(ctx context.Context) error {
	incoming, err := p.fetchUnread(ctx)
	if err != nil {
		return err
	}
	if len(incoming) == 0 {
		return nil
	}

	accepted := make([]uint32, 0, len(incoming))
	for _, msg := range incoming {
		jobID, err := p.intake.Accept(ctx, toInboundMail(msg))
		if err != nil {
			slog.Warn("imap message not scheduled", "uid", msg.UID, "subject", msg.Subject, "error", err)
			if errors.Is(err, bus.ErrNotReady) || errors.Is(err, relay.ErrForwardingDisabled) {
				// Later messages would fail the same way.
				break
			}
			continue
		}
		slog.Info("imap message scheduled", "uid", msg.UID, "subject", msg.Subject, "job_id", jobID)
		if msg.UID > 0 {
			accepted = append(accepted, msg.UID)
		}
	}

	if len(accepted) > 0 {
		if err := p.markSeen(ctx, accepted); err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
	}
	return nil
}

func toInboundMail(msg Message) bus.InboundMail {
	mail := bus.InboundMail{
		From:        fallback(msg.From, "Unknown"),
		Subject:     fallback(msg.Subject, "No Subject"),
		Body:        msg.Body,
		Attachments: msg.Attachments,
		Source:      "imap",
	}
	if !msg.Date.IsZero() {
		mail.Date = msg.Date.UTC()
	}
	return mail
}

func (p *Poller) fetchUnreadFromIMAP(ctx context.Context) ([]Message, error) {
	c, err := p.openClient(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(p.cfg.Mailbox, false); err != nil {
		return nil, fmt.Errorf("imap select mailbox: %w", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search unread: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	// Peek so a message that is not accepted stays unread.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(set, items, messages)
	}()

	results := make([]Message, 0, len(uids))
	for fetched := range messages {
		r := fetched.GetBody(section)
		if r == nil {
			continue
		}
		raw, err := readAllLimited(r, maxMessageBytes)
		if err != nil {
			slog.Warn("imap message skipped", "uid", fetched.Uid, "error", err)
			continue
		}
		body, attachments := decodeMessage(raw)
		item := Message{UID: fetched.Uid, Body: body, Attachments: attachments}
		if env := fetched.Envelope; env != nil {
			item.Subject = strings.TrimSpace(env.Subject)
			item.Date = env.Date
			item.MessageID = strings.TrimSpace(env.MessageId)
			item.From = formatAddresses(env.From)
		}
		results = append(results, item)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch unread: %w", err)
	}
	return results, nil
}

func (p *Poller) markSeenInIMAP(ctx context.Context, uids []uint32) error {
	c, err := p.openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select(p.cfg.Mailbox, false); err != nil {
		return fmt.Errorf("imap select mailbox: %w", err)
	}
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(set, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("imap mark seen: %w", err)
	}
	return nil
}

func (p *Poller) openClient(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	c, err := client.DialTLS(addr, &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	if ctx.Err() != nil {
		c.Logout()
		return nil, ctx.Err()
	}
	if err := c.Login(p.cfg.Username, p.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

func formatAddresses(items []*imap.Address) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		addr := strings.TrimSpace(item.MailboxName + "@" + item.HostName)
		if name := strings.TrimSpace(item.PersonalName); name != "" {
			parts = append(parts, name+" <"+addr+">")
			continue
		}
		parts = append(parts, addr)
	}
	return strings.Join(parts, ", ")
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
