// Package notify delivers chat notifications by email (or carrier MMS gateway).
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ytsclub/sophbot/internal/config"
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/ytsclub/sophbot/internal/notify Notifier

// DefaultSubject replaces an empty notification subject.
const DefaultSubject = "Discord Message Notification"

const tracerName = "github.com/ytsclub/sophbot/internal/notify"

// ErrDisabled is returned by the Disabled notifier.
var ErrDisabled = errors.New("outbound notifications not configured")

// Notifier sends one plain-text notification.
type Notifier interface {
	Deliver(ctx context.Context, subject, body string) error
}

// New builds the notifier selected by cfg.Provider, or Disabled when the
// provider lacks credentials.
func New(cfg config.MailConfig) Notifier {
	if !cfg.IsConfigured() {
		slog.Warn("outbound email not configured, notifications disabled", "provider", cfg.Provider)
		return Disabled{}
	}
	switch cfg.Provider {
	case "smtp":
		slog.Info("outbound email configured", "provider", "smtp", "host", cfg.SMTP.Host, "recipients", len(cfg.SMTP.To))
		return NewSMTP(cfg.SMTP)
	default:
		slog.Info("outbound email configured", "provider", "maileroo", "to", cfg.Maileroo.ToEmail)
		return NewMaileroo(cfg.Maileroo, nil)
	}
}

// Disabled drops every notification.
type Disabled struct{}

func (Disabled) Deliver(_ context.Context, subject, _ string) error {
	slog.Debug("notify: skipped, email not configured", "subject", subject)
	return ErrDisabled
}

// Dispatcher applies the per-call timeout and the outbound rate limit, and
// records the outcome. It never retries.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	limiter  *rate.Limiter // nil = unlimited
	tracer   trace.Tracer
}

// NewDispatcher wraps n. ratePerMinute <= 0 disables rate limiting.
func NewDispatcher(n Notifier, timeout time.Duration, ratePerMinute int) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		notifier: n,
		timeout:  timeout,
		tracer:   otel.Tracer(tracerName),
	}
	if ratePerMinute > 0 {
		d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
	}
	return d
}

// Enabled reports whether notifications go anywhere.
func (d *Dispatcher) Enabled() bool {
	_, off := d.notifier.(Disabled)
	return !off
}

// Notify sends one notification within the timeout and reports success.
// Failures are logged and dropped.
func (d *Dispatcher) Notify(ctx context.Context, subject, body string) bool {
	if subject == "" {
		subject = DefaultSubject
	}
	if !d.Enabled() {
		slog.Debug("notify: email not configured, skipping", "subject", subject)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "notify.deliver", trace.WithAttributes(
		attribute.String("notify.subject", subject),
		attribute.Int("notify.body_length", len(body)),
	))
	defer span.End()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			slog.Warn("notify: rate limited, dropping notification", "subject", subject, "error", err)
			span.SetStatus(codes.Error, "rate limited")
			return false
		}
	}

	start := time.Now()
	if err := d.notifier.Deliver(ctx, subject, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("notify: delivery failed", "subject", subject, "duration", time.Since(start), "error", err)
		return false
	}
	slog.Info("notify.sent", "subject", subject, "duration", time.Since(start))
	return true
}
