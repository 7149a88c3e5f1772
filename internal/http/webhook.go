package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ytsclub/sophbot/internal/bus"
	"github.com/ytsclub/sophbot/internal/channels"
	"github.com/ytsclub/sophbot/internal/relay"
	"github.com/ytsclub/sophbot/pkg/protocol"
)

const defaultMaxBodyBytes = 1 << 20

// MailIntake schedules an inbound email for delivery. *relay.Intake satisfies it.
type MailIntake interface {
	Accept(ctx context.Context, mail bus.InboundMail) (string, error)
}

// EmailWebhookHandler receives Maileroo inbound-routing callbacks.
type EmailWebhookHandler struct {
	intake   MailIntake
	limiter  *channels.WebhookRateLimiter
	maxBytes int64
}

// NewEmailWebhookHandler creates the webhook handler. A nil limiter disables
// rate limiting; maxBytes <= 0 uses 1 MiB.
func NewEmailWebhookHandler(intake MailIntake, limiter *channels.WebhookRateLimiter, maxBytes int64) *EmailWebhookHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &EmailWebhookHandler{intake: intake, limiter: limiter, maxBytes: maxBytes}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *EmailWebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+protocol.RouteEmailWebhook, h.handleEmail)
	mux.HandleFunc(protocol.RouteEmailWebhook, methodNotAllowed(http.MethodPost))
}

func (h *EmailWebhookHandler) handleEmail(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r.RemoteAddr)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		slog.Warn("security.webhook_rate_limited", "ip", ip)
		writeError(w, http.StatusTooManyRequests, protocol.MessageRateLimited)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("security.webhook_body_too_large", "ip", ip, "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, protocol.MessageTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, protocol.MessageNoData)
		return
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		writeError(w, http.StatusBadRequest, protocol.MessageNoData)
		return
	}

	var payload protocol.InboundEmail
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("email webhook: invalid payload", "ip", ip, "error", err)
		writeError(w, http.StatusBadRequest, protocol.MessageInvalidJSON)
		return
	}

	mail := relay.MailFromPayload(payload)
	slog.Info("email webhook received",
		"from", mail.From,
		"subject", mail.Subject,
		"attachments", mail.Attachments,
		"spam", mail.IsSpam,
	)

	jobID, err := h.intake.Accept(r.Context(), mail)
	if err != nil {
		status, msg := acceptFailure(err)
		slog.Warn("email webhook: not forwarded", "subject", mail.Subject, "status", status, "error", err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, protocol.WebhookResponse{
		Status:  protocol.StatusSuccess,
		Message: protocol.MessageForwarded,
		JobID:   jobID,
	})
}

// acceptFailure maps an intake error to a response status and message.
func acceptFailure(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrForwardingDisabled):
		return http.StatusBadRequest, protocol.MessageNotConfigured
	case errors.Is(err, bus.ErrNotReady):
		return http.StatusServiceUnavailable, protocol.MessageNotReady
	case errors.Is(err, bus.ErrClosed), errors.Is(err, bus.ErrQueueFull):
		return http.StatusInternalServerError, protocol.MessageScheduleFail
	default:
		return http.StatusInternalServerError, protocol.MessageInternal
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.WebhookResponse{Status: protocol.StatusError, Message: msg})
}
