package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ytsclub/sophbot/internal/config"
)

const (
	defaultMailerooURL  = "https://smtp.maileroo.com/api/v2/emails"
	defaultFromName     = "Discord Bot"
	maxResponseBodySize = 1 << 20
)

type mailerooAddress struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
}

type mailerooRequest struct {
	From    mailerooAddress `json:"from"`
	To      mailerooAddress `json:"to"`
	Subject string          `json:"subject"`
	Plain   string          `json:"plain"`
}

type mailerooResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ReferenceID string `json:"reference_id"`
	} `json:"data"`
}

// Maileroo sends through the Maileroo transactional email API.
type Maileroo struct {
	cfg    config.MailerooConfig
	client *http.Client
}

// NewMaileroo creates a Maileroo transport. A nil client uses http.DefaultClient;
// the caller's context bounds each request.
func NewMaileroo(cfg config.MailerooConfig, client *http.Client) *Maileroo {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultMailerooURL
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Maileroo{cfg: cfg, client: client}
}

// Deliver posts one plain-text email. Success requires HTTP 200 and success=true.
func (m *Maileroo) Deliver(ctx context.Context, subject, body string) error {
	if subject == "" {
		subject = DefaultSubject
	}
	payload, err := json.Marshal(mailerooRequest{
		From:    mailerooAddress{Address: m.cfg.FromEmail, DisplayName: m.cfg.FromName},
		To:      mailerooAddress{Address: m.cfg.ToEmail},
		Subject: subject,
		Plain:   body,
	})
	if err != nil {
		return fmt.Errorf("maileroo: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("maileroo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("maileroo: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("maileroo: read response body: %w", err)
	}

	var result mailerooResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("maileroo: upstream returned %d with unreadable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Errorf("maileroo: upstream returned %d: %s", resp.StatusCode, msg)
	}

	ref := result.Data.ReferenceID
	if ref == "" {
		ref = "N/A"
	}
	slog.Debug("maileroo: email accepted", "reference_id", ref)
	return nil
}
