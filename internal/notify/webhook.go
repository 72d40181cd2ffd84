package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
)

// WebhookNotifier posts expiration warnings to the document's configured
// endpoint.
type WebhookNotifier struct {
	client *http.Client
	logger *zap.Logger
}

type WebhookConfig struct {
	Timeout time.Duration
}

// webhookBody is the JSON document posted to the recipient URL.
type webhookBody struct {
	AlertID      string `json:"alert_id"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	LeadTimeDays int32  `json:"lead_time_days"`
	TriggerAt    string `json:"trigger_at"`
	Priority     string `json:"priority"`
	Message      string `json:"message"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(logger *zap.Logger, cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver posts the warning to the document's recipient URL. Any non-2xx
// response counts as a failed attempt.
func (s *WebhookNotifier) Deliver(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelWebhook {
		return fmt.Errorf("webhook notifier only supports webhooks, got: %s", d.Channel)
	}
	if d.Recipient == "" {
		return fmt.Errorf("document %s has no webhook url configured", d.DocumentID)
	}

	body, err := json.Marshal(webhookBody{
		AlertID:      d.AlertID.String(),
		DocumentID:   d.DocumentID.String(),
		DocumentName: d.DocumentName,
		LeadTimeDays: d.LeadTimeDays,
		TriggerAt:    d.TriggerAt.Format("2006-01-02"),
		Priority:     d.Priority,
		Message:      d.Subject(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docwatch/1.0")
	req.Header.Set("X-Docwatch-Alert-ID", d.AlertID.String())
	req.Header.Set("X-Docwatch-Document-ID", d.DocumentID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("webhook warning delivered",
		zap.String("alert_id", d.AlertID.String()),
		zap.String("url", d.Recipient),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

// SupportsChannel checks if this notifier supports webhooks.
func (s *WebhookNotifier) SupportsChannel(channel string) bool {
	return channel == db.ChannelWebhook
}
