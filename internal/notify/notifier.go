// Package notify delivers expiration warnings through the configured
// channel. The scheduler treats a Notifier as opaque: it decides that
// and when a warning fires, never how it travels.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
)

// Delivery is everything a channel needs to emit one expiration warning.
type Delivery struct {
	AlertID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	LeadTimeDays int32
	TriggerAt    time.Time
	Priority     string
	Channel      string
	Recipient    string
}

// Notifier is the unified interface for all warning channels.
// Implementations: email (SES), SMS (SNS), webhooks.
type Notifier interface {
	Deliver(ctx context.Context, d *Delivery) error
	SupportsChannel(channel string) bool
}

// Subject renders the one-line summary used by the email and SMS
// channels.
func (d *Delivery) Subject() string {
	if d.LeadTimeDays == 1 {
		return fmt.Sprintf("%q expires tomorrow", d.DocumentName)
	}
	return fmt.Sprintf("%q expires in %d days", d.DocumentName, d.LeadTimeDays)
}

// MultiNotifier routes a delivery to the first notifier that supports
// its channel.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMultiNotifier creates a router over multiple underlying notifiers.
func NewMultiNotifier(logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger,
	}
}

// Deliver routes the delivery to the appropriate notifier based on channel.
func (m *MultiNotifier) Deliver(ctx context.Context, d *Delivery) error {
	for _, n := range m.notifiers {
		if n.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery",
				zap.String("channel", d.Channel),
				zap.String("alert_id", d.AlertID.String()),
			)
			return n.Deliver(ctx, d)
		}
	}

	return fmt.Errorf("no notifier for channel: %s", d.Channel)
}

// SupportsChannel checks if any underlying notifier supports the channel.
func (m *MultiNotifier) SupportsChannel(channel string) bool {
	for _, n := range m.notifiers {
		if n.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogNotifier only logs deliveries; used in development and tests.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (s *LogNotifier) Deliver(ctx context.Context, d *Delivery) error {
	s.logger.Info("delivering expiration warning",
		zap.String("alert_id", d.AlertID.String()),
		zap.String("document", d.DocumentName),
		zap.String("channel", d.Channel),
		zap.String("priority", d.Priority),
		zap.Int32("lead_time_days", d.LeadTimeDays),
	)
	return nil
}

// SupportsChannel accepts every channel; LogNotifier is the catch-all.
func (s *LogNotifier) SupportsChannel(channel string) bool {
	switch channel {
	case db.ChannelEmail, db.ChannelSMS, db.ChannelWebhook, "":
		return true
	default:
		return false
	}
}
