package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
)

// SESNotifier delivers email warnings via AWS SES.
type SESNotifier struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESNotifier(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESNotifier{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Deliver sends an email warning via AWS SES.
func (s *SESNotifier) Deliver(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelEmail {
		return fmt.Errorf("SES notifier only supports email, got: %s", d.Channel)
	}
	if d.Recipient == "" {
		return fmt.Errorf("document %s has no recipient email configured", d.DocumentID)
	}

	body := fmt.Sprintf(
		"Document %q (%s) expires on %s.\n\nThis is the %d-day warning (%s priority).",
		d.DocumentName, d.DocumentID, d.TriggerAt.AddDate(0, 0, int(d.LeadTimeDays)).Format("2006-01-02"),
		d.LeadTimeDays, d.Priority,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{d.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(d.Subject()),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email warning sent via SES",
		zap.String("alert_id", d.AlertID.String()),
		zap.String("to", d.Recipient),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

// SupportsChannel checks if this notifier supports the email channel.
func (s *SESNotifier) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}
