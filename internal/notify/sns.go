package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
)

// SNSNotifier delivers SMS warnings via AWS SNS.
type SNSNotifier struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSNotifier creates an SNS notifier for SMS warnings.
func NewSNSNotifier(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSNotifier{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Deliver sends an SMS warning to the document's recipient phone number.
func (s *SNSNotifier) Deliver(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelSMS {
		return fmt.Errorf("SNS notifier only supports sms, got: %s", d.Channel)
	}
	if d.Recipient == "" {
		return fmt.Errorf("document %s has no recipient phone number configured", d.DocumentID)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(d.Recipient),
		Message:     aws.String(d.Subject()),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("sms warning sent via SNS",
		zap.String("alert_id", d.AlertID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel checks if this notifier supports the sms channel.
func (s *SNSNotifier) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}
