// Package sqs consumes document-change events published by the record
// store. Each event carries the full document snapshot, so a consumed
// message is handed straight to planning and reconciliation.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
	"github.com/vigneshrao/docwatch/internal/lifecycle"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Event is the document-change payload published by the record store.
type Event struct {
	DocumentID string  `json:"document_id"`
	Name       string  `json:"name"`
	ValidUntil string  `json:"valid_until"` // YYYY-MM-DD
	LeadTimes  []int32 `json:"lead_times,omitempty"`
	Channel    string  `json:"channel"`
	Recipient  string  `json:"recipient"`
	ChangedAt  int64   `json:"changed_at"`
}

// Scheduler reconciles a changed document's alert plan.
type Scheduler interface {
	OnDocumentChanged(ctx context.Context, doc *db.Document) error
}

// Consumer long-polls the document-change queue.
type Consumer struct {
	client    *sqs.Client
	queueURL  string
	scheduler Scheduler
	logger    *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, scheduler Scheduler, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:    client,
		queueURL:  cfg.QueueURL,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// Run polls the queue until the context is cancelled. A message is
// deleted only after the document reconciles; failures are left on the
// queue to redeliver after the visibility timeout, so reconciliation
// being idempotent does the deduplication for us.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sqs consumer stopping")
			return ctx.Err()
		default:
		}

		input := &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		}

		result, err := c.client.ReceiveMessage(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("sqs receive failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range result.Messages {
			if c.process(ctx, []byte(aws.ToString(msg.Body))) {
				c.delete(ctx, msg.ReceiptHandle)
			}
		}
	}
}

// process handles one event body and reports whether the message is
// finished with the queue. Transient reconcile failures keep the
// message for redelivery; malformed bodies and permanently invalid
// configurations never become valid, so retaining those would just
// cycle the same poison message every visibility timeout.
func (c *Consumer) process(ctx context.Context, body []byte) bool {
	doc, err := ParseEvent(body)
	if err != nil {
		c.logger.Error("dropping malformed document event", zap.Error(err))
		return true
	}

	if err := c.scheduler.OnDocumentChanged(ctx, doc); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidLeadTime) {
			c.logger.Error("dropping document event with invalid lead times",
				zap.Error(err),
				zap.String("document_id", doc.ID.String()),
			)
			return true
		}

		c.logger.Warn("failed to reconcile document from event",
			zap.Error(err),
			zap.String("document_id", doc.ID.String()),
		)
		return false
	}

	return true
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		c.logger.Warn("sqs delete failed", zap.Error(err))
	}
}

// ParseEvent decodes a document-change event body into a document.
func ParseEvent(body []byte) (*db.Document, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("invalid event format: %w", err)
	}

	id, err := uuid.Parse(evt.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid document_id %q: %w", evt.DocumentID, err)
	}

	if evt.Name == "" {
		return nil, errors.New("event missing name")
	}

	validUntil, err := time.ParseInLocation("2006-01-02", evt.ValidUntil, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid valid_until %q: %w", evt.ValidUntil, err)
	}

	return &db.Document{
		ID:         id,
		Name:       evt.Name,
		ValidUntil: validUntil,
		LeadTimes:  evt.LeadTimes,
		Channel:    evt.Channel,
		Recipient:  evt.Recipient,
	}, nil
}
