// Package sqs drives timer polls from an SQS queue. An external scheduler
// (an EventBridge rule, a cron job) sends a message whenever the timers
// should be polled.
package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
)

// API is the part of the SQS client the consumer uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region          string
	QueueURL        string
	WaitTimeSeconds int32
	ErrorBackoff    time.Duration
}

// PollFunc runs one timer poll.
type PollFunc func(ctx context.Context) (int, error)

// TriggerConsumer long-polls the trigger queue and runs one poll per batch of
// messages received.
type TriggerConsumer struct {
	client   API
	queueURL string
	wait     int32
	backoff  time.Duration
	logger   *zap.Logger
}

// NewTriggerConsumer creates a consumer for cfg.QueueURL.
func NewTriggerConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*TriggerConsumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs trigger consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)
	return NewTriggerConsumerWithClient(sqs.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewTriggerConsumerWithClient uses an existing client.
func NewTriggerConsumerWithClient(client API, cfg Config, logger *zap.Logger) *TriggerConsumer {
	if cfg.WaitTimeSeconds <= 0 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &TriggerConsumer{
		client:   client,
		queueURL: cfg.QueueURL,
		wait:     cfg.WaitTimeSeconds,
		backoff:  cfg.ErrorBackoff,
		logger:   logger,
	}
}

// Run consumes triggers until ctx is done.
func (c *TriggerConsumer) Run(ctx context.Context, poll PollFunc) {
	c.logger.Info("sqs trigger consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs trigger consumer stopping")
			return
		}
		if err := c.ConsumeOnce(ctx, poll); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("poll trigger failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}
}

// ConsumeOnce receives one batch of triggers and, if any arrived, polls once
// and deletes them. Triggers of a failed poll stay on the queue and come back
// after their visibility timeout.
func (c *TriggerConsumer) ConsumeOnce(ctx context.Context, poll PollFunc) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.wait,
	})
	if err != nil {
		metrics.RecordPollTrigger("receive_error")
		return fmt.Errorf("sqs receive failed: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil
	}

	executed, err := poll(ctx)
	if err != nil {
		metrics.RecordPollTrigger("poll_error")
		return fmt.Errorf("poll timers: %w", err)
	}
	metrics.RecordPollTrigger("ok")

	entries := make([]types.DeleteMessageBatchRequestEntry, len(out.Messages))
	for i, msg := range out.Messages {
		entries[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("%d", i)),
			ReceiptHandle: msg.ReceiptHandle,
		}
	}
	result, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	if len(result.Failed) > 0 {
		c.logger.Warn("some poll triggers were not deleted", zap.Int("failed", len(result.Failed)))
	}

	c.logger.Debug("poll triggered",
		zap.Int("triggers", len(out.Messages)),
		zap.Int("executed", executed),
	)
	return nil
}
