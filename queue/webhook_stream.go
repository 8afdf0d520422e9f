package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamName    = "webhook-deliveries"
	groupName     = "webhook-workers"
	dlqStreamName = "webhook-deliveries_dlq"
	maxRetry      = 5
	blockTimeout  = 5 * time.Second
)

// DeliveryProcessor handles one queued webhook delivery by ID.
type DeliveryProcessor interface {
	ProcessDelivery(ctx context.Context, deliveryID int64) error
}

// WebhookStream publishes and consumes webhook delivery IDs over a Redis
// stream, so delivery work survives restarts and can be shared across
// instances. It replaces the in-process worker when Redis is configured.
type WebhookStream struct {
	client       *Client
	processor    DeliveryProcessor
	consumerName string
}

// NewWebhookStream creates the stream handle and ensures the consumer group
// exists.
func NewWebhookStream(client *Client, processor DeliveryProcessor, consumerName string) (*WebhookStream, error) {
	ctx := context.Background()

	// Idempotent: '$' reads only new messages, MKSTREAM creates the stream
	// if it does not exist yet. BUSYGROUP means the group is already there.
	err := client.rdb.XGroupCreateMkStream(ctx, streamName, groupName, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	if consumerName == "" {
		consumerName = "webhook-worker-1"
	}

	return &WebhookStream{
		client:       client,
		processor:    processor,
		consumerName: consumerName,
	}, nil
}

// Publish enqueues a delivery ID for a consumer to pick up.
func (s *WebhookStream) Publish(ctx context.Context, deliveryID int64) error {
	err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{"delivery_id": strconv.FormatInt(deliveryID, 10)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish webhook delivery: %w", err)
	}
	return nil
}

// Start consumes deliveries in a blocking loop until the context is
// cancelled. Run in a goroutine from main.
func (s *WebhookStream) Start(ctx context.Context) {
	slog.Info("Webhook stream consumer started", "stream", streamName, "consumer", s.consumerName)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Webhook stream consumer stopped")
			return
		default:
			s.readMessages(ctx)
		}
	}
}

func (s *WebhookStream) readMessages(ctx context.Context) {
	streams, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: s.consumerName,
		Streams:  []string{streamName, ">"},
		Count:    1,
		Block:    blockTimeout,
	}).Result()
	if err != nil {
		// redis.Nil just means the block timed out with nothing to read.
		if err != redis.Nil && ctx.Err() == nil {
			slog.Warn("Failed to read from webhook stream", "error", err)
			time.Sleep(time.Second)
		}
		return
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			s.handleMessage(ctx, message)
		}
	}
}

func (s *WebhookStream) handleMessage(ctx context.Context, message redis.XMessage) {
	raw, ok := message.Values["delivery_id"].(string)
	if !ok {
		slog.Warn("Webhook stream message missing delivery_id", "message_id", message.ID)
		s.ack(ctx, message.ID)
		return
	}

	deliveryID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("Webhook stream message has invalid delivery_id", "message_id", message.ID, "value", raw)
		s.ack(ctx, message.ID)
		return
	}

	if err := s.processor.ProcessDelivery(ctx, deliveryID); err != nil {
		slog.Error("Failed to process queued webhook delivery", "delivery_id", deliveryID, "error", err)
		s.maybeDeadLetter(ctx, message)
		return
	}

	s.ack(ctx, message.ID)
}

// maybeDeadLetter moves a message to the DLQ stream once it has been
// delivered to consumers more than maxRetry times; otherwise it is left
// pending for a later claim.
func (s *WebhookStream) maybeDeadLetter(ctx context.Context, message redis.XMessage) {
	pending, err := s.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  groupName,
		Start:  message.ID,
		End:    message.ID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	if pending[0].RetryCount >= maxRetry {
		slog.Warn("Moving webhook delivery to dead letter queue",
			"message_id", message.ID,
			"retries", pending[0].RetryCount)
		if err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: dlqStreamName,
			Values: message.Values,
		}).Err(); err != nil {
			slog.Error("Failed to dead-letter webhook delivery", "message_id", message.ID, "error", err)
			return
		}
		s.ack(ctx, message.ID)
	}
}

func (s *WebhookStream) ack(ctx context.Context, messageID string) {
	if err := s.client.rdb.XAck(ctx, streamName, groupName, messageID).Err(); err != nil {
		slog.Warn("Failed to ack webhook stream message", "message_id", messageID, "error", err)
	}
}
