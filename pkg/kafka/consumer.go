// Package kafka wraps segmentio/kafka-go for the search event stream. The
// search service publishes one JSON event per finished search; the
// analytics service consumes them through a MessageHandler.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. Returning a resilience.Permanent
// error skips the message without retrying it.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic in a consumer group. A failing handler is
// retried with backoff; a message that still fails is logged and committed
// so one poison event cannot stall its partition.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// Start consumes until ctx is cancelled. Messages interrupted by the
// cancellation stay uncommitted and are redelivered after a restart.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process runs the handler for msg and reports whether msg should be
// committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With(
		"partition", msg.Partition,
		"offset", msg.Offset,
		"event_type", headerValue(msg, HeaderEventType),
	)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "kafka-handle", c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false
	case resilience.IsPermanent(err):
		log.Warn("skipping malformed message", "error", err)
	default:
		log.Error("dropping message after retries", "error", err)
	}
	return true
}

// Close closes the reader. It is safe to call after Start has returned.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
