package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// maxHandlerRetries is how many times a handler runs for one message before
// the message is dead-lettered (or dropped when no DLQ is configured).
const maxHandlerRetries = 3

// ErrPermanent marks a handler error that retrying cannot fix. Wrap it to
// send the message to the DLQ without further attempts.
var ErrPermanent = errors.New("permanent failure")

// Handler processes one event.
type Handler func(ctx context.Context, event *Event) error

// DeadLetterPublisher receives messages whose processing failed for good.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, lastErr error, consumerGroup string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// Consumer reads events from one topic within a consumer group and commits
// each message after it was handled, dead-lettered or found malformed.
type Consumer struct {
	reader    messageReader
	topic     string
	group     string
	handler   Handler
	dlq       DeadLetterPublisher
	backoff   func(attempt int) time.Duration
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewConsumer creates a consumer. dlq may be nil.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq DeadLetterPublisher, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return newConsumer(r, cfg.Topic, cfg.GroupID, handler, dlq, logger)
}

func newConsumer(r messageReader, topic, group string, handler Handler, dlq DeadLetterPublisher, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		group:   group,
		handler: handler,
		dlq:     dlq,
		backoff: func(attempt int) time.Duration { return time.Duration(attempt) * 100 * time.Millisecond },
		logger:  logger,
	}
}

// Start consumes messages until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("topic", c.topic), slog.String("group", c.group))
	defer c.logger.Info("consumer stopped", slog.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}
		ConsumerMessagesReceived.WithLabelValues(c.topic, c.group).Inc()

		if err := c.process(ctx, msg); err != nil {
			// Only cancellation aborts processing; the message stays uncommitted.
			return c.Close()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process handles one message. It returns an error only when ctx ended
// mid-retry.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("dropping malformed message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		return nil
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier{Headers: &msg.Headers})
	start := time.Now()
	defer func() {
		ConsumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			ConsumerMessagesProcessed.WithLabelValues(c.topic, c.group).Inc()
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			break
		}

		c.logger.Warn("handler failed",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt < maxHandlerRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("consumer interrupted: %w", ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}
	}

	ConsumerMessagesFailed.WithLabelValues(c.topic, c.group).Inc()
	c.logger.Error("handler gave up on message",
		slog.String("event_type", event.EventType),
		slog.String("event_id", event.EventID),
		slog.Int64("offset", msg.Offset),
		slog.String("error", lastErr.Error()),
	)
	c.deadLetter(ctx, msg, lastErr)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.Error("failed to dead-letter message",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return
	}
	ConsumerDLQPublished.WithLabelValues(c.topic, c.group).Inc()
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
