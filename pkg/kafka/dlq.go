package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix prefixes dead-letter topics.
const DLQTopicPrefix = TopicPrefix + ".dlq"

// DLQProducer publishes failed messages to a dead-letter topic.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewDLQProducer creates a DLQ producer for the given brokers.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              1,
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &DLQProducer{writer: w, logger: logger}
}

// DLQTopic returns the dead-letter topic for originalTopic.
func DLQTopic(originalTopic string) string {
	return DLQTopicPrefix + "." + originalTopic
}

// Publish copies msg to its DLQ topic, adding headers that describe where it
// came from and why it failed.
func (d *DLQProducer) Publish(ctx context.Context, msg kafka.Message, lastErr error, consumerGroup string) error {
	topic := DLQTopic(msg.Topic)

	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "dlq.original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(consumerGroup)},
	)
	if lastErr != nil {
		headers = append(headers, kafka.Header{Key: "dlq.error", Value: []byte(lastErr.Error())})
	}

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("publish to DLQ %s: %w", topic, err)
	}

	d.logger.WarnContext(ctx, "message sent to DLQ",
		slog.String("dlq_topic", topic),
		slog.Int64("offset", msg.Offset),
		slog.String("consumer_group", consumerGroup),
	)
	return nil
}

// Close closes the DLQ producer.
func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
