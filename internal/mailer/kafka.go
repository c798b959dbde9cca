package mailer

import (
	"context"

	"github.com/leowu0329/authservice/internal/event"
)

// MailRequestPublisher publishes mail.requested events.
type MailRequestPublisher interface {
	MailRequested(ctx context.Context, data event.MailRequestedData) error
}

// KafkaMailer hands messages to the mail worker through Kafka. A nil error
// means the request was durably queued, not that it was delivered.
type KafkaMailer struct {
	publisher MailRequestPublisher
}

// NewKafkaMailer creates a queueing mailer.
func NewKafkaMailer(p MailRequestPublisher) *KafkaMailer {
	return &KafkaMailer{publisher: p}
}

// Name returns the transport name.
func (m *KafkaMailer) Name() string { return "kafka" }

// Send publishes msg as a mail.requested event.
func (m *KafkaMailer) Send(ctx context.Context, msg Message) error {
	return m.publisher.MailRequested(ctx, event.MailRequestedData{
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
	})
}
