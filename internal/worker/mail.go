package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/leowu0329/authservice/internal/event"
	"github.com/leowu0329/authservice/internal/mailer"
	pkgkafka "github.com/leowu0329/authservice/pkg/kafka"
)

// ConsumerGroupID is the consumer group of the mail worker.
const ConsumerGroupID = "authservice-mailworker"

// MailHandler delivers mail.requested events through a synchronous
// transport.
type MailHandler struct {
	mailer mailer.Mailer
	logger *slog.Logger
}

// NewMailHandler creates a handler that sends through m.
func NewMailHandler(m mailer.Mailer, logger *slog.Logger) *MailHandler {
	return &MailHandler{mailer: m, logger: logger}
}

// Handle processes one event. Undecodable or unaddressable requests are
// permanent failures; transport errors are returned for retry.
func (h *MailHandler) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	if evt.EventType != event.MailRequested {
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", evt.EventType),
			slog.String("event_id", evt.EventID),
		)
		return nil
	}

	var data event.MailRequestedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("%w: decode mail request %s: %v", pkgkafka.ErrPermanent, evt.EventID, err)
	}
	if _, err := mail.ParseAddress(data.To); err != nil {
		return fmt.Errorf("%w: mail request %s: invalid recipient: %v", pkgkafka.ErrPermanent, evt.EventID, err)
	}
	if data.Subject == "" || data.HTMLBody == "" {
		return fmt.Errorf("%w: mail request %s: empty subject or body", pkgkafka.ErrPermanent, evt.EventID)
	}

	if err := h.mailer.Send(ctx, mailer.Message{
		To:       data.To,
		Subject:  data.Subject,
		HTMLBody: data.HTMLBody,
	}); err != nil {
		return fmt.Errorf("deliver mail request %s: %w", evt.EventID, err)
	}

	h.logger.InfoContext(ctx, "mail delivered",
		slog.String("event_id", evt.EventID),
		slog.String("transport", h.mailer.Name()),
	)
	return nil
}

// NewConsumer builds the mail.requested consumer. Handled event ids are
// remembered in store so redelivered messages are not mailed twice.
func NewConsumer(brokers []string, handler *MailHandler, store pkgkafka.IdempotencyStore, dlq pkgkafka.DeadLetterPublisher, logger *slog.Logger) *pkgkafka.Consumer {
	cfg := pkgkafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  ConsumerGroupID,
		Topic:    event.TopicMailRequested,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	return pkgkafka.NewConsumer(cfg, pkgkafka.IdempotentHandler(store, handler.Handle, logger), dlq, logger)
}
