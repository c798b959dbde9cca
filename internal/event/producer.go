package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leowu0329/authservice/internal/domain"
	pkgkafka "github.com/leowu0329/authservice/pkg/kafka"
	"github.com/leowu0329/authservice/pkg/logger"
)

// Event types published by the account service.
const (
	AccountRegistered      = "account.registered"
	AccountVerified        = "account.verified"
	AccountPasswordChanged = "account.password_changed"
	AccountProfileUpdated  = "account.profile_updated"
	MailRequested          = "mail.requested"
)

// Kafka topics, one per event type.
var (
	TopicAccountRegistered      = pkgkafka.Topic("account", "registered")
	TopicAccountVerified        = pkgkafka.Topic("account", "verified")
	TopicAccountPasswordChanged = pkgkafka.Topic("account", "password_changed")
	TopicAccountProfileUpdated  = pkgkafka.Topic("account", "profile_updated")
	TopicMailRequested          = pkgkafka.Topic("mail", "requested")
)

const (
	AggregateTypeAccount = "account"
	AggregateTypeMail    = "mail"
	Source               = "authservice"
)

// Password change reasons carried by account.password_changed.
const (
	ReasonChanged = "changed"
	ReasonReset   = "reset"
)

// AccountData is the payload of account.registered, account.verified and
// account.profile_updated.
type AccountData struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// PasswordChangedData is the payload of account.password_changed.
type PasswordChangedData struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// MailRequestedData is the payload of mail.requested.
type MailRequestedData struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// Writer is the publishing side of pkg/kafka.Producer.
type Writer interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Publisher emits account lifecycle events.
type Publisher interface {
	AccountRegistered(ctx context.Context, a *domain.Account) error
	AccountVerified(ctx context.Context, a *domain.Account) error
	PasswordChanged(ctx context.Context, accountID, reason string) error
	ProfileUpdated(ctx context.Context, a *domain.Account) error
}

// Producer publishes account events to Kafka.
type Producer struct {
	writer Writer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(w Writer, logger *slog.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// AccountRegistered publishes account.registered.
func (p *Producer) AccountRegistered(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountRegistered, AccountRegistered, a.ID, AggregateTypeAccount, accountData(a))
}

// AccountVerified publishes account.verified.
func (p *Producer) AccountVerified(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountVerified, AccountVerified, a.ID, AggregateTypeAccount, accountData(a))
}

// PasswordChanged publishes account.password_changed.
func (p *Producer) PasswordChanged(ctx context.Context, accountID, reason string) error {
	return p.publish(ctx, TopicAccountPasswordChanged, AccountPasswordChanged, accountID, AggregateTypeAccount,
		PasswordChangedData{ID: accountID, Reason: reason})
}

// ProfileUpdated publishes account.profile_updated.
func (p *Producer) ProfileUpdated(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountProfileUpdated, AccountProfileUpdated, a.ID, AggregateTypeAccount, accountData(a))
}

// MailRequested publishes mail.requested, keyed by recipient.
func (p *Producer) MailRequested(ctx context.Context, data MailRequestedData) error {
	return p.publish(ctx, TopicMailRequested, MailRequested, data.To, AggregateTypeMail, data)
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.writer.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.String("event_id", evt.EventID),
	)
	return nil
}

func accountData(a *domain.Account) AccountData {
	return AccountData{ID: a.ID, Email: a.Email, Name: a.Name, Verified: a.Verified}
}

// NoopPublisher discards every event. It is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) AccountRegistered(context.Context, *domain.Account) error { return nil }
func (NoopPublisher) AccountVerified(context.Context, *domain.Account) error { return nil }
func (NoopPublisher) PasswordChanged(context.Context, string, string) error { return nil }
func (NoopPublisher) ProfileUpdated(context.Context, *domain.Account) error { return nil }
