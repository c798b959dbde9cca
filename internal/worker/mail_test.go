package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leowu0329/authservice/internal/event"
	"github.com/leowu0329/authservice/internal/mailer"
	pkgkafka "github.com/leowu0329/authservice/pkg/kafka"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Name() string { return "mock" }

func (m *mockMailer) Send(ctx context.Context, msg mailer.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEvent(eventType string, data any) *pkgkafka.Event {
	raw, _ := json.Marshal(data)
	return newTestEventRaw(eventType, raw)
}

func newTestEventRaw(eventType string, raw json.RawMessage) *pkgkafka.Event {
	return &pkgkafka.Event{
		EventID:       "evt-1",
		EventType:     eventType,
		AggregateID:   "ann@example.com",
		AggregateType: event.AggregateTypeMail,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        event.Source,
		Data:          raw,
	}
}

func TestHandle_DeliversMail(t *testing.T) {
	m := new(mockMailer)
	h := NewMailHandler(m, newTestLogger())

	want := mailer.Message{To: "ann@example.com", Subject: "Verify your email", HTMLBody: "<p>123456</p>"}
	m.On("Send", mock.Anything, want).Return(nil).Once()

	err := h.Handle(context.Background(), newTestEvent(event.MailRequested, event.MailRequestedData{
		To:       want.To,
		Subject:  want.Subject,
		HTMLBody: want.HTMLBody,
	}))

	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestHandle_TransportErrorIsRetryable(t *testing.T) {
	m := new(mockMailer)
	h := NewMailHandler(m, newTestLogger())
	m.On("Send", mock.Anything, mock.Anything).Return(errors.New("421 try again later"))

	err := h.Handle(context.Background(), newTestEvent(event.MailRequested, event.MailRequestedData{
		To: "ann@example.com", Subject: "s", HTMLBody: "b",
	}))

	require.Error(t, err)
	assert.False(t, errors.Is(err, pkgkafka.ErrPermanent))
	assert.Contains(t, err.Error(), "421")
}

func TestHandle_PermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		evt  *pkgkafka.Event
	}{
		{"malformed payload", newTestEventRaw(event.MailRequested, json.RawMessage(`{"to":`))},
		{"wrong payload type", newTestEventRaw(event.MailRequested, json.RawMessage(`"just a string"`))},
		{"invalid recipient", newTestEvent(event.MailRequested, event.MailRequestedData{To: "not-an-address", Subject: "s", HTMLBody: "b"})},
		{"empty body", newTestEvent(event.MailRequested, event.MailRequestedData{To: "ann@example.com", Subject: "s"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(mockMailer)
			h := NewMailHandler(m, newTestLogger())

			err := h.Handle(context.Background(), tt.evt)

			require.Error(t, err)
			assert.True(t, errors.Is(err, pkgkafka.ErrPermanent))
			m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestHandle_IgnoresUnknownEventTypes(t *testing.T) {
	m := new(mockMailer)
	h := NewMailHandler(m, newTestLogger())

	err := h.Handle(context.Background(), newTestEvent(event.AccountRegistered, event.AccountData{ID: "a1"}))

	require.NoError(t, err)
	m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestHandle_RedeliveryIsSkippedBehindIdempotencyGuard(t *testing.T) {
	m := new(mockMailer)
	h := NewMailHandler(m, newTestLogger())
	m.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	store := pkgkafka.NewMemoryIdempotencyStore(time.Hour)
	guarded := pkgkafka.IdempotentHandler(store, h.Handle, newTestLogger())
	evt := newTestEvent(event.MailRequested, event.MailRequestedData{To: "ann@example.com", Subject: "s", HTMLBody: "b"})

	require.NoError(t, guarded(context.Background(), evt))
	require.NoError(t, guarded(context.Background(), evt))

	m.AssertNumberOfCalls(t, "Send", 1)
}
