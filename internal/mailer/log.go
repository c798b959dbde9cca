package mailer

import (
	"context"
	"log/slog"
)

// LogMailer writes messages to the log instead of delivering them. Bodies
// carry secrets, so they are only logged when logBody is set.
type LogMailer struct {
	logger  *slog.Logger
	logBody bool
}

// NewLogMailer creates a mailer for local development.
func NewLogMailer(logger *slog.Logger, logBody bool) *LogMailer {
	return &LogMailer{logger: logger, logBody: logBody}
}

// Name returns the transport name.
func (m *LogMailer) Name() string { return "log" }

// Send logs the message and always succeeds.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	attrs := []any{
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.HTMLBody)),
	}
	if m.logBody {
		attrs = append(attrs, slog.String("body", msg.HTMLBody))
	}
	m.logger.InfoContext(ctx, "mail not delivered, log transport", attrs...)
	return nil
}
