package mailer

import (
	"context"
	"time"
)

// Message is a single outbound HTML email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Mailer delivers messages through one transport.
type Mailer interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Instrumented records delivery outcomes and latency for the wrapped mailer.
type Instrumented struct {
	next Mailer
}

// Instrument wraps m with delivery metrics.
func Instrument(m Mailer) *Instrumented {
	return &Instrumented{next: m}
}

// Name returns the wrapped transport name.
func (i *Instrumented) Name() string {
	return i.next.Name()
}

// Send delegates to the wrapped mailer.
func (i *Instrumented) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	err := i.next.Send(ctx, msg)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	deliveriesTotal.WithLabelValues(i.next.Name(), outcome).Inc()
	deliveryDuration.WithLabelValues(i.next.Name()).Observe(time.Since(start).Seconds())
	return err
}
