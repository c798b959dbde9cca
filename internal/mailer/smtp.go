package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	DialTimeout time.Duration
	IOTimeout   time.Duration
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS bool
}

// SMTPMailer delivers messages over SMTP with STARTTLS and PLAIN auth.
type SMTPMailer struct {
	cfg SMTPConfig
	tls *tls.Config
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 8 * time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 15 * time.Second
	}
	return &SMTPMailer{
		cfg: cfg,
		tls: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}
}

// Name returns the transport name.
func (m *SMTPMailer) Name() string { return "smtp" }

// Send delivers msg. The whole conversation shares one deadline.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("smtp: invalid recipient: %w", err)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(m.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(m.tls); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	} else if m.cfg.RequireTLS {
		return fmt.Errorf("smtp: server %s does not support STARTTLS", addr)
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(m.compose(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end DATA: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) compose(msg Message) []byte {
	from := (&mail.Address{Name: m.cfg.FromName, Address: m.cfg.From}).String()
	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		msg.HTMLBody,
	}
	return []byte(strings.Join(headers, "\r\n"))
}
