package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/leowu0329/authservice/pkg/httpclient"
)

// HTTPConfig holds the settings of a JSON mail provider API.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	From     string
	FromName string
}

type httpPayload struct {
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
}

// HTTPMailer posts messages to a provider API through a retrying,
// circuit-breaking client.
type HTTPMailer struct {
	cfg    HTTPConfig
	client *httpclient.CircuitBreakerClient
}

// NewHTTPMailer creates an HTTP mailer.
func NewHTTPMailer(cfg HTTPConfig, client *httpclient.CircuitBreakerClient) *HTTPMailer {
	return &HTTPMailer{cfg: cfg, client: client}
}

// Name returns the transport name.
func (m *HTTPMailer) Name() string { return "http" }

// Send posts msg to the provider. Any non-2xx answer is a failure.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(httpPayload{
		From:     m.cfg.From,
		FromName: m.cfg.FromName,
		To:       msg.To,
		Subject:  msg.Subject,
		HTML:     msg.HTMLBody,
	})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("send mail: %w", httpclient.ParseResponseError(resp, "mail-provider"))
	}
	_ = resp.Body.Close()
	return nil
}
