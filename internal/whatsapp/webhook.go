package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookEvent is the JSON body delivered to a user-configured webhook for
// each relayed inbound message.
type WebhookEvent struct {
	Event     string    `json:"event"`
	AccountID string    `json:"accountId"`
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
}

// WebhookSender delivers one event to a webhook URL. Implementations must
// honor the context deadline; the relay treats every failure as non-fatal.
type WebhookSender interface {
	Send(ctx context.Context, url string, event WebhookEvent) error
}

type httpWebhookSender struct {
	client *http.Client
}

// NewHTTPWebhookSender returns a WebhookSender posting JSON bodies. The
// timeout is a hard upper bound on top of any per-call context deadline.
func NewHTTPWebhookSender(timeout time.Duration) WebhookSender {
	return &httpWebhookSender{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *httpWebhookSender) Send(ctx context.Context, url string, event WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
