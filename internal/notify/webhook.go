package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agora.org/internal/governance"
)

// Webhook posts each notification as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *resty.Client
}

// NewWebhook returns a webhook notifier for url.
func NewWebhook(url string, timeout time.Duration) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("notify: webhook URL is required")
	}
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "agora-notify")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Webhook{url: url, client: client}, nil
}

type webhookBody struct {
	UserID   string            `json:"user_id"`
	Type     string            `json:"type"`
	Priority string            `json:"priority"`
	GroupID  string            `json:"group_id"`
	Payload  map[string]string `json:"payload,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// StatusError is returned for non-2xx webhook responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notify: webhook responded %d: %s", e.Code, e.Body)
}

// Retryable reports whether resending could succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func (w *Webhook) Send(ctx context.Context, note governance.Notification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookBody{
			UserID:   note.UserID,
			Type:     note.Type,
			Priority: string(note.Priority),
			GroupID:  note.GroupID,
			Payload:  note.Payload,
			SentAt:   time.Now().UTC(),
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

var _ governance.Notifier = (*Webhook)(nil)
