package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dcabot/internal/core"
)

// WebhookChannel posts a JSON payload to a generic incoming-webhook
// URL. Generalized from the teacher's SlackChannel (Slack attachment
// JSON shape) to a vendor-neutral JSON body, since SPEC_FULL describes
// Notifier as a single opaque webhook channel, not a specific vendor.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds a webhook channel. An empty url makes Send
// a no-op, matching the teacher's "channel configured but disabled" idiom.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

type webhookBody struct {
	Severity  core.Severity     `json:"severity"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Timestamp int64             `json:"timestamp_unix"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (w *WebhookChannel) Send(ctx context.Context, payload Payload) error {
	if w.url == "" {
		return nil
	}

	body := webhookBody{
		Severity:  payload.Severity,
		Title:     payload.Title,
		Body:      payload.Body,
		Timestamp: payload.Timestamp.Unix(),
		Metadata:  payload.Metadata,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("notify: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
