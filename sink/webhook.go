package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Webhook POSTs each event as JSON to a URL. Connection errors, 429 and 5xx
// responses are retried with exponential backoff.
type Webhook struct {
	url    string
	client *retryablehttp.Client
	logger *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.client.RetryMax = n }
}

// WithWebhookBackoff sets the minimum and maximum wait between attempts.
// Default: 1s and 30s.
func WithWebhookBackoff(minWait, maxWait time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.client.RetryWaitMin = minWait
		w.client.RetryWaitMax = maxWait
	}
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting the given URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second

	w := &Webhook{url: url, client: client, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.client.Logger = w.logger
	return w
}

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", ev.Type, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("webhook: bad status", "type", ev.Type, "status", resp.StatusCode)
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) Close() error {
	w.client.HTTPClient.CloseIdleConnections()
	return nil
}
