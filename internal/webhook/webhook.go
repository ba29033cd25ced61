// Package webhook reports scheduling outcomes outward: a
// fire-and-forget HTTP webhook with the customer's scheduling
// preference, and an optional SMS confirmation once an appointment is
// booked.
//
// Nothing here feeds back into the conversational turn path; failures
// are logged and swallowed.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds each webhook delivery.
const DefaultRequestTimeout = 8 * time.Second

// Notifier is the outward-reporting contract consumed by the booking
// coordinator and the connection close handler.
type Notifier interface {
	SendSchedulingPreference(ctx context.Context, name, email, phone, preferredTime, callID string, extra map[string]any) error
}

// Opts holds configuration options for the webhook client.
type Opts struct {
	URL        string
	HTTPClient *http.Client
}

// Option defines a configuration option for the webhook client.
type Option func(*Opts)

// WithURL sets the webhook endpoint.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client delivers scheduling-preference webhooks over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a webhook client. An empty URL yields a client
// whose sends are no-ops.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{url: cfg.URL, httpClient: httpClient}
}

// preferencePayload is the webhook body.
type preferencePayload struct {
	Name          string         `json:"name"`
	Email         string         `json:"email"`
	Phone         string         `json:"phone"`
	PreferredTime string         `json:"preferred_time"`
	CallID        string         `json:"call_id"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// SendSchedulingPreference posts the customer's scheduling preference
// and any extra outcome fields to the configured endpoint.
func (c *Client) SendSchedulingPreference(ctx context.Context, name, email, phone, preferredTime, callID string, extra map[string]any) error {
	if c.url == "" {
		slog.Debug("webhook.SendSchedulingPreference: no endpoint configured, skipping", "call_id", callID)
		return nil
	}
	payload, err := json.Marshal(preferencePayload{
		Name:          name,
		Email:         email,
		Phone:         phone,
		PreferredTime: preferredTime,
		CallID:        callID,
		Extra:         extra,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("webhook.SendSchedulingPreference: delivery failed", "error", err, "call_id", callID)
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("webhook.SendSchedulingPreference: endpoint returned non-success", "status", resp.StatusCode, "call_id", callID)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	slog.Debug("webhook.SendSchedulingPreference: delivered", "call_id", callID)
	return nil
}
