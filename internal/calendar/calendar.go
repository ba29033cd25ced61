// Package calendar talks to the external scheduling backend: booking an
// appointment and listing open slots.
//
// The backend is optional. An unconfigured client reports itself as not
// initialized and the conversation core degrades to a generic follow-up
// reply instead of failing the call.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

// DefaultRequestTimeout bounds each scheduling-backend call.
const DefaultRequestTimeout = 10 * time.Second

// Booker is the booking/availability contract consumed by the
// conversation core.
type Booker interface {
	// Book creates the appointment. The returned result carries the
	// backend's success flag and meeting details; a non-nil error means
	// the call itself failed.
	Book(ctx context.Context, name, email, phone string, when time.Time, discovery models.DiscoveryData) (*models.BookingResult, error)
	// AvailableSlots lists open slots for one date.
	AvailableSlots(ctx context.Context, date time.Time) ([]models.TimeSlot, error)
	// Initialized reports whether the backend is configured.
	Initialized() bool
}

// Opts holds configuration options for the calendar client.
type Opts struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option defines a configuration option for the calendar client.
type Option func(*Opts)

// WithBaseURL sets the scheduling backend base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAPIKey sets the bearer token for backend requests.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is the HTTP implementation of Booker.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a calendar client. An empty base URL yields a
// client that reports Initialized() == false.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("calendar.NewClient: created", "configured", cfg.BaseURL != "")
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, httpClient: httpClient}
}

// Initialized reports whether a backend URL is configured.
func (c *Client) Initialized() bool {
	return c != nil && c.baseURL != ""
}

// bookRequest is the backend booking payload.
type bookRequest struct {
	Name      string               `json:"name"`
	Email     string               `json:"email"`
	Phone     string               `json:"phone"`
	StartTime time.Time            `json:"start_time"`
	Discovery models.DiscoveryData `json:"discovery"`
}

// Book creates the appointment on the scheduling backend.
func (c *Client) Book(ctx context.Context, name, email, phone string, when time.Time, discovery models.DiscoveryData) (*models.BookingResult, error) {
	if !c.Initialized() {
		return nil, fmt.Errorf("calendar backend not configured")
	}
	payload, err := json.Marshal(bookRequest{Name: name, Email: email, Phone: phone, StartTime: when, Discovery: discovery})
	if err != nil {
		return nil, fmt.Errorf("failed to encode booking request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/appointments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build booking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("booking request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("booking request returned status %d", resp.StatusCode)
	}

	var result models.BookingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode booking result: %w", err)
	}
	slog.Info("calendar.Book: backend responded", "success", result.Success, "event_id", result.EventID)
	return &result, nil
}

// slotsResponse is the backend availability payload.
type slotsResponse struct {
	Slots []models.TimeSlot `json:"slots"`
}

// AvailableSlots lists open slots for the given date.
func (c *Client) AvailableSlots(ctx context.Context, date time.Time) ([]models.TimeSlot, error) {
	if !c.Initialized() {
		return nil, fmt.Errorf("calendar backend not configured")
	}
	url := fmt.Sprintf("%s/availability?date=%s", c.baseURL, date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build availability request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("availability request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("availability request returned status %d", resp.StatusCode)
	}

	var decoded slotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode availability: %w", err)
	}
	return decoded.Slots, nil
}
