// Package webhook reports scheduling outcomes outward.
//
// This file implements the optional SMS confirmation sent once a
// booking succeeds on the scheduling backend.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSNotifier sends a booking confirmation text to the customer.
type SMSNotifier interface {
	SendBookingConfirmation(ctx context.Context, to, dayName, displayTime, meetingLink string) error
}

// SMSOpts holds configuration options for the Twilio SMS client.
type SMSOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSOption defines a configuration option for the Twilio SMS client.
type SMSOption func(*SMSOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) SMSOption {
	return func(o *SMSOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) SMSOption {
	return func(o *SMSOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) SMSOption {
	return func(o *SMSOpts) { o.FromNumber = from }
}

// SMSClient sends booking confirmations via the Twilio API.
type SMSClient struct {
	client *twilio.RestClient
	from   string
}

// NewSMSClient creates a Twilio-backed SMS notifier. Options fall back
// to the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER
// environment variables.
func NewSMSClient(opts ...SMSOption) (*SMSClient, error) {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio SMS client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSClient{client: client, from: cfg.FromNumber}, nil
}

// SendBookingConfirmation texts the booked time (and meeting link when
// available) to the customer.
func (c *SMSClient) SendBookingConfirmation(ctx context.Context, to, dayName, displayTime, meetingLink string) error {
	body := fmt.Sprintf("Your appointment is confirmed for %s at %s Arizona time.", dayName, displayTime)
	if meetingLink != "" {
		body += " Meeting link: " + meetingLink
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendBookingConfirmation failed", "to", to, "error", err)
		return fmt.Errorf("failed to send confirmation to %s: %w", to, err)
	}
	slog.Debug("Twilio booking confirmation sent", "to", to)
	return nil
}
