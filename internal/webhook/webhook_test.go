package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSchedulingPreference(t *testing.T) {
	var got preferencePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithURL(srv.URL))
	err := c.SendSchedulingPreference(context.Background(),
		"Jordan", "jordan@example.com", "+15551234567",
		"thursday at 9:00 AM", "call_123",
		map[string]any{"booking_status": "success", "appointment_booked": true})
	if err != nil {
		t.Fatalf("SendSchedulingPreference failed: %v", err)
	}
	if got.Name != "Jordan" || got.PreferredTime != "thursday at 9:00 AM" || got.CallID != "call_123" {
		t.Errorf("payload = %+v", got)
	}
	if got.Extra["booking_status"] != "success" {
		t.Errorf("extra = %v", got.Extra)
	}
}

func TestSendSchedulingPreferenceNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(WithURL(srv.URL))
	if err := c.SendSchedulingPreference(context.Background(), "n", "e@example.com", "", "t", "call_1", nil); err == nil {
		t.Error("expected error on 500")
	}
}

func TestSendSchedulingPreferenceUnconfigured(t *testing.T) {
	c := NewClient()
	if err := c.SendSchedulingPreference(context.Background(), "n", "e@example.com", "", "t", "call_1", nil); err != nil {
		t.Errorf("unconfigured client must no-op, got %v", err)
	}
}

func TestNewSMSClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewSMSClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewSMSClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewSMSClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550000000")); err != nil {
		t.Errorf("fully configured client should construct: %v", err)
	}
}
