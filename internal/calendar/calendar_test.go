package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

func TestClientBook(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody bookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(models.BookingResult{
			Success:     true,
			MeetingLink: "https://meet.example.com/xyz",
			EventID:     "evt_1",
		})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithAPIKey("secret"))
	if !c.Initialized() {
		t.Fatal("client with base URL must report initialized")
	}

	when := time.Date(2025, time.June, 12, 9, 0, 0, 0, time.UTC)
	result, err := c.Book(context.Background(), "Jordan", "jordan@example.com", "+15551234567", when,
		models.DiscoveryData{"industry": "roofing"})
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if !result.Success || result.EventID != "evt_1" {
		t.Errorf("result = %+v", result)
	}
	if gotPath != "/appointments" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody.Email != "jordan@example.com" || !gotBody.StartTime.Equal(when) {
		t.Errorf("body = %+v", gotBody)
	}
	if gotBody.Discovery["industry"] != "roofing" {
		t.Errorf("discovery not forwarded: %v", gotBody.Discovery)
	}
}

func TestClientBookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	if _, err := c.Book(context.Background(), "n", "e@example.com", "", time.Now(), nil); err == nil {
		t.Error("expected error on 502")
	}
}

func TestClientUninitialized(t *testing.T) {
	c := NewClient()
	if c.Initialized() {
		t.Error("client without base URL must not report initialized")
	}
	if _, err := c.Book(context.Background(), "n", "e@example.com", "", time.Now(), nil); err == nil {
		t.Error("Book on unconfigured client must error")
	}
	if _, err := c.AvailableSlots(context.Background(), time.Now()); err == nil {
		t.Error("AvailableSlots on unconfigured client must error")
	}
}

func TestClientAvailableSlots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") == "" {
			t.Error("missing date query parameter")
		}
		json.NewEncoder(w).Encode(slotsResponse{Slots: []models.TimeSlot{
			{DisplayTime: "9:00 AM"},
			{DisplayTime: "10:00 AM"},
		}})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	slots, err := c.AvailableSlots(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("AvailableSlots failed: %v", err)
	}
	if len(slots) != 2 || slots[0].DisplayTime != "9:00 AM" {
		t.Errorf("slots = %+v", slots)
	}
}

// fakeBooker scripts availability per weekday for composition tests.
type fakeBooker struct {
	slotsByDate map[string][]models.TimeSlot
	err         error
}

func (f *fakeBooker) Book(ctx context.Context, name, email, phone string, when time.Time, d models.DiscoveryData) (*models.BookingResult, error) {
	return &models.BookingResult{Success: true}, nil
}

func (f *fakeBooker) AvailableSlots(ctx context.Context, date time.Time) ([]models.TimeSlot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.slotsByDate[date.Format("2006-01-02")], nil
}

func (f *fakeBooker) Initialized() bool { return true }

func TestAvailabilityResponseSkipsWeekendsAndLimits(t *testing.T) {
	// Friday: the lookahead crosses a weekend.
	now := time.Date(2025, time.June, 13, 10, 0, 0, 0, time.UTC)
	fb := &fakeBooker{slotsByDate: map[string][]models.TimeSlot{
		"2025-06-16": {{DisplayTime: "8:00 AM"}, {DisplayTime: "9:00 AM"}, {DisplayTime: "10:00 AM"}, {DisplayTime: "11:00 AM"}},
		"2025-06-17": {{DisplayTime: "1:00 PM"}},
	}}

	resp := AvailabilityResponse(context.Background(), fb, now)
	if strings.Contains(resp, "June 14") || strings.Contains(resp, "June 15") {
		t.Errorf("weekend dates listed: %q", resp)
	}
	if !strings.Contains(resp, "Monday, June 16") || !strings.Contains(resp, "Tuesday, June 17") {
		t.Errorf("expected both business days listed: %q", resp)
	}
	if strings.Contains(resp, "11:00 AM") {
		t.Errorf("more than three slots listed for one day: %q", resp)
	}
	if !strings.Contains(resp, "or Tuesday") {
		t.Errorf("expected spoken either/or phrasing: %q", resp)
	}
}

func TestAvailabilityResponseSingleDay(t *testing.T) {
	now := time.Date(2025, time.June, 13, 10, 0, 0, 0, time.UTC)
	fb := &fakeBooker{slotsByDate: map[string][]models.TimeSlot{
		"2025-06-18": {{DisplayTime: "2:00 PM"}},
	}}
	resp := AvailabilityResponse(context.Background(), fb, now)
	if !strings.Contains(resp, "I have availability on Wednesday, June 18 at 2:00 PM") {
		t.Errorf("single-day phrasing wrong: %q", resp)
	}
}

func TestAvailabilityResponseFallbacks(t *testing.T) {
	now := time.Date(2025, time.June, 13, 10, 0, 0, 0, time.UTC)

	if got := AvailabilityResponse(context.Background(), nil, now); got != FallbackPrompt {
		t.Errorf("nil booker: %q", got)
	}
	if got := AvailabilityResponse(context.Background(), &fakeBooker{err: context.DeadlineExceeded}, now); got != FallbackPrompt {
		t.Errorf("failing booker: %q", got)
	}
	if got := AvailabilityResponse(context.Background(), &fakeBooker{}, now); got != noAvailability {
		t.Errorf("empty week: %q", got)
	}
}
