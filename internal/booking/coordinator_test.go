package booking

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexella/voiceflow/internal/memory"
	"github.com/nexella/voiceflow/internal/models"
)

type fakeSpeaker struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSpeaker) TrySend(ctx context.Context, text string, responseID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return true
}

func (s *fakeSpeaker) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakeBooker struct {
	mu          sync.Mutex
	result      *models.BookingResult
	err         error
	initialized bool
	calls       int
	lastEmail   string
	lastWhen    time.Time
}

func (b *fakeBooker) Book(ctx context.Context, name, email, phone string, when time.Time, discovery models.DiscoveryData) (*models.BookingResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.lastEmail = email
	b.lastWhen = when
	return b.result, b.err
}

func (b *fakeBooker) AvailableSlots(ctx context.Context, date time.Time) ([]models.TimeSlot, error) {
	return nil, nil
}

func (b *fakeBooker) Initialized() bool { return b.initialized }

type fakeStore struct {
	mu        sync.Mutex
	records   []memory.ConversationRecord
	successes []string
	failures  []string
}

func (s *fakeStore) StoreConversationMemory(rec memory.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) GetCustomerContext(email string) (*memory.CustomerContext, error) {
	return nil, nil
}

func (s *fakeStore) GetMemoriesByType(email, memType string, limit int) ([]memory.Memory, error) {
	return nil, nil
}

func (s *fakeStore) StoreSuccessfulPattern(utterance string, candidate *models.AppointmentCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, utterance)
	return nil
}

func (s *fakeStore) StoreFailedAttempt(utterance, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, reason)
	return nil
}

func (s *fakeStore) BookingPatterns() ([]memory.BookingPattern, error) { return nil, nil }

func (s *fakeStore) Close() error { return nil }

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []string
	extras   []map[string]any
}

func (n *fakeNotifier) SendSchedulingPreference(ctx context.Context, name, email, phone, preferredTime, callID string, extra map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	status, _ := extra["booking_status"].(string)
	n.statuses = append(n.statuses, status)
	n.extras = append(n.extras, extra)
	return nil
}

func testContact() models.ContactInfo {
	return models.ContactInfo{
		CallID: "call_test",
		Email:  "jordan@example.com",
		Name:   "Jordan",
		Phone:  "+15551234567",
	}
}

func testCandidate(businessHours bool) *models.AppointmentCandidate {
	hour := 9
	display := "9:00 AM"
	if !businessHours {
		hour = 18
		display = "6:00 PM"
	}
	return &models.AppointmentCandidate{
		DayToken:         "thursday",
		Hour:             hour,
		ResolvedDateTime: time.Date(2025, 6, 12, hour, 0, 0, 0, time.UTC),
		DisplayTime:      display,
		IsBusinessHours:  businessHours,
		OriginalText:     "thursday at " + display,
		Source:           models.SourcePattern,
	}
}

func TestTryBookConfirmsAndContinues(t *testing.T) {
	speaker := &fakeSpeaker{}
	booker := &fakeBooker{initialized: true, result: &models.BookingResult{Success: true, MeetingLink: "https://meet.example.com/abc", EventID: "evt_1"}}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	coord := New(speaker, booker, store, notifier, WithContinuationDelay(0))

	ok := coord.TryBook(context.Background(), testContact(), testCandidate(true), models.DiscoveryData{"industry": "solar"}, 7)
	if !ok {
		t.Fatal("TryBook returned false for a valid candidate")
	}
	if !coord.AppointmentBooked() {
		t.Error("latch not set after confirmation")
	}
	lines := speaker.lines()
	if len(lines) != 1 {
		t.Fatalf("spoken lines = %d, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "Your appointment is confirmed!") {
		t.Errorf("confirmation = %q", lines[0])
	}
	if !strings.Contains(lines[0], "jordan@example.com") {
		t.Errorf("confirmation missing email: %q", lines[0])
	}

	coord.Wait()
	if coord.InProgress() {
		t.Error("BookingInProgress not cleared after continuation")
	}
	if booker.calls != 1 || booker.lastEmail != "jordan@example.com" {
		t.Errorf("booker calls = %d, email = %q", booker.calls, booker.lastEmail)
	}
	if len(store.records) != 1 || store.records[0].EndReason != "successful_booking" {
		t.Errorf("memory records = %+v", store.records)
	}
	if len(store.successes) != 1 {
		t.Errorf("learned successes = %v", store.successes)
	}
	if len(notifier.statuses) != 1 || notifier.statuses[0] != "success" {
		t.Errorf("webhook statuses = %v", notifier.statuses)
	}
	if notifier.extras[0]["meeting_link"] != "https://meet.example.com/abc" {
		t.Errorf("webhook extra = %v", notifier.extras[0])
	}
	if notifier.extras[0]["industry"] != "solar" {
		t.Errorf("discovery not merged into webhook extra: %v", notifier.extras[0])
	}
}

func TestTryBookRejectsOutsideBusinessHours(t *testing.T) {
	speaker := &fakeSpeaker{}
	coord := New(speaker, &fakeBooker{initialized: true}, nil, nil, WithContinuationDelay(0))

	if coord.TryBook(context.Background(), testContact(), testCandidate(false), nil, 1) {
		t.Fatal("TryBook accepted an after-hours candidate")
	}
	if coord.AppointmentBooked() {
		t.Error("latch set on rejection")
	}
	if coord.InProgress() {
		t.Error("BookingInProgress left set on rejection")
	}
	lines := speaker.lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "business hours are 8 AM to 4 PM") {
		t.Errorf("spoken = %v", lines)
	}
}

func TestTryBookRejectsPlaceholderEmail(t *testing.T) {
	speaker := &fakeSpeaker{}
	coord := New(speaker, &fakeBooker{initialized: true}, nil, nil, WithContinuationDelay(0))
	contact := testContact()
	contact.Email = models.PlaceholderEmail

	if coord.TryBook(context.Background(), contact, testCandidate(true), nil, 1) {
		t.Fatal("TryBook accepted a placeholder email")
	}
	lines := speaker.lines()
	if len(lines) != 1 || lines[0] != EmailRequestReply {
		t.Errorf("spoken = %v", lines)
	}
	if coord.AppointmentBooked() {
		t.Error("latch set on rejection")
	}
}

func TestTryBookCooldownIsSilent(t *testing.T) {
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	speaker := &fakeSpeaker{}
	booker := &fakeBooker{initialized: true, result: &models.BookingResult{Success: true}}
	coord := New(speaker, booker, nil, nil, WithContinuationDelay(0), WithClock(clock))

	// First attempt records the attempt time and speaks a redirect.
	coord.TryBook(context.Background(), testContact(), testCandidate(false), nil, 1)
	if got := len(speaker.lines()); got != 1 {
		t.Fatalf("spoken after first attempt = %d", got)
	}

	// Second attempt inside the cooldown says nothing at all.
	now = now.Add(5 * time.Second)
	if coord.TryBook(context.Background(), testContact(), testCandidate(true), nil, 2) {
		t.Fatal("TryBook succeeded inside the cooldown")
	}
	if got := len(speaker.lines()); got != 1 {
		t.Errorf("cooldown rejection spoke: %v", speaker.lines())
	}

	// Past the cooldown the attempt proceeds.
	now = now.Add(6 * time.Second)
	if !coord.TryBook(context.Background(), testContact(), testCandidate(true), nil, 3) {
		t.Fatal("TryBook failed after cooldown expiry")
	}
	coord.Wait()
}

func TestTryBookLatchIsTerminal(t *testing.T) {
	speaker := &fakeSpeaker{}
	coord := New(speaker, &fakeBooker{initialized: true, result: &models.BookingResult{Success: true}}, nil, nil, WithContinuationDelay(0), WithCooldown(0))

	if !coord.TryBook(context.Background(), testContact(), testCandidate(true), nil, 1) {
		t.Fatal("first TryBook failed")
	}
	coord.Wait()
	if coord.TryBook(context.Background(), testContact(), testCandidate(true), nil, 2) {
		t.Fatal("second TryBook succeeded after latch")
	}
	if got := len(speaker.lines()); got != 1 {
		t.Errorf("spoken lines = %d, want 1", got)
	}
}

func TestTryBookBackendFailureKeepsConfirmation(t *testing.T) {
	speaker := &fakeSpeaker{}
	booker := &fakeBooker{initialized: true, result: &models.BookingResult{Success: false, Error: "slot taken"}}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	coord := New(speaker, booker, store, notifier, WithContinuationDelay(0))

	if !coord.TryBook(context.Background(), testContact(), testCandidate(true), nil, 1) {
		t.Fatal("TryBook returned false")
	}
	coord.Wait()

	if !coord.AppointmentBooked() {
		t.Error("latch retracted on backend failure")
	}
	if coord.InProgress() {
		t.Error("BookingInProgress not cleared")
	}
	if len(store.failures) != 1 || store.failures[0] != "slot taken" {
		t.Errorf("learned failures = %v", store.failures)
	}
	if len(notifier.statuses) != 1 || notifier.statuses[0] != "failed" {
		t.Errorf("webhook statuses = %v", notifier.statuses)
	}
	if notifier.extras[0]["needs_manual_booking"] != true {
		t.Errorf("webhook extra = %v", notifier.extras[0])
	}
	if got := len(speaker.lines()); got != 1 {
		t.Errorf("spoken lines = %d, want 1 (no retraction)", got)
	}
}

func TestTryBookUnconfiguredCalendarReportsError(t *testing.T) {
	speaker := &fakeSpeaker{}
	notifier := &fakeNotifier{}
	coord := New(speaker, &fakeBooker{initialized: false}, nil, notifier, WithContinuationDelay(0))

	if !coord.TryBook(context.Background(), testContact(), testCandidate(true), nil, 1) {
		t.Fatal("TryBook returned false")
	}
	coord.Wait()
	if len(notifier.statuses) != 1 || notifier.statuses[0] != "error" {
		t.Errorf("webhook statuses = %v", notifier.statuses)
	}
	if !coord.AppointmentBooked() {
		t.Error("latch retracted on calendar error")
	}
}
