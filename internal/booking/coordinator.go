// Package booking owns the one-shot appointment commitment for a call
// session.
//
// The coordinator runs the guard checks, speaks the optimistic
// confirmation, sets the terminal AppointmentBooked latch, and then
// continues in the background: the real calendar booking, memory
// storage, pattern learning, and outcome webhooks. A confirmation once
// spoken is never retracted; backend failure is reported outward for
// manual follow-up instead.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexella/voiceflow/internal/calendar"
	"github.com/nexella/voiceflow/internal/memory"
	"github.com/nexella/voiceflow/internal/models"
	"github.com/nexella/voiceflow/internal/webhook"
)

const (
	// DefaultCooldown is the minimum interval between booking attempts.
	DefaultCooldown = 10 * time.Second
	// DefaultContinuationDelay is the pause before the background
	// booking starts, letting the spoken confirmation play out first.
	DefaultContinuationDelay = time.Second
	// ContinuationTimeout bounds the whole background continuation.
	ContinuationTimeout = 30 * time.Second
)

// EmailRequestReply is spoken when no valid customer email is known.
const EmailRequestReply = "I'd love to book that appointment for you! Could you provide your email address so I can send you the calendar invitation?"

// Speaker delivers one spoken line to the caller. Satisfied by the
// response gate.
type Speaker interface {
	TrySend(ctx context.Context, text string, responseID int64) bool
}

// Opts holds configuration options for a Coordinator.
type Opts struct {
	Cooldown          time.Duration
	ContinuationDelay time.Duration
	StartedAt         time.Time
	SMS               webhook.SMSNotifier
	Clock             func() time.Time
}

// Option defines a configuration option for a Coordinator.
type Option func(*Opts)

// WithCooldown overrides the booking attempt cooldown.
func WithCooldown(d time.Duration) Option {
	return func(o *Opts) { o.Cooldown = d }
}

// WithContinuationDelay overrides the background continuation delay.
func WithContinuationDelay(d time.Duration) Option {
	return func(o *Opts) { o.ContinuationDelay = d }
}

// WithStartedAt sets the call start time used for duration reporting.
func WithStartedAt(t time.Time) Option {
	return func(o *Opts) { o.StartedAt = t }
}

// WithSMS enables the SMS booking confirmation.
func WithSMS(sms webhook.SMSNotifier) Option {
	return func(o *Opts) { o.SMS = sms }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Coordinator owns the BookingState slice of a call session.
type Coordinator struct {
	mu         sync.Mutex
	state      models.BookingState
	bookedTime string

	speaker  Speaker
	booker   calendar.Booker
	store    memory.Store
	notifier webhook.Notifier
	sms      webhook.SMSNotifier

	cooldown  time.Duration
	delay     time.Duration
	startedAt time.Time
	clock     func() time.Time

	wg sync.WaitGroup
}

// New creates a Coordinator for one call session. The store, notifier,
// and SMS collaborators may be nil; their steps are skipped.
func New(speaker Speaker, booker calendar.Booker, store memory.Store, notifier webhook.Notifier, opts ...Option) *Coordinator {
	cfg := Opts{
		Cooldown:          DefaultCooldown,
		ContinuationDelay: DefaultContinuationDelay,
		Clock:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = cfg.Clock()
	}
	return &Coordinator{
		speaker:   speaker,
		booker:    booker,
		store:     store,
		notifier:  notifier,
		sms:       cfg.SMS,
		cooldown:  cfg.Cooldown,
		delay:     cfg.ContinuationDelay,
		startedAt: cfg.StartedAt,
		clock:     cfg.Clock,
	}
}

// AppointmentBooked reports whether the terminal latch is set.
func (c *Coordinator) AppointmentBooked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.AppointmentBooked
}

// InProgress reports whether a booking attempt is currently running.
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.BookingInProgress
}

// BookedTime returns the display time of the committed appointment, or
// "" when nothing was booked.
func (c *Coordinator) BookedTime() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bookedTime
}

// Wait blocks until any background continuation has finished. Used at
// session close and in tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// TryBook runs one booking attempt for the parsed candidate. It returns
// true only when the optimistic confirmation was issued and the latch
// set; guard rejections return false (two of them speak a redirect
// first, the cooldown rejection is silent).
func (c *Coordinator) TryBook(ctx context.Context, contact models.ContactInfo, candidate *models.AppointmentCandidate, discovery models.DiscoveryData, responseID int64) bool {
	now := c.clock()

	c.mu.Lock()
	if c.state.AppointmentBooked || c.state.BookingInProgress {
		c.mu.Unlock()
		return false
	}
	if !c.state.LastBookingAttemptAt.IsZero() && now.Sub(c.state.LastBookingAttemptAt) < c.cooldown {
		c.mu.Unlock()
		slog.Info("Coordinator.TryBook: cooldown active, ignoring", "call_id", contact.CallID)
		return false
	}
	c.state.LastBookingAttemptAt = now
	c.state.BookingInProgress = true
	c.mu.Unlock()

	slog.Info("Coordinator.TryBook: processing appointment request",
		"call_id", contact.CallID,
		"day", candidate.DayToken,
		"time", candidate.DisplayTime,
		"source", candidate.Source)

	if !candidate.IsBusinessHours {
		reply := fmt.Sprintf("I'd love to schedule you for %s at %s, but our business hours are 8 AM to 4 PM Arizona time. Would you like to choose a time between 8 AM and 4 PM instead?",
			candidate.DayToken, candidate.DisplayTime)
		c.speaker.TrySend(ctx, reply, responseID)
		c.clearInProgress()
		return false
	}

	if !contact.HasValidEmail() {
		slog.Info("Coordinator.TryBook: no valid customer email", "call_id", contact.CallID)
		c.speaker.TrySend(ctx, EmailRequestReply, responseID)
		c.clearInProgress()
		return false
	}

	confirmation := fmt.Sprintf("Perfect! I'm booking you for %s at %s Arizona time right now. Your appointment is confirmed! You'll receive a calendar invitation at %s shortly.",
		candidate.DayToken, candidate.DisplayTime, contact.Email)
	c.speaker.TrySend(ctx, confirmation, responseID)

	c.mu.Lock()
	c.state.AppointmentBooked = true
	c.bookedTime = candidate.DisplayTime
	c.mu.Unlock()

	c.wg.Add(1)
	go c.continueBooking(contact, candidate, discovery)
	return true
}

func (c *Coordinator) clearInProgress() {
	c.mu.Lock()
	c.state.BookingInProgress = false
	c.mu.Unlock()
}

// continueBooking performs the real calendar booking and outcome
// reporting. It runs detached from the turn and from the socket.
func (c *Coordinator) continueBooking(contact models.ContactInfo, candidate *models.AppointmentCandidate, discovery models.DiscoveryData) {
	defer c.wg.Done()
	defer c.clearInProgress()

	time.Sleep(c.delay)

	ctx, cancel := context.WithTimeout(context.Background(), ContinuationTimeout)
	defer cancel()

	name := contact.Name
	if name == "" {
		name = "Customer"
	}

	if c.booker == nil || !c.booker.Initialized() {
		slog.Warn("Coordinator.continueBooking: calendar not configured", "call_id", contact.CallID)
		c.learnFailure(candidate, "calendar backend not configured")
		c.sendOutcomeWebhook(ctx, contact, candidate, discovery, nil, "error")
		return
	}

	result, err := c.booker.Book(ctx, name, contact.Email, contact.Phone, candidate.ResolvedDateTime, discovery)
	if err != nil {
		slog.Error("Coordinator.continueBooking: booking call failed", "call_id", contact.CallID, "error", err)
		c.learnFailure(candidate, err.Error())
		c.sendOutcomeWebhook(ctx, contact, candidate, discovery, nil, "error")
		return
	}
	if !result.Success {
		slog.Warn("Coordinator.continueBooking: backend rejected booking", "call_id", contact.CallID, "error", result.Error)
		c.learnFailure(candidate, result.Error)
		c.sendOutcomeWebhook(ctx, contact, candidate, discovery, nil, "failed")
		return
	}

	slog.Info("Coordinator.continueBooking: booking succeeded",
		"call_id", contact.CallID,
		"event_id", result.EventID,
		"meeting_link", result.MeetingLink)

	c.storeSuccess(contact, candidate, discovery)
	c.learnSuccess(candidate)
	c.sendOutcomeWebhook(ctx, contact, candidate, discovery, result, "success")
	c.sendSMS(ctx, contact, candidate, result)
}

// storeSuccess records the completed interaction in customer memory.
func (c *Coordinator) storeSuccess(contact models.ContactInfo, candidate *models.AppointmentCandidate, discovery models.DiscoveryData) {
	if c.store == nil {
		return
	}
	rec := memory.ConversationRecord{
		CallID:              contact.CallID,
		Contact:             contact,
		DurationMinutes:     int(c.clock().Sub(c.startedAt).Minutes()),
		QuestionsCompleted:  6,
		SchedulingCompleted: true,
		AppointmentBooked:   true,
		AppointmentTime:     candidate.DisplayTime,
		Sentiment:           "positive",
		EndReason:           "successful_booking",
		Discovery:           discovery,
	}
	if err := c.store.StoreConversationMemory(rec); err != nil {
		slog.Error("Coordinator.storeSuccess: memory store failed", "call_id", contact.CallID, "error", err)
	}
}

// learnSuccess records the matched phrase as a successful booking
// pattern. Candidates that came from a learned hint are not re-learned.
func (c *Coordinator) learnSuccess(candidate *models.AppointmentCandidate) {
	if c.store == nil || candidate.Source == models.SourceMemory {
		return
	}
	if err := c.store.StoreSuccessfulPattern(candidate.OriginalText, candidate); err != nil {
		slog.Error("Coordinator.learnSuccess: pattern store failed", "error", err)
	}
}

func (c *Coordinator) learnFailure(candidate *models.AppointmentCandidate, reason string) {
	if c.store == nil {
		return
	}
	if err := c.store.StoreFailedAttempt(candidate.OriginalText, reason); err != nil {
		slog.Error("Coordinator.learnFailure: pattern store failed", "error", err)
	}
}

// sendOutcomeWebhook reports the attempt outward. The payload carries
// the discovery answers plus booking outcome fields.
func (c *Coordinator) sendOutcomeWebhook(ctx context.Context, contact models.ContactInfo, candidate *models.AppointmentCandidate, discovery models.DiscoveryData, result *models.BookingResult, status string) {
	if c.notifier == nil {
		return
	}
	extra := map[string]any{
		"appointment_requested":     true,
		"requested_time":            candidate.DisplayTime,
		"requested_day":             candidate.DayToken,
		"booking_status":            status,
		"calendar_status":           status,
		"booking_confirmed_to_user": true,
		"memory_enhanced":           true,
	}
	for field, answer := range discovery {
		extra[field] = answer
	}
	if result != nil && result.Success {
		extra["appointment_booked"] = true
		extra["meeting_link"] = result.MeetingLink
		extra["event_id"] = result.EventID
		extra["event_link"] = result.EventLink
	} else {
		extra["needs_manual_booking"] = true
	}

	name := contact.Name
	if name == "" {
		name = "Customer"
	}
	preferred := fmt.Sprintf("%s at %s", candidate.DayToken, candidate.DisplayTime)
	if err := c.notifier.SendSchedulingPreference(ctx, name, contact.Email, contact.Phone, preferred, contact.CallID, extra); err != nil {
		slog.Error("Coordinator.sendOutcomeWebhook: delivery failed", "call_id", contact.CallID, "status", status, "error", err)
	}
}

// sendSMS texts the confirmation when a phone number is known.
func (c *Coordinator) sendSMS(ctx context.Context, contact models.ContactInfo, candidate *models.AppointmentCandidate, result *models.BookingResult) {
	if c.sms == nil || contact.Phone == "" {
		return
	}
	if err := c.sms.SendBookingConfirmation(ctx, contact.Phone, candidate.DayToken, candidate.DisplayTime, result.MeetingLink); err != nil {
		slog.Error("Coordinator.sendSMS: confirmation text failed", "call_id", contact.CallID, "error", err)
	}
}
