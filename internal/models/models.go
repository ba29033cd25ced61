// Package models defines the core data structures for VoiceFlow.
//
// It includes the transcript event and outbound message wire types, the
// parsed appointment candidate, and the per-call session state shared
// across the conversation, gate, and booking packages.
package models

import (
	"strings"
	"time"
)

// ConfidenceSource records how an appointment candidate was obtained.
type ConfidenceSource string

const (
	// SourcePattern means the candidate came from textual pattern matching.
	SourcePattern ConfidenceSource = "pattern"
	// SourceMemory means the candidate came from a learned booking hint.
	SourceMemory ConfidenceSource = "memory"
)

// Business-hours window (local operating timezone), inclusive start,
// exclusive end.
const (
	BusinessHoursStart = 8
	BusinessHoursEnd   = 16
)

// PlaceholderEmail is the sentinel address used upstream when no real
// customer email is known. It is never treated as a valid contact.
const PlaceholderEmail = "prospect@example.com"

// TranscriptUtterance is a single entry of the inbound transcript list.
type TranscriptUtterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallMetadata carries customer fields supplied in-band by the call
// platform.
type CallMetadata struct {
	CustomerEmail string `json:"customer_email,omitempty"`
	Email         string `json:"email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	Name          string `json:"name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// CallInfo is the call object optionally attached to inbound events.
type CallInfo struct {
	CallID   string        `json:"call_id,omitempty"`
	ToNumber string        `json:"to_number,omitempty"`
	Metadata *CallMetadata `json:"metadata,omitempty"`
}

// TranscriptEvent is the inbound wire message for one turn. The last
// transcript entry is the newest utterance.
type TranscriptEvent struct {
	InteractionType string                `json:"interaction_type"`
	ResponseID      int64                 `json:"response_id"`
	Transcript      []TranscriptUtterance `json:"transcript"`
	Call            *CallInfo             `json:"call,omitempty"`
}

// LatestUtterance returns the newest transcript entry's content, or ""
// when the transcript is empty.
func (e *TranscriptEvent) LatestUtterance() string {
	if len(e.Transcript) == 0 {
		return ""
	}
	return e.Transcript[len(e.Transcript)-1].Content
}

// OutboundMessage is the outbound wire message. ContentComplete is
// always true: partial responses are not produced.
type OutboundMessage struct {
	Content         string   `json:"content"`
	ContentComplete bool     `json:"content_complete"`
	Actions         []string `json:"actions"`
	ResponseID      int64    `json:"response_id"`
}

// ContactInfo holds the customer identity attached to a call session.
type ContactInfo struct {
	CallID string `json:"call_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Source string `json:"source"`
}

// HasValidEmail reports whether a real (non-placeholder) customer email
// is known.
func (c *ContactInfo) HasValidEmail() bool {
	return c.Email != "" && c.Email != PlaceholderEmail
}

// DisplayName returns the customer name suitable for a spoken greeting,
// or "" when only the generic placeholder name is known.
func (c *ContactInfo) DisplayName() string {
	if c.Name == "" || c.Name == "Customer" {
		return ""
	}
	return c.Name
}

// AppointmentCandidate is a parsed, not-yet-committed appointment time
// extracted from an utterance. It is produced by the parser and
// consumed exactly once by the booking coordinator.
type AppointmentCandidate struct {
	DayToken         string           `json:"day_token"`
	Hour             int              `json:"hour"`   // 24-hour, already resolved
	Minute           int              `json:"minute"`
	ResolvedDateTime time.Time        `json:"resolved_date_time"`
	DisplayTime      string           `json:"display_time"` // 12-hour form, e.g. "9:00 AM"
	IsBusinessHours  bool             `json:"is_business_hours"`
	OriginalText     string           `json:"original_text"`
	Source           ConfidenceSource `json:"source"`
}

// BookingResult is the outcome of the external booking call.
type BookingResult struct {
	Success     bool   `json:"success"`
	MeetingLink string `json:"meeting_link,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	EventLink   string `json:"event_link,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TimeSlot is a single open slot reported by the availability
// collaborator.
type TimeSlot struct {
	Start       time.Time `json:"start"`
	DisplayTime string    `json:"display_time"`
}

// DiscoveryData is the answer set handed to booking, memory, and
// webhook collaborators once discovery completes.
type DiscoveryData map[string]string

// GateState is the response-gate slice of session state. Owned
// exclusively by the gate.
type GateState struct {
	LastResponseAt          time.Time
	RecentResponseTimes     []time.Time // sliding 60-second window
	LastBookingResponseText string
}

// BookingState is the booking-coordinator slice of session state.
// AppointmentBooked is a terminal latch: once true it is never reset
// within the session.
type BookingState struct {
	AppointmentBooked    bool
	BookingInProgress    bool
	LastBookingAttemptAt time.Time
}

// PhaseState is the phase-controller slice of session state. The
// booleans are monotonic false-to-true.
type PhaseState struct {
	HasGreeted     bool
	UserHasSpoken  bool
	ConnectedAt    time.Time
	FirstSpokenAt  time.Time
	LastUtterances []string // tail of user utterances, for sentiment
}

// RecordUtterance appends a user utterance, keeping only the last three
// for close-time sentiment detection.
func (p *PhaseState) RecordUtterance(text string) {
	p.LastUtterances = append(p.LastUtterances, text)
	if len(p.LastUtterances) > 3 {
		p.LastUtterances = p.LastUtterances[len(p.LastUtterances)-3:]
	}
}

// Sentiment classifies the closing user sentiment from the last few
// utterances. Crude keyword matching, used only for memory records.
func (p *PhaseState) Sentiment() string {
	joined := strings.ToLower(strings.Join(p.LastUtterances, " "))
	switch {
	case strings.Contains(joined, "great"), strings.Contains(joined, "perfect"), strings.Contains(joined, "thanks"):
		return "positive"
	case strings.Contains(joined, "problem"), strings.Contains(joined, "difficult"), strings.Contains(joined, "frustrated"):
		return "negative"
	default:
		return "neutral"
	}
}
