// Package memory provides the persistent customer-memory backends for
// VoiceFlow.
//
// It stores per-customer conversation memories (keyed by email) and the
// learned booking phrase patterns used for intelligent appointment
// detection. SQLite and PostgreSQL backends are provided; all calls are
// best-effort from the conversation core's perspective. Failures are
// logged by callers and never surface to the user.
package memory

import (
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

// Memory types stored per customer.
const (
	TypeConversation    = "conversation"
	TypeBusinessContext = "business_context"
)

// Memory is one stored customer memory row.
type Memory struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationRecord captures the outcome of one call for storage.
type ConversationRecord struct {
	CallID              string               `json:"call_id"`
	Contact             models.ContactInfo   `json:"contact"`
	DurationMinutes     int                  `json:"duration_minutes"`
	QuestionsCompleted  int                  `json:"questions_completed"`
	SchedulingCompleted bool                 `json:"scheduling_completed"`
	AppointmentBooked   bool                 `json:"appointment_booked"`
	AppointmentTime     string               `json:"appointment_time,omitempty"`
	Sentiment           string               `json:"sentiment"`
	EndReason           string               `json:"end_reason"`
	Discovery           models.DiscoveryData `json:"discovery"`
}

// CustomerContext summarizes what is known about a returning customer.
type CustomerContext struct {
	Email             string    `json:"email"`
	TotalInteractions int       `json:"total_interactions"`
	LastInteraction   time.Time `json:"last_interaction"`
	BusinessContext   string    `json:"business_context,omitempty"`
}

// IsReturning reports whether the customer has any prior interactions.
func (c *CustomerContext) IsReturning() bool {
	return c != nil && c.TotalInteractions > 0
}

// BookingPattern is a learned appointment phrase with its outcome
// counters.
type BookingPattern struct {
	ID        string    `json:"id"`
	Utterance string    `json:"utterance"`
	Day       string    `json:"day"`
	TimeText  string    `json:"time_text"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract shared by the SQLite and Postgres
// backends.
type Store interface {
	StoreConversationMemory(rec ConversationRecord) error
	GetCustomerContext(email string) (*CustomerContext, error)
	GetMemoriesByType(email, memType string, limit int) ([]Memory, error)
	StoreSuccessfulPattern(utterance string, candidate *models.AppointmentCandidate) error
	StoreFailedAttempt(utterance, reason string) error
	BookingPatterns() ([]BookingPattern, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, connection
// string for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
