// Package discovery owns the six-question discovery progress for each
// call.
//
// A Manager is shared by all live calls; every operation is keyed by
// call ID and safe for concurrent use. The question bank is fixed: the
// conversation controller asks questions one at a time and records
// answers here, and booking/webhook collaborators consume the final
// answer set.
package discovery

import (
	"log/slog"
	"sync"

	"github.com/nexella/voiceflow/internal/models"
)

// question pairs the spoken question text with the field name used in
// discovery data handed to collaborators.
type question struct {
	Text  string
	Field string
}

// questionBank is the fixed six-question discovery script, in order.
var questionBank = []question{
	{"How did you hear about us?", "hear_about_us"},
	{"What industry or business are you in?", "industry"},
	{"What's your main product or service?", "product_service"},
	{"Are you currently running any ads?", "running_ads"},
	{"Are you using any CRM system?", "crm_system"},
	{"What are your biggest pain points or challenges?", "pain_points"},
}

// QuestionCount is the number of discovery questions per call.
const QuestionCount = 6

// Progress is a snapshot of a call's discovery state.
type Progress struct {
	QuestionsCompleted   int
	CurrentQuestionIndex int
	WaitingForAnswer     bool
	SchedulingStarted    bool
	GreetingCompleted    bool
}

// session is the per-call mutable state. Guarded by the Manager mutex.
type session struct {
	asked             [QuestionCount]bool
	answered          [QuestionCount]bool
	answers           [QuestionCount]string
	currentIndex      int
	waitingForAnswer  bool
	schedulingStarted bool
	greetingCompleted bool
}

// Manager tracks discovery sessions for all live calls.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates an empty discovery manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// getSession returns the session for a call, creating it on first use.
// Caller holds the mutex.
func (m *Manager) getSession(callID string) *session {
	s, ok := m.sessions[callID]
	if !ok {
		s = &session{}
		m.sessions[callID] = s
		slog.Debug("Manager.getSession: created discovery session", "call_id", callID)
	}
	return s
}

// Progress returns the current progress snapshot for a call.
func (m *Manager) Progress(callID string) Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getSession(callID)
	return Progress{
		QuestionsCompleted:   s.completed(),
		CurrentQuestionIndex: s.currentIndex,
		WaitingForAnswer:     s.waitingForAnswer,
		SchedulingStarted:    s.schedulingStarted,
		GreetingCompleted:    s.greetingCompleted,
	}
}

// MarkQuestionAsked records that the question at index was asked and
// that the call now waits for its answer. Returns false for an invalid
// index or a question already answered.
func (m *Manager) MarkQuestionAsked(callID string, index int, spokenText string) bool {
	if index < 0 || index >= QuestionCount {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getSession(callID)
	if s.answered[index] {
		slog.Debug("Manager.MarkQuestionAsked: question already answered", "call_id", callID, "index", index)
		return false
	}
	s.asked[index] = true
	s.currentIndex = index
	s.waitingForAnswer = true
	slog.Debug("Manager.MarkQuestionAsked: waiting for answer", "call_id", callID, "index", index, "spoken", spokenText)
	return true
}

// CaptureAnswer records the answer for the question at index. Returns
// false when the question was not asked, was already answered, or the
// index is invalid.
func (m *Manager) CaptureAnswer(callID string, index int, answer string) bool {
	if index < 0 || index >= QuestionCount {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getSession(callID)
	if !s.asked[index] || s.answered[index] {
		slog.Debug("Manager.CaptureAnswer: rejected", "call_id", callID, "index", index, "asked", s.asked[index], "answered", s.answered[index])
		return false
	}
	s.answered[index] = true
	s.answers[index] = answer
	s.waitingForAnswer = false
	slog.Info("Manager.CaptureAnswer: answer captured", "call_id", callID, "index", index, "completed", s.completed())
	return true
}

// NextUnansweredQuestion returns the index and spoken text of the first
// unanswered question, or ok=false when discovery is complete.
func (m *Manager) NextUnansweredQuestion(callID string) (index int, text string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getSession(callID)
	for i := range questionBank {
		if !s.answered[i] {
			return i, questionBank[i].Text, true
		}
	}
	return 0, "", false
}

// QuestionText returns the spoken text for a question index.
func QuestionText(index int) string {
	if index < 0 || index >= QuestionCount {
		return ""
	}
	return questionBank[index].Text
}

// MarkSchedulingStarted flags that the call has moved into scheduling.
func (m *Manager) MarkSchedulingStarted(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getSession(callID)
	if !s.schedulingStarted {
		s.schedulingStarted = true
		slog.Info("Manager.MarkSchedulingStarted: scheduling phase entered", "call_id", callID)
	}
}

// MarkGreetingCompleted flags that the greeting was delivered.
func (m *Manager) MarkGreetingCompleted(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getSession(callID).greetingCompleted = true
}

// FinalDiscoveryData returns the captured answers keyed by field name.
// Unanswered questions are omitted.
func (m *Manager) FinalDiscoveryData(callID string) models.DiscoveryData {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getSession(callID)
	data := models.DiscoveryData{}
	for i, q := range questionBank {
		if s.answered[i] {
			data[q.Field] = s.answers[i]
		}
	}
	return data
}

// RemoveSession discards a call's discovery state after the connection
// closes.
func (m *Manager) RemoveSession(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, callID)
}

func (s *session) completed() int {
	n := 0
	for _, a := range s.answered {
		if a {
			n++
		}
	}
	return n
}
