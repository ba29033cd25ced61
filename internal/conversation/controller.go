// Package conversation implements the per-call phase controller: the
// fixed progression from greeting through six-question discovery into
// scheduling and booking.
//
// One Controller serves one call. Turns arrive sequentially from the
// connection read loop; every spoken reply leaves through the response
// gate, and the booking commitment is delegated to the coordinator.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/nexella/voiceflow/internal/booking"
	"github.com/nexella/voiceflow/internal/calendar"
	"github.com/nexella/voiceflow/internal/discovery"
	"github.com/nexella/voiceflow/internal/gate"
	"github.com/nexella/voiceflow/internal/genai"
	"github.com/nexella/voiceflow/internal/memory"
	"github.com/nexella/voiceflow/internal/models"
	"github.com/nexella/voiceflow/internal/timeparse"
)

// systemPrompt frames the generated replies for turns no scripted
// branch handles.
const systemPrompt = `You are Sarah from Nexella AI, a friendly professional assistant with memory of past interactions.

CONVERSATION FLOW:
1. GREETING: Wait for the user to speak first, then greet and ask the first question
2. DISCOVERY: Ask the six discovery questions ONE AT A TIME
3. SCHEDULING: After ALL six questions, transition to scheduling

SCHEDULING APPROACH:
- Our business hours are 8 AM to 4 PM Arizona time (MST), Monday through Friday
- When the customer specifies a day and time, book the appointment immediately
- Always confirm the Arizona timezone in booking confirmations
- Always mention they'll receive a calendar invitation at their email

CRITICAL RULES:
- Ask questions slowly, one at a time
- Capture answers properly before moving to the next question
- Be conversational but follow the exact question order`

// contextualAcknowledgments rotate per answered question index.
var contextualAcknowledgments = []string{
	"Great!",
	"Perfect!",
	"Excellent!",
	"That's helpful!",
	"I understand.",
	"Thank you!",
}

// invalidAnswerPatterns reject question echoes and bare fillers as
// discovery answers. Matched against the lowercased trimmed utterance.
var invalidAnswerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(what|how|where|when|why|who)\b`),
	regexp.MustCompile(`hear about`),
	regexp.MustCompile(`industry or business`),
	regexp.MustCompile(`main product`),
	regexp.MustCompile(`running.*ads`),
	regexp.MustCompile(`crm system`),
	regexp.MustCompile(`pain points`),
	regexp.MustCompile(`^(uh|um|er|ah)$`),
}

// Opts holds configuration options for a Controller.
type Opts struct {
	Store  memory.Store
	Booker calendar.Booker
	AI     genai.ClientInterface
	Clock  func() time.Time
}

// Option defines a configuration option for a Controller.
type Option func(*Opts)

// WithStore sets the customer-memory store.
func WithStore(s memory.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithBooker sets the calendar collaborator used for availability.
func WithBooker(b calendar.Booker) Option {
	return func(o *Opts) { o.Booker = b }
}

// WithAI sets the generic-response collaborator.
func WithAI(ai genai.ClientInterface) Option {
	return func(o *Opts) { o.AI = ai }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Controller drives the conversation phases for one call.
type Controller struct {
	callID    string
	gate      *gate.Gate
	coord     *booking.Coordinator
	discovery *discovery.Manager

	store  memory.Store
	intel  *memory.Intelligence
	booker calendar.Booker
	ai     genai.ClientInterface
	clock  func() time.Time

	phase   models.PhaseState
	profile *memory.CustomerContext
	history []openai.ChatCompletionMessageParamUnion
}

// New creates a Controller for one call session.
func New(callID string, g *gate.Gate, coord *booking.Coordinator, disc *discovery.Manager, opts ...Option) *Controller {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Controller{
		callID:    callID,
		gate:      g,
		coord:     coord,
		discovery: disc,
		store:     cfg.Store,
		booker:    cfg.Booker,
		ai:        cfg.AI,
		clock:     cfg.Clock,
	}
	if cfg.Store != nil {
		c.intel = memory.NewIntelligence(cfg.Store)
	}
	c.phase.ConnectedAt = c.clock()
	return c
}

// LoadProfile fetches the returning-customer context for the given
// email. Best-effort; failures leave the profile empty.
func (c *Controller) LoadProfile(email string) {
	if c.store == nil || email == "" || email == models.PlaceholderEmail {
		return
	}
	profile, err := c.store.GetCustomerContext(email)
	if err != nil {
		slog.Warn("Controller.LoadProfile: customer context lookup failed", "call_id", c.callID, "error", err)
		return
	}
	c.profile = profile
	if profile.IsReturning() {
		slog.Info("Controller.LoadProfile: returning customer", "call_id", c.callID, "interactions", profile.TotalInteractions)
	}
}

// AdoptCallID rebinds the controller to the corrected call ID supplied
// in-band by the call platform. Must happen before any turn is handled;
// discovery state is keyed by this ID.
func (c *Controller) AdoptCallID(callID string) {
	c.callID = callID
}

// Sentiment reports the crude closing sentiment for memory records.
func (c *Controller) Sentiment() string {
	return c.phase.Sentiment()
}

// ConnectedAt returns when the session was established.
func (c *Controller) ConnectedAt() time.Time {
	return c.phase.ConnectedAt
}

// HandleTurn processes one user utterance. Called sequentially by the
// connection read loop.
func (c *Controller) HandleTurn(ctx context.Context, contact models.ContactInfo, utterance string, responseID int64) {
	now := c.clock()
	if !c.phase.UserHasSpoken {
		c.phase.UserHasSpoken = true
		c.phase.FirstSpokenAt = now
	}
	c.phase.RecordUtterance(utterance)

	slog.Info("Controller.HandleTurn: user utterance", "call_id", c.callID, "length", len(utterance))

	// Terminal latch: once booked, the conversation is over.
	if c.coord.AppointmentBooked() {
		slog.Debug("Controller.HandleTurn: appointment already booked, ignoring", "call_id", c.callID)
		return
	}

	// Anti-loop pre-filter: swallow turns that arrive before the
	// minimum spacing has elapsed since the last reply.
	if last := c.gate.LastResponseAt(); !last.IsZero() && now.Sub(last) < c.gate.MinSpacing() {
		slog.Debug("Controller.HandleTurn: turn inside minimum spacing, ignoring", "call_id", c.callID)
		return
	}

	c.history = append(c.history, openai.UserMessage(utterance))

	if !c.phase.HasGreeted {
		c.handleGreeting(ctx, contact, responseID)
		return
	}

	progress := c.discovery.Progress(c.callID)

	// Booking detection runs before everything else once discovery is
	// complete, so a spoken day-and-time is never lost to another branch.
	if progress.QuestionsCompleted >= discovery.QuestionCount && !c.coord.InProgress() {
		if candidate := c.detectAppointment(utterance, now); candidate != nil {
			slog.Info("Controller.HandleTurn: appointment request detected",
				"call_id", c.callID, "day", candidate.DayToken, "time", candidate.DisplayTime, "source", candidate.Source)
			if c.coord.TryBook(ctx, contact, candidate, c.discovery.FinalDiscoveryData(c.callID), responseID) {
				c.discovery.MarkSchedulingStarted(c.callID)
			}
			return
		}
	}

	if progress.QuestionsCompleted < discovery.QuestionCount && !progress.SchedulingStarted {
		c.handleDiscovery(ctx, contact, utterance, responseID, progress)
		return
	}

	if progress.QuestionsCompleted >= discovery.QuestionCount || progress.SchedulingStarted {
		c.handleScheduling(ctx, responseID)
		return
	}

	c.handleGeneric(ctx, contact, responseID)
}

// handleGreeting speaks the opening line once the user has spoken
// first. Returning customers get the personalized variant.
func (c *Controller) handleGreeting(ctx context.Context, contact models.ContactInfo, responseID int64) {
	c.phase.HasGreeted = true

	name := contact.DisplayName()
	if name != "" {
		name = " " + name
	}
	var greeting string
	if c.profile.IsReturning() {
		greeting = fmt.Sprintf("Hi%s! Great to hear from you again. This is Sarah from Nexella AI. How are things going?", name)
	} else {
		greeting = fmt.Sprintf("Hi%s! This is Sarah from Nexella AI. How are you doing today?", name)
	}

	c.history = append(c.history, openai.AssistantMessage(greeting))
	c.gate.TrySend(ctx, greeting, responseID)
	c.discovery.MarkGreetingCompleted(c.callID)
}

// detectAppointment extracts a candidate from the utterance, trying the
// learned-pattern hint before textual parsing.
func (c *Controller) detectAppointment(utterance string, now time.Time) *models.AppointmentCandidate {
	if hint := c.intel.BookingHint(utterance); hint.Confident {
		if candidate := timeparse.FromHint(utterance, hint.Day, hint.TimeText, now); candidate != nil {
			return candidate
		}
	}
	return timeparse.Parse(utterance, now)
}

// handleDiscovery advances the six-question discovery script by one
// step: capture a pending answer, ask the next question, or re-ask.
func (c *Controller) handleDiscovery(ctx context.Context, contact models.ContactInfo, utterance string, responseID int64, progress discovery.Progress) {
	// Returning customers with stored business context skip the first
	// two questions and jump to current challenges.
	if c.profile.IsReturning() && progress.QuestionsCompleted == 0 && !progress.WaitingForAnswer {
		if c.discoverFromMemory(ctx, contact, utterance, responseID) {
			return
		}
	}

	if progress.GreetingCompleted && progress.QuestionsCompleted == 0 && !progress.WaitingForAnswer {
		first := discovery.QuestionText(0)
		response := c.greetingAcknowledgment(utterance) + " " + first
		c.discovery.MarkQuestionAsked(c.callID, 0, first)
		c.history = append(c.history, openai.AssistantMessage(response))
		c.gate.TrySend(ctx, response, responseID)
		return
	}

	if progress.WaitingForAnswer {
		if c.isValidAnswer(utterance) && c.discovery.CaptureAnswer(c.callID, progress.CurrentQuestionIndex, strings.TrimSpace(utterance)) {
			updated := c.discovery.Progress(c.callID)
			if updated.QuestionsCompleted >= discovery.QuestionCount {
				c.discovery.MarkSchedulingStarted(c.callID)
				response := "Perfect! I have all the information I need. Let's find you a time that works. What day works best for you?"
				c.history = append(c.history, openai.AssistantMessage(response))
				c.gate.TrySend(ctx, response, responseID)
				return
			}

			index, text, ok := c.discovery.NextUnansweredQuestion(c.callID)
			if !ok {
				return
			}
			response := c.contextualAcknowledgment(progress.CurrentQuestionIndex) + " " + text
			if c.discovery.MarkQuestionAsked(c.callID, index, text) {
				c.history = append(c.history, openai.AssistantMessage(response))
				c.gate.TrySend(ctx, response, responseID)
			}
			return
		}

		// Invalid or uncapturable answer: re-ask the current question.
		c.gate.TrySend(ctx, "I didn't catch that. "+discovery.QuestionText(progress.CurrentQuestionIndex), responseID)
		return
	}

	index, text, ok := c.discovery.NextUnansweredQuestion(c.callID)
	if !ok {
		return
	}
	if c.discovery.MarkQuestionAsked(c.callID, index, text) {
		c.history = append(c.history, openai.AssistantMessage(text))
		c.gate.TrySend(ctx, text, responseID)
	}
}

// discoverFromMemory shortcuts discovery for a returning customer with
// stored business context. Returns false when no usable memory exists.
func (c *Controller) discoverFromMemory(ctx context.Context, contact models.ContactInfo, utterance string, responseID int64) bool {
	if c.store == nil || !contact.HasValidEmail() {
		return false
	}
	memories, err := c.store.GetMemoriesByType(contact.Email, memory.TypeBusinessContext, 1)
	if err != nil {
		slog.Warn("Controller.discoverFromMemory: lookup failed", "call_id", c.callID, "error", err)
		return false
	}
	if len(memories) == 0 {
		return false
	}

	slog.Info("Controller.discoverFromMemory: business context found, skipping answered questions", "call_id", c.callID)

	response := c.greetingAcknowledgment(utterance) +
		" I remember we spoke about your business. What are the biggest challenges you're facing right now?"

	c.discovery.MarkQuestionAsked(c.callID, 0, discovery.QuestionText(0))
	c.discovery.CaptureAnswer(c.callID, 0, "Previous conversation")
	c.discovery.MarkQuestionAsked(c.callID, 1, discovery.QuestionText(1))
	c.discovery.CaptureAnswer(c.callID, 1, "From memory: "+memories[0].Content)
	c.discovery.MarkQuestionAsked(c.callID, 5, response)

	c.history = append(c.history, openai.AssistantMessage(response))
	c.gate.TrySend(ctx, response, responseID)
	return true
}

// handleScheduling speaks the availability listing once discovery is
// complete but no concrete appointment was requested.
func (c *Controller) handleScheduling(ctx context.Context, responseID int64) {
	c.discovery.MarkSchedulingStarted(c.callID)
	response := calendar.AvailabilityResponse(ctx, c.booker, c.clock())
	c.history = append(c.history, openai.AssistantMessage(response))
	c.gate.TrySend(ctx, response, responseID)
}

// handleGeneric produces a generated reply with memory enrichment for
// turns no scripted branch claimed.
func (c *Controller) handleGeneric(ctx context.Context, contact models.ContactInfo, responseID int64) {
	reply := genai.FallbackReply
	if c.ai != nil {
		system := systemPrompt
		if c.store != nil && contact.HasValidEmail() {
			if memories, err := c.store.GetMemoriesByType(contact.Email, memory.TypeConversation, 2); err == nil && len(memories) > 0 {
				var b strings.Builder
				b.WriteString(system)
				b.WriteString("\n\nRELEVANT MEMORIES: ")
				for _, m := range memories {
					b.WriteString(m.Content)
					b.WriteString(". ")
				}
				system = b.String()
			}
		}
		messages := append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}, c.history...)
		if generated, err := c.ai.GenerateWithMessages(ctx, messages); err == nil && generated != "" {
			reply = generated
		} else if err != nil {
			slog.Warn("Controller.handleGeneric: generation failed, using fallback", "call_id", c.callID, "error", err)
		}
	}
	c.history = append(c.history, openai.AssistantMessage(reply))
	c.gate.TrySend(ctx, reply, responseID)
}

// greetingAcknowledgment reacts to the customer's answer to "how are
// you doing".
func (c *Controller) greetingAcknowledgment(utterance string) string {
	answer := strings.ToLower(utterance)
	switch {
	case strings.Contains(answer, "good"), strings.Contains(answer, "great"), strings.Contains(answer, "well"):
		return "That's wonderful to hear!"
	case strings.Contains(answer, "busy"), strings.Contains(answer, "hectic"):
		return "I totally understand."
	case strings.Contains(answer, "fine"), strings.Contains(answer, "ok"):
		return "Great!"
	default:
		return "Nice!"
	}
}

// contextualAcknowledgment rotates acknowledgments by answered question
// index.
func (c *Controller) contextualAcknowledgment(questionIndex int) string {
	if questionIndex < 0 {
		return "Great!"
	}
	return contextualAcknowledgments[questionIndex%len(contextualAcknowledgments)]
}

// isValidAnswer rejects question echoes and bare fillers.
func (c *Controller) isValidAnswer(utterance string) bool {
	message := strings.ToLower(strings.TrimSpace(utterance))
	if len(message) < 2 {
		return false
	}
	for _, pattern := range invalidAnswerPatterns {
		if pattern.MatchString(message) {
			return false
		}
	}
	return true
}
