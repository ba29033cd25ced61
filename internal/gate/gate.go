// Package gate enforces the outbound response discipline for a call
// session: a hard rolling-window ceiling, minimum inter-response
// spacing, and duplicate suppression for booking-related text.
//
// The gate is the only path by which outbound text reaches the
// connection; no component may bypass it.
package gate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

// Default gate configuration.
const (
	// DefaultMinResponseSpacing is the minimum delay between successive sends.
	DefaultMinResponseSpacing = 2 * time.Second
	// DefaultMaxResponsesPerWindow is the hard ceiling of sends per rolling window.
	DefaultMaxResponsesPerWindow = 10
	// ResponseWindow is the rolling window over which the ceiling applies.
	ResponseWindow = time.Minute
)

// bookingKeywords classify outbound text as booking-related for
// duplicate suppression.
var bookingKeywords = []string{"booking", "appointment", "confirmed"}

// SendFunc delivers one outbound message to the connection.
type SendFunc func(msg models.OutboundMessage) error

// Opts holds configuration options for a Gate.
type Opts struct {
	MinSpacing   time.Duration
	MaxPerWindow int
	Clock        func() time.Time
}

// Option defines a configuration option for a Gate.
type Option func(*Opts)

// WithMinSpacing overrides the minimum inter-response spacing.
func WithMinSpacing(d time.Duration) Option {
	return func(o *Opts) { o.MinSpacing = d }
}

// WithMaxPerWindow overrides the rolling-window send ceiling.
func WithMaxPerWindow(n int) Option {
	return func(o *Opts) { o.MaxPerWindow = n }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Gate owns the GateState slice of a call session and serializes all
// outbound sends for that session.
type Gate struct {
	mu           sync.Mutex
	state        models.GateState
	send         SendFunc
	minSpacing   time.Duration
	maxPerWindow int
	clock        func() time.Time
}

// New creates a Gate around the given send function.
func New(send SendFunc, opts ...Option) *Gate {
	cfg := Opts{
		MinSpacing:   DefaultMinResponseSpacing,
		MaxPerWindow: DefaultMaxResponsesPerWindow,
		Clock:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Gate{
		send:         send,
		minSpacing:   cfg.MinSpacing,
		maxPerWindow: cfg.MaxPerWindow,
		clock:        cfg.Clock,
	}
}

// LastResponseAt returns the time of the last successful send.
func (g *Gate) LastResponseAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.LastResponseAt
}

// MinSpacing returns the configured minimum inter-response spacing.
func (g *Gate) MinSpacing() time.Duration {
	return g.minSpacing
}

// TrySend emits one outbound message through the gate. It returns true
// only when the message was actually sent. Messages over the window
// ceiling or duplicating the last booking-related text are dropped
// silently (never queued, never retried); a send inside the minimum
// spacing waits cooperatively until the spacing is satisfied.
func (g *Gate) TrySend(ctx context.Context, text string, responseID int64) bool {
	now := g.clock()

	g.mu.Lock()
	g.pruneWindow(now)
	if len(g.state.RecentResponseTimes) >= g.maxPerWindow {
		g.mu.Unlock()
		slog.Warn("Gate.TrySend: response rate ceiling reached, dropping", "responses_in_window", g.maxPerWindow)
		return false
	}
	wait := time.Duration(0)
	if !g.state.LastResponseAt.IsZero() {
		if elapsed := now.Sub(g.state.LastResponseAt); elapsed < g.minSpacing {
			wait = g.minSpacing - elapsed
		}
	}
	g.mu.Unlock()

	if wait > 0 {
		slog.Debug("Gate.TrySend: enforcing minimum spacing", "wait", wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			slog.Debug("Gate.TrySend: context cancelled during spacing wait")
			return false
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.LastBookingResponseText != "" && text == g.state.LastBookingResponseText {
		slog.Warn("Gate.TrySend: duplicate booking response suppressed")
		return false
	}

	if responseID == 0 {
		responseID = g.clock().UnixMilli()
	}
	msg := models.OutboundMessage{
		Content:         text,
		ContentComplete: true,
		Actions:         []string{},
		ResponseID:      responseID,
	}
	if err := g.send(msg); err != nil {
		slog.Error("Gate.TrySend: send failed", "error", err, "response_id", responseID)
		return false
	}

	sentAt := g.clock()
	g.state.LastResponseAt = sentAt
	g.state.RecentResponseTimes = append(g.state.RecentResponseTimes, sentAt)
	if isBookingRelated(text) {
		g.state.LastBookingResponseText = text
	}
	slog.Debug("Gate.TrySend: sent", "response_id", responseID, "length", len(text))
	return true
}

// pruneWindow drops send timestamps older than the rolling window.
// Caller holds the mutex.
func (g *Gate) pruneWindow(now time.Time) {
	kept := g.state.RecentResponseTimes[:0]
	for _, ts := range g.state.RecentResponseTimes {
		if now.Sub(ts) < ResponseWindow {
			kept = append(kept, ts)
		}
	}
	g.state.RecentResponseTimes = kept
}

func isBookingRelated(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range bookingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
