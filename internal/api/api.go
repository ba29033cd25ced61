// Package api provides the HTTP surface of VoiceFlow: the health
// endpoint and the per-call WebSocket stream under /llm-websocket/.
//
// Each accepted connection gets its own gate, booking coordinator, and
// conversation controller; the shared pieces are the discovery manager
// and the external collaborators handed in at construction.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexella/voiceflow/internal/calendar"
	"github.com/nexella/voiceflow/internal/discovery"
	"github.com/nexella/voiceflow/internal/genai"
	"github.com/nexella/voiceflow/internal/memory"
	"github.com/nexella/voiceflow/internal/webhook"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	Store        memory.Store
	Booker       calendar.Booker
	Notifier     webhook.Notifier
	SMS          webhook.SMSNotifier
	AI           genai.ClientInterface
	MinSpacing   time.Duration
	MaxPerWindow int
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStore sets the customer-memory store.
func WithStore(s memory.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithBooker sets the scheduling-backend client.
func WithBooker(b calendar.Booker) Option {
	return func(o *Opts) { o.Booker = b }
}

// WithNotifier sets the scheduling-preference webhook client.
func WithNotifier(n webhook.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithSMS sets the SMS confirmation client.
func WithSMS(s webhook.SMSNotifier) Option {
	return func(o *Opts) { o.SMS = s }
}

// WithAI sets the generic-response collaborator.
func WithAI(ai genai.ClientInterface) Option {
	return func(o *Opts) { o.AI = ai }
}

// WithMinSpacing overrides the per-call minimum response spacing.
func WithMinSpacing(d time.Duration) Option {
	return func(o *Opts) { o.MinSpacing = d }
}

// WithMaxPerWindow overrides the per-call response ceiling per rolling
// window.
func WithMaxPerWindow(n int) Option {
	return func(o *Opts) { o.MaxPerWindow = n }
}

// Server hosts the call stream and health endpoints.
type Server struct {
	addr         string
	store        memory.Store
	booker       calendar.Booker
	notifier     webhook.Notifier
	sms          webhook.SMSNotifier
	ai           genai.ClientInterface
	minSpacing   time.Duration
	maxPerWindow int

	discovery *discovery.Manager
	upgrader  websocket.Upgrader
}

// NewServer creates an API server around the given collaborators. The
// store, notifier, SMS, and AI collaborators may be nil; the affected
// features degrade per the conversation core's rules.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, MinSpacing: -1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:         cfg.Addr,
		store:        cfg.Store,
		booker:       cfg.Booker,
		notifier:     cfg.Notifier,
		sms:          cfg.SMS,
		ai:           cfg.AI,
		minSpacing:   cfg.MinSpacing,
		maxPerWindow: cfg.MaxPerWindow,
		discovery:    discovery.NewManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/llm-websocket/", s.callHandler)
	return mux
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("Server.Run: listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
