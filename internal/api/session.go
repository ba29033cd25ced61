// Package api provides the HTTP surface of VoiceFlow.
//
// This file implements the per-connection call session: contact
// resolution, the read loop, and the close handler.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexella/voiceflow/internal/booking"
	"github.com/nexella/voiceflow/internal/conversation"
	"github.com/nexella/voiceflow/internal/gate"
	"github.com/nexella/voiceflow/internal/memory"
	"github.com/nexella/voiceflow/internal/models"
)

// errorReply is spoken when an inbound frame cannot be decoded.
const errorReply = "I missed that. Could you repeat it?"

// errorReplyID is the fixed correlation token for error replies.
const errorReplyID = 9999

var callIDPattern = regexp.MustCompile(`call_[a-f0-9]+`)

// extractCallID derives the call ID from the connection path. Falls
// back to the trailing path element, then to a generated ID; generated
// reports whether the ID was synthesized rather than taken from the
// path.
func extractCallID(path string) (id string, generated bool) {
	if id := callIDPattern.FindString(path); id != "" {
		return id, false
	}
	trimmed := strings.Trim(strings.TrimPrefix(path, "/llm-websocket"), "/")
	if trimmed != "" {
		return trimmed, false
	}
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", ""), true
}

// contactFromRequest builds the initial contact from handshake URL
// parameters. A placeholder email is treated as absent.
func contactFromRequest(callID string, r *http.Request) models.ContactInfo {
	q := r.URL.Query()
	email := q.Get("customer_email")
	if email == "" {
		email = q.Get("email")
	}
	name := q.Get("customer_name")
	if name == "" {
		name = q.Get("name")
	}
	phone := q.Get("customer_phone")
	if phone == "" {
		phone = q.Get("phone")
	}

	contact := models.ContactInfo{CallID: callID, Name: "Customer", Source: "awaiting_stream_data"}
	if email != "" && email != models.PlaceholderEmail {
		contact.Email = email
		if name != "" {
			contact.Name = name
		}
		contact.Phone = phone
		contact.Source = "url_params"
	}
	return contact
}

// callSession is the state of one live connection.
type callSession struct {
	server  *Server
	conn    *websocket.Conn
	callID  string
	contact models.ContactInfo
	gate    *gate.Gate
	coord   *booking.Coordinator
	ctrl    *conversation.Controller

	// idGenerated marks a synthesized call ID that may still be
	// corrected by an in-band event; idUsed pins the ID once the first
	// turn has been keyed by it.
	idGenerated bool
	idUsed      bool
}

// callHandler upgrades the connection and runs the session to
// completion.
func (s *Server) callHandler(w http.ResponseWriter, r *http.Request) {
	callID, generated := extractCallID(r.URL.Path)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.callHandler: upgrade failed", "call_id", callID, "error", err)
		return
	}
	defer conn.Close()

	slog.Info("Server.callHandler: connection established", "call_id", callID)

	var gateOpts []gate.Option
	if s.minSpacing >= 0 {
		gateOpts = append(gateOpts, gate.WithMinSpacing(s.minSpacing))
	}
	if s.maxPerWindow > 0 {
		gateOpts = append(gateOpts, gate.WithMaxPerWindow(s.maxPerWindow))
	}
	g := gate.New(func(msg models.OutboundMessage) error {
		return conn.WriteJSON(msg)
	}, gateOpts...)

	coord := booking.New(g, s.booker, s.store, s.notifier, booking.WithSMS(s.sms))
	ctrl := conversation.New(callID, g, coord, s.discovery,
		conversation.WithStore(s.store),
		conversation.WithBooker(s.booker),
		conversation.WithAI(s.ai),
	)

	sess := &callSession{
		server:      s,
		conn:        conn,
		callID:      callID,
		contact:     contactFromRequest(callID, r),
		gate:        g,
		coord:       coord,
		ctrl:        ctrl,
		idGenerated: generated,
	}
	if sess.contact.HasValidEmail() {
		ctrl.LoadProfile(sess.contact.Email)
	}

	sess.readLoop(r.Context())
	sess.handleClose()
}

// readLoop decodes inbound frames and dispatches turns sequentially
// until the connection drops.
func (sess *callSession) readLoop(ctx context.Context) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("callSession.readLoop: connection dropped", "call_id", sess.callID, "error", err)
			}
			return
		}

		var event models.TranscriptEvent
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("callSession.readLoop: undecodable frame", "call_id", sess.callID, "error", err)
			sess.gate.TrySend(ctx, errorReply, errorReplyID)
			continue
		}

		sess.absorbCallInfo(event.Call)

		if event.InteractionType == "response_required" {
			sess.idUsed = true
			sess.ctrl.HandleTurn(ctx, sess.contact, event.LatestUtterance(), event.ResponseID)
		}
	}
}

// absorbCallInfo updates the contact from in-band call metadata. Fields
// already known from the handshake are kept; the placeholder email is
// never adopted. A synthesized call ID is replaced by the platform's
// real one until the first turn has used it.
func (sess *callSession) absorbCallInfo(call *models.CallInfo) {
	if call == nil {
		return
	}

	if call.CallID != "" && sess.idGenerated && !sess.idUsed && call.CallID != sess.callID {
		slog.Info("callSession.absorbCallInfo: call ID adopted from stream", "call_id", call.CallID, "previous", sess.callID)
		sess.callID = call.CallID
		sess.contact.CallID = call.CallID
		sess.ctrl.AdoptCallID(call.CallID)
		sess.idGenerated = false
	}

	hadEmail := sess.contact.HasValidEmail()

	if call.Metadata != nil && !hadEmail {
		email := call.Metadata.CustomerEmail
		if email == "" {
			email = call.Metadata.Email
		}
		if email != "" && email != models.PlaceholderEmail {
			name := call.Metadata.CustomerName
			if name == "" {
				name = call.Metadata.Name
			}
			phone := call.Metadata.CustomerPhone
			if phone == "" {
				phone = call.Metadata.Phone
			}
			if phone == "" {
				phone = call.ToNumber
			}

			sess.contact.Email = email
			if name != "" {
				sess.contact.Name = name
			}
			sess.contact.Phone = phone
			sess.contact.Source = "stream_metadata"
			slog.Info("callSession.absorbCallInfo: contact resolved from stream metadata", "call_id", sess.callID)
			sess.ctrl.LoadProfile(email)
		}
	}

	if call.ToNumber != "" && sess.contact.Phone == "" {
		sess.contact.Phone = call.ToNumber
	}
}

// handleClose stores the conversation memory and sends the final
// webhook when the call ends before a booking completed the flow.
func (sess *callSession) handleClose() {
	slog.Info("callSession.handleClose: connection closed", "call_id", sess.callID)

	s := sess.server
	progress := s.discovery.Progress(sess.callID)

	if progress.QuestionsCompleted > 0 && sess.contact.HasValidEmail() {
		discoveryData := s.discovery.FinalDiscoveryData(sess.callID)

		if s.store != nil {
			rec := memory.ConversationRecord{
				CallID:              sess.callID,
				Contact:             sess.contact,
				DurationMinutes:     int(time.Since(sess.ctrl.ConnectedAt()).Minutes()),
				QuestionsCompleted:  progress.QuestionsCompleted,
				SchedulingCompleted: progress.SchedulingStarted,
				AppointmentBooked:   sess.coord.AppointmentBooked(),
				AppointmentTime:     sess.coord.BookedTime(),
				Sentiment:           sess.ctrl.Sentiment(),
				EndReason:           "user_disconnect",
				Discovery:           discoveryData,
			}
			if err := s.store.StoreConversationMemory(rec); err != nil {
				slog.Error("callSession.handleClose: memory store failed", "call_id", sess.callID, "error", err)
			}
		}

		if s.notifier != nil && !sess.coord.AppointmentBooked() {
			extra := make(map[string]any, len(discoveryData))
			for field, answer := range discoveryData {
				extra[field] = answer
			}
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.notifier.SendSchedulingPreference(ctx, sess.contact.Name, sess.contact.Email, sess.contact.Phone, "Call ended early", sess.callID, extra); err != nil {
				slog.Error("callSession.handleClose: final webhook failed", "call_id", sess.callID, "error", err)
			}
			cancel()
		}
	}

	// Let a detached booking continuation finish before the discovery
	// answers it reads are discarded.
	sess.coord.Wait()
	s.discovery.RemoveSession(sess.callID)
}
