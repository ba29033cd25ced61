package gate

import (
	"context"
	"testing"
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

type captureSender struct {
	sent []models.OutboundMessage
}

func (c *captureSender) send(msg models.OutboundMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

func TestTrySendBasic(t *testing.T) {
	sink := &captureSender{}
	g := New(sink.send, WithMinSpacing(0))

	if !g.TrySend(context.Background(), "hello", 42) {
		t.Fatal("expected send to succeed")
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sink.sent))
	}
	msg := sink.sent[0]
	if msg.Content != "hello" || !msg.ContentComplete || msg.ResponseID != 42 {
		t.Errorf("unexpected outbound message: %+v", msg)
	}
	if msg.Actions == nil || len(msg.Actions) != 0 {
		t.Errorf("actions must be an empty list, got %v", msg.Actions)
	}
}

func TestTrySendWindowCeiling(t *testing.T) {
	now := time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	sink := &captureSender{}
	g := New(sink.send, WithMinSpacing(0), WithMaxPerWindow(3), WithClock(clock))

	for i := 0; i < 3; i++ {
		if !g.TrySend(context.Background(), "msg", int64(i+1)) {
			t.Fatalf("send %d should succeed", i)
		}
	}
	if g.TrySend(context.Background(), "over ceiling", 99) {
		t.Error("send over ceiling must be dropped")
	}
	if len(sink.sent) != 3 {
		t.Errorf("sent %d messages, want 3", len(sink.sent))
	}

	// Once the window slides past the old sends, capacity returns.
	now = now.Add(ResponseWindow + time.Second)
	if !g.TrySend(context.Background(), "after window", 100) {
		t.Error("send after window slide should succeed")
	}
}

func TestTrySendMinimumSpacingWaits(t *testing.T) {
	sink := &captureSender{}
	spacing := 50 * time.Millisecond
	g := New(sink.send, WithMinSpacing(spacing))

	if !g.TrySend(context.Background(), "first", 1) {
		t.Fatal("first send should succeed")
	}
	start := time.Now()
	if !g.TrySend(context.Background(), "second", 2) {
		t.Fatal("second send should succeed after waiting")
	}
	if elapsed := time.Since(start); elapsed < spacing/2 {
		t.Errorf("second send completed after %v, expected a spacing wait near %v", elapsed, spacing)
	}
	if len(sink.sent) != 2 {
		t.Errorf("sent %d messages, want 2", len(sink.sent))
	}
}

func TestTrySendSpacingWaitCancellable(t *testing.T) {
	sink := &captureSender{}
	g := New(sink.send, WithMinSpacing(5*time.Second))

	if !g.TrySend(context.Background(), "first", 1) {
		t.Fatal("first send should succeed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if g.TrySend(ctx, "second", 2) {
		t.Error("send with cancelled context must not go through")
	}
	if len(sink.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(sink.sent))
	}
}

func TestTrySendSuppressesDuplicateBookingText(t *testing.T) {
	sink := &captureSender{}
	g := New(sink.send, WithMinSpacing(0))

	confirmation := "Your appointment is confirmed for Thursday at 9:00 AM."
	if !g.TrySend(context.Background(), confirmation, 1) {
		t.Fatal("first confirmation should send")
	}
	if g.TrySend(context.Background(), confirmation, 2) {
		t.Error("identical booking-related text must be suppressed")
	}
	// Non-booking text is not subject to duplicate suppression.
	if !g.TrySend(context.Background(), "What day works for you?", 3) {
		t.Error("non-booking text should send")
	}
	if !g.TrySend(context.Background(), "What day works for you?", 4) {
		t.Error("repeated non-booking text should still send")
	}
	if len(sink.sent) != 3 {
		t.Errorf("sent %d messages, want 3", len(sink.sent))
	}
}

func TestTrySendGeneratesResponseID(t *testing.T) {
	sink := &captureSender{}
	g := New(sink.send, WithMinSpacing(0))
	if !g.TrySend(context.Background(), "hi", 0) {
		t.Fatal("send should succeed")
	}
	if sink.sent[0].ResponseID == 0 {
		t.Error("gate should generate a response ID when none is supplied")
	}
}
