// Package memory provides the persistent customer-memory backends for
// VoiceFlow.
//
// This file implements the booking-hint lookup over learned patterns.
package memory

import (
	"log/slog"
	"strings"
)

// ConfidentSuccessThreshold is the minimum success count before a
// learned pattern may short-circuit textual parsing.
const ConfidentSuccessThreshold = 2

// Hint is a suggested appointment interpretation for an utterance.
type Hint struct {
	Day       string
	TimeText  string
	Confident bool
}

// Intelligence answers "has a phrase like this booked successfully
// before" from the learned pattern table.
type Intelligence struct {
	store Store
}

// NewIntelligence creates an Intelligence over the given store.
func NewIntelligence(store Store) *Intelligence {
	return &Intelligence{store: store}
}

// BookingHint looks the utterance up against learned patterns. It
// returns a confident hint only when a previously successful phrase
// matches; otherwise a zero-value hint. Lookup failures are swallowed
// and the caller falls back to textual parsing.
func (i *Intelligence) BookingHint(utterance string) Hint {
	if i == nil || i.store == nil {
		return Hint{}
	}
	patterns, err := i.store.BookingPatterns()
	if err != nil {
		slog.Warn("Intelligence.BookingHint: pattern lookup failed", "error", err)
		return Hint{}
	}
	normalized := normalizeUtterance(utterance)
	if normalized == "" {
		return Hint{}
	}

	var best *BookingPattern
	for idx := range patterns {
		p := &patterns[idx]
		if p.Successes < ConfidentSuccessThreshold {
			continue
		}
		if !strings.Contains(normalized, p.Utterance) && !strings.Contains(p.Utterance, normalized) {
			continue
		}
		if best == nil || p.Successes > best.Successes {
			best = p
		}
	}
	if best == nil {
		return Hint{}
	}
	slog.Info("Intelligence.BookingHint: confident pattern match", "day", best.Day, "time", best.TimeText, "successes", best.Successes)
	return Hint{Day: best.Day, TimeText: best.TimeText, Confident: true}
}
