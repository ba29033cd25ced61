package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Spoken fallbacks used when availability cannot be composed.
const (
	// FallbackPrompt is spoken when the scheduling backend is absent or failing.
	FallbackPrompt = "Let me check my calendar for available times. What day and time would work best for you?"
	// noAvailability is spoken when the coming week has no open slots.
	noAvailability = "I don't have any availability this week. Let me check next week for you."
)

// Limits for the spoken availability listing.
const (
	maxDaysListed  = 3
	maxSlotsPerDay = 3
	lookaheadDays  = 7
)

// AvailabilityResponse composes the spoken list of open slots over the
// coming week: up to three business days, up to three slots each,
// weekends skipped. Backend errors degrade to the generic fallback
// prompt.
func AvailabilityResponse(ctx context.Context, booker Booker, now time.Time) string {
	if booker == nil || !booker.Initialized() {
		return FallbackPrompt
	}

	type dayListing struct {
		name  string
		times []string
	}
	var days []dayListing
	for i := 1; i <= lookaheadDays; i++ {
		check := now.AddDate(0, 0, i)
		if wd := check.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		slots, err := booker.AvailableSlots(ctx, check)
		if err != nil {
			slog.Warn("calendar.AvailabilityResponse: slot lookup failed", "error", err, "date", check.Format("2006-01-02"))
			return FallbackPrompt
		}
		if len(slots) == 0 {
			continue
		}
		if len(slots) > maxSlotsPerDay {
			slots = slots[:maxSlotsPerDay]
		}
		listing := dayListing{name: check.Format("Monday, January 2")}
		for _, s := range slots {
			listing.times = append(listing.times, s.DisplayTime)
		}
		days = append(days, listing)
		if len(days) >= maxDaysListed {
			break
		}
	}

	if len(days) == 0 {
		return noAvailability
	}
	if len(days) == 1 {
		return fmt.Sprintf("I have availability on %s at %s. Which time works best for you?",
			days[0].name, strings.Join(days[0].times, ", "))
	}

	var b strings.Builder
	b.WriteString("I have a few options available. ")
	for i, day := range days {
		entry := fmt.Sprintf("%s at %s", day.name, strings.Join(day.times, ", "))
		switch {
		case i == 0:
			b.WriteString(entry)
		case i == len(days)-1:
			b.WriteString(", or " + entry)
		default:
			b.WriteString(", " + entry)
		}
	}
	b.WriteString(". What works better for you?")
	return b.String()
}
