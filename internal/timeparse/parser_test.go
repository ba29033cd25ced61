package timeparse

import (
	"testing"
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

// refNow is a Monday, 10:00 local time.
var refNow = time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC)

func TestParseDayAtHour(t *testing.T) {
	c := Parse("Thursday at 9", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	if c.DayToken != "thursday" {
		t.Errorf("day token = %q, want thursday", c.DayToken)
	}
	if c.Hour != 9 || c.Minute != 0 {
		t.Errorf("time = %d:%02d, want 9:00", c.Hour, c.Minute)
	}
	want := time.Date(2025, time.June, 12, 9, 0, 0, 0, time.UTC)
	if !c.ResolvedDateTime.Equal(want) {
		t.Errorf("resolved = %v, want %v", c.ResolvedDateTime, want)
	}
	if !c.IsBusinessHours {
		t.Error("expected business hours for 9 AM")
	}
	if c.DisplayTime != "9:00 AM" {
		t.Errorf("display = %q, want 9:00 AM", c.DisplayTime)
	}
	if c.Source != models.SourcePattern {
		t.Errorf("source = %q, want pattern", c.Source)
	}
}

func TestParseInterrogativeFramingTransparent(t *testing.T) {
	base := Parse("Thursday at 9", refNow)
	for _, utterance := range []string{
		"Is Thursday at 9 available?",
		"What about Thursday at nine?",
		"Does Thursday at 9 work?",
	} {
		c := Parse(utterance, refNow)
		if c == nil {
			t.Fatalf("Parse(%q) = nil", utterance)
		}
		if c.DayToken != base.DayToken || c.Hour != base.Hour || c.Minute != base.Minute || !c.ResolvedDateTime.Equal(base.ResolvedDateTime) {
			t.Errorf("Parse(%q) = %+v, want same interpretation as %+v", utterance, c, base)
		}
	}
}

func TestParseTimeFirst(t *testing.T) {
	c := Parse("3 PM Friday", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	if c.Hour != 15 {
		t.Errorf("hour = %d, want 15", c.Hour)
	}
	if c.DayToken != "friday" {
		t.Errorf("day token = %q, want friday", c.DayToken)
	}
	if !c.IsBusinessHours {
		t.Error("expected business hours for 3 PM")
	}
	if c.DisplayTime != "3:00 PM" {
		t.Errorf("display = %q, want 3:00 PM", c.DisplayTime)
	}
}

func TestParseSameWeekdayRollsForwardFullWeek(t *testing.T) {
	// refNow is a Monday; a bare "Monday" must never resolve to today.
	c := Parse("Monday at 9", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	want := time.Date(2025, time.June, 16, 9, 0, 0, 0, time.UTC)
	if !c.ResolvedDateTime.Equal(want) {
		t.Errorf("resolved = %v, want next Monday %v", c.ResolvedDateTime, want)
	}
}

func TestParseVariants(t *testing.T) {
	cases := []struct {
		utterance string
		day       string
		hour      int
		minute    int
	}{
		{"Thursday 9", "thursday", 9, 0},
		{"Thursday nine am", "thursday", 9, 0},
		{"Friday at ten", "friday", 10, 0},
		{"Thursday at 9:30", "thursday", 9, 30},
		{"Thursday, 2 PM", "thursday", 14, 0},
		{"Thursday, 2", "thursday", 14, 0},      // heuristic: 1-4 reads as PM
		{"Wednesday at 7", "wednesday", 7, 0},   // heuristic default: AM
		{"9 a.m. on Tuesday", "tuesday", 9, 0},  // punctuated meridiem
		{"how about tomorrow at 10", "tomorrow", 10, 0},
		{"today at 11", "today", 11, 0},
		{"Friday, June thirteenth at ten AM", "friday", 10, 0},
		{"Let's do Friday at 2", "friday", 14, 0},
		{"Friday at 12 pm", "friday", 12, 0},
		{"Friday at 12 am", "friday", 0, 0},
	}
	for _, tc := range cases {
		c := Parse(tc.utterance, refNow)
		if c == nil {
			t.Errorf("Parse(%q) = nil, want candidate", tc.utterance)
			continue
		}
		if c.DayToken != tc.day || c.Hour != tc.hour || c.Minute != tc.minute {
			t.Errorf("Parse(%q) = %s %d:%02d, want %s %d:%02d",
				tc.utterance, c.DayToken, c.Hour, c.Minute, tc.day, tc.hour, tc.minute)
		}
	}
}

func TestParseRelativeDayOffsets(t *testing.T) {
	c := Parse("tomorrow at 10", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	want := time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)
	if !c.ResolvedDateTime.Equal(want) {
		t.Errorf("resolved = %v, want %v", c.ResolvedDateTime, want)
	}

	c = Parse("today at 11", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	want = time.Date(2025, time.June, 9, 11, 0, 0, 0, time.UTC)
	if !c.ResolvedDateTime.Equal(want) {
		t.Errorf("resolved = %v, want %v", c.ResolvedDateTime, want)
	}
}

func TestParsePriorityOrderWins(t *testing.T) {
	// Both the day-at-hour pattern (Thursday at 9) and the comma pattern
	// (Friday, 10) could match; the higher-priority pattern decides.
	c := Parse("Thursday at 9 or maybe Friday, 10", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	if c.DayToken != "thursday" || c.Hour != 9 {
		t.Errorf("got %s %d:00, want thursday 9:00 from higher-priority pattern", c.DayToken, c.Hour)
	}
}

func TestParseMisses(t *testing.T) {
	for _, utterance := range []string{
		"",
		"hello there",
		"sounds good to me",
		"Thursday at 20",      // hour outside 1-12
		"sometime next week",
	} {
		if c := Parse(utterance, refNow); c != nil {
			t.Errorf("Parse(%q) = %+v, want nil", utterance, c)
		}
	}
}

func TestParseOutsideBusinessHours(t *testing.T) {
	c := Parse("Friday at 6 pm", refNow)
	if c == nil {
		t.Fatal("expected candidate, got nil")
	}
	if c.Hour != 18 {
		t.Errorf("hour = %d, want 18", c.Hour)
	}
	if c.IsBusinessHours {
		t.Error("6 PM must not count as business hours")
	}
}

func TestFromHint(t *testing.T) {
	cases := []struct {
		timeText string
		hour     int
	}{
		{"morning", 9},
		{"", 9},
		{"any", 9},
		{"afternoon", 14},
		{"2:30 PM", 14},
		{"10:00 AM", 10},
	}
	for _, tc := range cases {
		c := FromHint("same as last time", "wednesday", tc.timeText, refNow)
		if c == nil {
			t.Fatalf("FromHint(%q) = nil", tc.timeText)
		}
		if c.Hour != tc.hour {
			t.Errorf("FromHint(%q) hour = %d, want %d", tc.timeText, c.Hour, tc.hour)
		}
		if c.Source != models.SourceMemory {
			t.Errorf("FromHint(%q) source = %q, want memory", tc.timeText, c.Source)
		}
		if c.DayToken != "wednesday" {
			t.Errorf("FromHint(%q) day = %q, want wednesday", tc.timeText, c.DayToken)
		}
	}
}
