// Package timeparse extracts appointment candidates from natural-language
// utterances.
//
// Parsing is pure and deterministic given a reference time: an ordered
// list of matchers is tried against the utterance and the first
// successful match wins. There is no scoring across patterns; the
// priority order is the tie-break.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nexella/voiceflow/internal/models"
)

// hourWords maps spoken hour words to their numeric value.
var hourWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12,
}

// ordinalWords maps spoken ordinal date words to day-of-month numbers.
var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"eleventh": 11, "twelfth": 12, "thirteenth": 13, "fourteenth": 14, "fifteenth": 15,
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Regex fragments shared by the matchers.
const (
	dayAlt   = `(monday|tuesday|wednesday|thursday|friday|saturday|sunday|today|tomorrow)`
	hourAlt  = `(\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)`
	merAlt   = `(am|pm|a\.m\.|p\.m\.)`
	monthAlt = `(?:january|february|march|april|may|june|july|august|september|october|november|december)`
	ordAlt   = `(?:\d{1,2}(?:st|nd|rd|th)?|first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|eleventh|twelfth|thirteenth|fourteenth|fifteenth)`
)

// rawMatch holds the textual pieces a matcher extracted before
// numeric validation and meridiem resolution.
type rawMatch struct {
	day      string
	hourText string
	minText  string
	meridiem string
	matched  string
}

// matcher tries one textual pattern and returns the raw pieces, or nil.
type matcher func(utterance string) *rawMatch

var (
	reDayAtHour = regexp.MustCompile(`(?i)\b` + dayAlt + `\s+at\s+` + hourAlt + `(?::(\d{2}))?\s*` + merAlt + `?`)
	reQuestion  = regexp.MustCompile(`(?i)(?:what\s+about|how\s+about|can\s+we\s+do|let'?s\s+do)\s+` + dayAlt + `\s+at\s+` + hourAlt + `(?::(\d{2}))?\s*` + merAlt + `?`)
	reDayHour   = regexp.MustCompile(`(?i)\b` + dayAlt + `\s+` + hourAlt + `\s*` + merAlt + `?\b`)
	reTimeFirst = regexp.MustCompile(`(?i)\b` + hourAlt + `(?::(\d{2}))?\s*` + merAlt + `\s+(?:on\s+)?` + dayAlt)
	reDayComma  = regexp.MustCompile(`(?i)\b` + dayAlt + `,\s*` + hourAlt + `(?::(\d{2}))?\s*` + merAlt + `?`)
	reAvailQ    = regexp.MustCompile(`(?i)(?:is|does|would)\s+` + dayAlt + `\s+at\s+` + hourAlt + `(?::(\d{2}))?\s*` + merAlt + `?\s*(?:available|work|good|ok|okay)?`)
	reCalDate   = regexp.MustCompile(`(?i)\b` + dayAlt + `,?\s+` + monthAlt + `\s+(?:the\s+)?` + ordAlt + `\s+(?:at\s+)?` + hourAlt + `(?::(\d{2}))?\s*` + merAlt)
)

// matchers in priority order; the first successful match wins.
var matchers = []matcher{
	matchGroups(reDayAtHour, 1, 2, 3, 4),  // "Thursday at 9[:30] [am]"
	matchGroups(reQuestion, 1, 2, 3, 4),   // "what about Thursday at nine?"
	matchGroups(reDayHour, 1, 2, -1, 3),   // "Thursday 9 [am]" (no "at")
	matchGroups(reTimeFirst, 4, 1, 2, 3),  // "9[:30] AM [on] Thursday"
	matchGroups(reDayComma, 1, 2, 3, 4),   // "Thursday, 9 [am]"
	matchGroups(reAvailQ, 1, 2, 3, 4),     // "is Thursday at 9 available?"
	matchGroups(reCalDate, 1, 2, 3, 4),    // "Friday, June thirteenth at ten AM"
}

// matchGroups adapts a compiled pattern into a matcher by mapping its
// capture group indices onto the rawMatch fields. A field index of -1
// means the pattern has no such group.
func matchGroups(re *regexp.Regexp, dayIdx, hourIdx, minIdx, merIdx int) matcher {
	return func(utterance string) *rawMatch {
		m := re.FindStringSubmatch(utterance)
		if m == nil {
			return nil
		}
		r := &rawMatch{matched: m[0]}
		r.day = m[dayIdx]
		r.hourText = m[hourIdx]
		if minIdx >= 0 {
			r.minText = m[minIdx]
		}
		r.meridiem = m[merIdx]
		return r
	}
}

// Parse extracts an appointment candidate from an utterance, or returns
// nil when no pattern matches. The reference time decides how day
// tokens resolve to absolute dates; all times are interpreted in the
// business's fixed operating timezone (now.Location()).
func Parse(utterance string, now time.Time) *models.AppointmentCandidate {
	for _, match := range matchers {
		raw := match(utterance)
		if raw == nil {
			continue
		}
		if c := resolve(raw, now); c != nil {
			return c
		}
		// Hour failed validation for this pattern; later patterns are
		// still tried.
	}
	return nil
}

// FromHint builds a candidate from a learned booking hint. Unspecified
// or "morning" times default to 09:00, "afternoon" to 14:00, otherwise
// the hint's "HH:MM AM/PM" text is parsed.
func FromHint(utterance, day, timeText string, now time.Time) *models.AppointmentCandidate {
	hour := 9
	minute := 0
	meridiem := "am"
	switch strings.ToLower(timeText) {
	case "", "any", "morning":
		// defaults above
	case "afternoon":
		hour = 2
		meridiem = "pm"
	default:
		m := regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)`).FindStringSubmatch(timeText)
		if m != nil {
			hour, _ = strconv.Atoi(m[1])
			meridiem = strings.ToLower(m[3])
		}
	}
	hour24 := to24Hour(hour, meridiem)
	c := buildCandidate(strings.ToLower(day), hour24, minute, utterance, now)
	c.Source = models.SourceMemory
	return c
}

// resolve validates the raw pieces and produces a candidate, or nil
// when the hour is not an integer in [1,12].
func resolve(raw *rawMatch, now time.Time) *models.AppointmentCandidate {
	hour, ok := parseHour(raw.hourText)
	if !ok {
		return nil
	}
	minute := 0
	if raw.minText != "" {
		minute, _ = strconv.Atoi(raw.minText)
	}
	meridiem := normalizeMeridiem(raw.meridiem)
	if meridiem == "" {
		meridiem = heuristicMeridiem(hour)
	}
	c := buildCandidate(strings.ToLower(raw.day), to24Hour(hour, meridiem), minute, raw.matched, now)
	c.Source = models.SourcePattern
	return c
}

func parseHour(text string) (int, bool) {
	if h, ok := hourWords[strings.ToLower(text)]; ok {
		return h, true
	}
	h, err := strconv.Atoi(text)
	if err != nil || h < 1 || h > 12 {
		return 0, false
	}
	return h, true
}

// normalizeMeridiem reduces punctuation/whitespace variants of
// "a.m."/"p.m." to "am"/"pm". Returns "" when absent.
func normalizeMeridiem(text string) string {
	cleaned := strings.NewReplacer(".", "", " ", "").Replace(strings.ToLower(text))
	switch {
	case strings.Contains(cleaned, "p"):
		return "pm"
	case strings.Contains(cleaned, "a"):
		return "am"
	default:
		return ""
	}
}

// heuristicMeridiem applies the business-hours assumption when no
// explicit meridiem is spoken: raw hours 8-11 are morning, 1-4 are
// afternoon, anything else defaults to AM. A bare "7" intended as 7 PM
// is therefore read as 7 AM.
func heuristicMeridiem(hour int) string {
	switch {
	case hour >= 8 && hour <= 11:
		return "am"
	case hour >= 1 && hour <= 4:
		return "pm"
	default:
		return "am"
	}
}

// to24Hour applies the standard 12/24 rollover: 12 PM stays 12, 12 AM
// becomes 0, PM hours 1-11 add 12.
func to24Hour(hour int, meridiem string) int {
	if meridiem == "pm" && hour != 12 {
		return hour + 12
	}
	if meridiem == "am" && hour == 12 {
		return 0
	}
	return hour
}

// buildCandidate resolves the day token against the reference time and
// assembles the final candidate.
func buildCandidate(day string, hour24, minute int, original string, now time.Time) *models.AppointmentCandidate {
	date := resolveDay(day, now)
	resolved := time.Date(date.Year(), date.Month(), date.Day(), hour24, minute, 0, 0, now.Location())
	return &models.AppointmentCandidate{
		DayToken:         day,
		Hour:             hour24,
		Minute:           minute,
		ResolvedDateTime: resolved,
		DisplayTime:      displayTime(hour24, minute),
		IsBusinessHours:  hour24 >= models.BusinessHoursStart && hour24 < models.BusinessHoursEnd,
		OriginalText:     original,
	}
}

// resolveDay maps a day token to an absolute date. "today" and
// "tomorrow" are fixed offsets; a weekday name resolves to its next
// occurrence strictly in the future, so a token equal to today's
// weekday rolls forward a full week.
func resolveDay(day string, now time.Time) time.Time {
	switch day {
	case "today":
		return now
	case "tomorrow":
		return now.AddDate(0, 0, 1)
	}
	target, ok := weekdays[day]
	if !ok {
		return now
	}
	daysAhead := int(target) - int(now.Weekday())
	if daysAhead <= 0 {
		daysAhead += 7
	}
	return now.AddDate(0, 0, daysAhead)
}

func displayTime(hour24, minute int) string {
	displayHour := hour24
	period := "AM"
	if hour24 >= 12 {
		period = "PM"
	}
	if hour24 > 12 {
		displayHour = hour24 - 12
	} else if hour24 == 0 {
		displayHour = 12
	}
	return fmt.Sprintf("%d:%02d %s", displayHour, minute, period)
}
