// Package intent maps an inbound SMS body onto the reschedule flow's verbs.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind names what the patient is asking for.
type Kind string

const (
	KindReschedule    Kind = "reschedule_intent"
	KindSlotSelection Kind = "slot_selection"
	KindCallRequest   Kind = "call_request"
	KindDecline       Kind = "decline"
	KindUnknown       Kind = "unknown"
)

// MaxSelection is the highest slot index a patient can reply with.
const MaxSelection = 5

// Intent is the parsed form of one message.
type Intent struct {
	Kind      Kind
	Selection int
	Message   string
}

var (
	selectionRe = regexp.MustCompile(`(?i)^(?:i'?ll take|let'?s do|i want|go with)?\s*(?:the\s+)?(?:option|slot|number|choice|#)?\s*#?\s*([1-5])(?:st|nd|rd|th)?(?:\s+(?:one|please|pls|works|is good|is fine))?[\s.!]*$`)

	selectionWords = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	}

	// Adapted from the voice-callback detector patterns.
	callPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcall\s*(me\s*)?(back|please)\b`),
		regexp.MustCompile(`(?i)\bcallback\b`),
		regexp.MustCompile(`(?i)\bprefer\s*(a\s*)?call\b`),
		regexp.MustCompile(`(?i)\bcan\s*(you|someone)\s*call\s*(me)?\b`),
		regexp.MustCompile(`(?i)\bgive\s*me\s*a\s*call\b`),
		regexp.MustCompile(`(?i)\b(speak|talk)\s*(to|with)\s*(someone|a\s*person|a\s*human)\b`),
	}

	reschedulePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bre-?schedul\w*\b`),
		regexp.MustCompile(`(?i)\b(move|change|push|switch|shift)\b.*\b(appt|appointment|booking|time|visit)\b`),
		regexp.MustCompile(`(?i)\b(can'?t|cannot|won'?t be able to)\s+make\s+it\b`),
		regexp.MustCompile(`(?i)\b(different|another|new|other)\s+(time|day|date|slot)s?\b`),
	}

	declineRe = regexp.MustCompile(`(?i)^(no|nope|nah|never\s*mind|nvm|neither|none(\s+of\s+(those|these|them))?(\s+work)?)\b`)
)

// Parse classifies message. It never fails; unrecognized text is KindUnknown.
func Parse(message string) Intent {
	text := strings.TrimSpace(message)
	out := Intent{Kind: KindUnknown, Message: message}
	if text == "" {
		return out
	}

	if n := parseSelection(text); n > 0 {
		out.Kind = KindSlotSelection
		out.Selection = n
		return out
	}
	for _, re := range callPatterns {
		if re.MatchString(text) {
			out.Kind = KindCallRequest
			return out
		}
	}
	for _, re := range reschedulePatterns {
		if re.MatchString(text) {
			out.Kind = KindReschedule
			return out
		}
	}
	if declineRe.MatchString(text) {
		out.Kind = KindDecline
	}
	return out
}

func parseSelection(text string) int {
	if m := selectionRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= MaxSelection {
			return n
		}
	}
	word := strings.Trim(strings.ToLower(text), " .!")
	word = strings.TrimPrefix(word, "the ")
	word = strings.TrimSuffix(word, " one")
	if n, ok := selectionWords[word]; ok {
		return n
	}
	return 0
}
