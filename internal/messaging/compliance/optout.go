// Package compliance classifies inbound SMS for carrier and TCPA opt-out signals.
package compliance

import (
	"regexp"
	"strings"
)

// OptOutType distinguishes carrier keywords from free-text requests.
type OptOutType string

const (
	OptOutStandard OptOutType = "standard"
	OptOutInformal OptOutType = "informal"
	OptOutNone     OptOutType = "none"
)

// Confidence grades how sure the detector is that the patient wants to stop.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is the outcome of classifying one message. The zero value is "not detected".
type Result struct {
	Detected            bool       `json:"detected"`
	Type                OptOutType `json:"type"`
	MatchedPattern      string     `json:"matched_pattern,omitempty"`
	RequiresHumanReview bool       `json:"requires_human_review"`
	Confidence          Confidence `json:"confidence,omitempty"`
}

// Keyword is one carrier-recognized opt-out word. Pattern is a regexp fragment
// wrapped in word boundaries at compile time.
type Keyword struct {
	Label   string
	Pattern string
}

// Phrase is one informal opt-out phrase matched by case-insensitive containment.
type Phrase struct {
	Text       string
	Confidence Confidence
}

// StandardKeywords are honored without review. Longer variants come first so
// MatchedPattern reports the most specific label.
var StandardKeywords = []Keyword{
	{Label: "STOPALL", Pattern: `stop\s*all`},
	{Label: "STOP", Pattern: `stop`},
	{Label: "UNSUBSCRIBE", Pattern: `un-?\s?subscribe`},
	{Label: "CANCEL", Pattern: `cancel`},
	{Label: "END", Pattern: `end`},
	{Label: "QUIT", Pattern: `quit`},
	{Label: "OPTOUT", Pattern: `opt[\s-]?out`},
	{Label: "REVOKE", Pattern: `revoke`},
}

// InformalPhrases require a human to confirm before the patient is unsubscribed.
// The medium tier is the curated high-signal subset; the list is policy and expected to grow.
// The "stop ..." entries are shadowed by the STOP keyword with the default standard table.
var InformalPhrases = []Phrase{
	{Text: "stop texting", Confidence: ConfidenceMedium},
	{Text: "stop messaging", Confidence: ConfidenceMedium},
	{Text: "stop sending", Confidence: ConfidenceMedium},
	{Text: "stop contacting", Confidence: ConfidenceMedium},
	{Text: "remove me", Confidence: ConfidenceMedium},
	{Text: "take me off", Confidence: ConfidenceMedium},
	{Text: "opt me out", Confidence: ConfidenceMedium},
	{Text: "don't text", Confidence: ConfidenceMedium},
	{Text: "do not text", Confidence: ConfidenceMedium},
	{Text: "don't contact", Confidence: ConfidenceMedium},
	{Text: "do not contact", Confidence: ConfidenceMedium},
	{Text: "no more texts", Confidence: ConfidenceMedium},
	{Text: "no more messages", Confidence: ConfidenceMedium},
	{Text: "leave me alone", Confidence: ConfidenceMedium},
	{Text: "not interested", Confidence: ConfidenceLow},
	{Text: "go away", Confidence: ConfidenceLow},
	{Text: "no thanks", Confidence: ConfidenceLow},
	{Text: "no thank you", Confidence: ConfidenceLow},
	{Text: "wrong number", Confidence: ConfidenceLow},
	{Text: "lose my number", Confidence: ConfidenceLow},
	{Text: "delete my number", Confidence: ConfidenceLow},
	{Text: "don't want these", Confidence: ConfidenceLow},
	{Text: "done with this", Confidence: ConfidenceLow},
	{Text: "this is spam", Confidence: ConfidenceLow},
}

type compiledKeyword struct {
	label string
	re    *regexp.Regexp
}

// Detector identifies opt-out and HELP keywords in inbound messages.
type Detector struct {
	standard  []compiledKeyword
	informal  []Phrase
	helpRegex *regexp.Regexp
}

// NewDetector returns a detector built from the default tables.
func NewDetector() *Detector {
	return NewDetectorWithTables(StandardKeywords, InformalPhrases)
}

// NewDetectorWithTables builds a detector from caller-supplied tables.
// It panics on an invalid keyword pattern, like regexp.MustCompile.
func NewDetectorWithTables(keywords []Keyword, phrases []Phrase) *Detector {
	d := &Detector{
		helpRegex: regexp.MustCompile(`(?i)^(?:please\s+)?(help|info)\b`),
	}
	for _, kw := range keywords {
		d.standard = append(d.standard, compiledKeyword{
			label: kw.Label,
			re:    regexp.MustCompile(`(?i)\b(?:` + kw.Pattern + `)\b`),
		})
	}
	for _, p := range phrases {
		text := normalizeText(p.Text)
		if text == "" {
			continue
		}
		d.informal = append(d.informal, Phrase{Text: text, Confidence: p.Confidence})
	}
	return d
}

// Classify reports whether message asks to stop receiving texts.
func (d *Detector) Classify(message string) Result {
	notDetected := Result{Type: OptOutNone}
	if d == nil {
		return notDetected
	}
	text := normalizeText(message)
	if text == "" {
		return notDetected
	}

	for _, kw := range d.standard {
		if kw.re.MatchString(text) {
			return Result{
				Detected:       true,
				Type:           OptOutStandard,
				MatchedPattern: kw.label,
				Confidence:     ConfidenceHigh,
			}
		}
	}

	for _, p := range d.informal {
		if strings.Contains(text, p.Text) {
			return Result{
				Detected:            true,
				Type:                OptOutInformal,
				MatchedPattern:      p.Text,
				RequiresHumanReview: true,
				Confidence:          p.Confidence,
			}
		}
	}
	return notDetected
}

// IsStop returns true when body contains a carrier STOP keyword.
func (d *Detector) IsStop(body string) bool {
	return d.Classify(body).Type == OptOutStandard
}

// IsHelp returns true when body starts with a HELP keyword.
func (d *Detector) IsHelp(body string) bool {
	if d == nil || d.helpRegex == nil {
		return false
	}
	return d.helpRegex.MatchString(strings.TrimSpace(body))
}

// normalizeText lowercases, folds curly apostrophes and collapses whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
