package calibration

import (
	"regexp"
	"strconv"
)

// Extraction is the result of reading a confidence claim out of text.
type Extraction struct {
	Confidence float64 `json:"confidence"`
	// LowEvidence is set when no explicit claim was found and the
	// default applies.
	LowEvidence bool `json:"low_evidence"`
	// Phrase is the matched text, empty when LowEvidence.
	Phrase string `json:"phrase,omitempty"`
}

// DefaultConfidence applies when text states no confidence at all.
const DefaultConfidence = 0.5

// Ordered by specificity; the first match wins.
var confidencePatterns = []*regexp.Regexp{
	// "confidence: 0.85", "confidence = .9", "confidence level of 0.7"
	regexp.MustCompile(`(?i)confidence(?:\s+level)?(?:\s+of)?\s*[:=]?\s*(0?\.\d+|[01](?:\.\d+)?)\b`),
	// "85% confident", "I am 90 % certain", "70% sure"
	regexp.MustCompile(`(?i)(\d{1,3})\s*%\s*(?:confident|confidence|certain|sure)`),
	// "confident at 0.8", "certainty of 0.75"
	regexp.MustCompile(`(?i)(?:confident|certainty)\s+(?:at|of)\s+(0?\.\d+|[01](?:\.\d+)?)\b`),
	// "probability 0.65 that", "with probability of 0.8"
	regexp.MustCompile(`(?i)probability\s+(?:of\s+)?(0?\.\d+|[01](?:\.\d+)?)\b`),
}

// ExtractConfidence finds the first stated confidence in text. Percent
// forms are divided by 100; everything is clamped to [0,1]. Text with
// no claim gets the 0.5 default and the low-evidence flag, which the
// gate treats as a reason to be cautious rather than a real score.
func ExtractConfidence(text string) Extraction {
	for i, pattern := range confidencePatterns {
		loc := pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		raw := text[loc[2]:loc[3]]
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if i == 1 { // percent pattern
			value /= 100
		}
		return Extraction{
			Confidence: clamp01(value),
			Phrase:     text[loc[0]:loc[1]],
		}
	}
	return Extraction{Confidence: DefaultConfidence, LowEvidence: true}
}
