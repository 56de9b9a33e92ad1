// Package confidence estimates how trustworthy a tier's answer is.
//
// Scores are deterministic for a given input so gate decisions are
// reproducible in tests. When the backend reports a native score it wins;
// otherwise a heuristic over the response text fills in.
package confidence

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// defaultMarkerConfidence applies when the text carries no CONF marker.
	defaultMarkerConfidence = 0.3
	// unsureConfidence applies to explicit UNSURE answers.
	unsureConfidence = 0.05
)

var confMarker = regexp.MustCompile(`CONF=([0-1]?\.\d+)`)

var flagMarker = regexp.MustCompile(`\s*FLAG_[A-Z_]+`)

var confStrip = regexp.MustCompile(`\s*CONF=[0-1]?\.\d+`)

// refusalPhrases mark responses where the model declined rather than
// answered; these should escalate.
var refusalPhrases = []string{
	"i cannot",
	"i can't",
	"i'm unable",
	"i am unable",
	"as an ai",
	"i don't know",
}

// Score returns a confidence in [0,1] for a response. native is the
// backend-reported score, or a negative value when the backend exposes none.
func Score(text string, native float64) float64 {
	if native >= 0 {
		return clamp(native)
	}
	return Heuristic(text)
}

// Heuristic derives a confidence from the response text alone.
func Heuristic(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	if strings.HasPrefix(trimmed, "UNSURE") {
		return unsureConfidence
	}

	score := defaultMarkerConfidence
	if m := confMarker.FindStringSubmatch(trimmed); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			score = v
		}
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return clamp(score * 0.5)
		}
	}

	// Very short answers rarely carry enough substance to stop the ladder.
	if len(trimmed) < 20 {
		return clamp(score * 0.8)
	}
	return clamp(score)
}

// Clean strips CONF= and FLAG_ control markers from a response before it is
// shown to a caller.
func Clean(text string) string {
	cleaned := confStrip.ReplaceAllString(text, "")
	cleaned = flagMarker.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
