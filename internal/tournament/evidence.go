package tournament

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deepreason/gateway/internal/session"
)

var supportingKeywords = []string{
	"confirm", "validate", "support", "consistent with", "aligns with",
	"indicates", "found", "discovered", "identified", "observed",
}

var contradictingKeywords = []string{
	"contradict", "disprove", "inconsistent", "rules out", "unlikely",
	"no evidence", "not found", "absence of",
}

var codeRefPattern = regexp.MustCompile(`\b[\w./-]+\.\w+:\d+\b`)

var (
	strongWords   = []string{"certainly", "definitely"}
	likelyWords   = []string{"likely", "probably"}
	possibleWords = []string{"possibly", "might"}
)

func classifyLine(line string) (Polarity, bool) {
	lower := strings.ToLower(line)
	for _, kw := range supportingKeywords {
		if strings.Contains(lower, kw) {
			return PolaritySupporting, true
		}
	}
	for _, kw := range contradictingKeywords {
		if strings.Contains(lower, kw) {
			return PolarityContradicting, true
		}
	}
	return PolarityNeutral, false
}

// wordStrengthConfidence derives a confidence in [0,1] from hedge words
// present in the line (spec.md §4.7).
func wordStrengthConfidence(line string) float64 {
	lower := strings.ToLower(line)
	for _, w := range strongWords {
		if strings.Contains(lower, w) {
			return 0.85
		}
	}
	for _, w := range likelyWords {
		if strings.Contains(lower, w) {
			return 0.6
		}
	}
	for _, w := range possibleWords {
		if strings.Contains(lower, w) {
			return 0.3
		}
	}
	return 0.5
}

// locationFromRef parses a "path/to/file.ext:line" code reference into a
// Location. The line segment is always well-formed because it is matched by
// codeRefPattern before this is called.
func locationFromRef(ref string) *session.Location {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 {
		return nil
	}
	line, err := strconv.Atoi(ref[idx+1:])
	if err != nil {
		return nil
	}
	return &session.Location{File: ref[:idx], Line: line}
}

// extractEvidence scans a remote response line by line, classifying each
// line that matches a supporting or contradicting keyword set and attaching
// a word-strength confidence and, when present, a code reference.
func extractEvidence(response string) []Evidence {
	var out []Evidence
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		polarity, matched := classifyLine(line)
		if !matched {
			continue
		}
		ev := Evidence{
			Polarity:    polarity,
			Description: line,
			Confidence:  wordStrengthConfidence(line),
			Discovered:  time.Now(),
		}
		if ref := codeRefPattern.FindString(line); ref != "" {
			ev.Location = locationFromRef(ref)
		}
		out = append(out, ev)
	}
	return out
}

// aggregateConfidence folds a result's evidence into an overall confidence
// via a weighted, signed sum normalized into [0,1] (spec.md §4.7 step 2d).
func aggregateConfidence(evidence []Evidence, hasInsights bool) float64 {
	if len(evidence) == 0 {
		if hasInsights {
			return 0.5
		}
		return 0
	}

	var signedSum, absSum float64
	const weight = 1.0
	for _, ev := range evidence {
		switch ev.Polarity {
		case PolaritySupporting:
			signedSum += weight * ev.Confidence
			absSum += weight * ev.Confidence
		case PolarityContradicting:
			signedSum -= weight * ev.Confidence
			absSum += weight * ev.Confidence
		case PolarityNeutral:
			// contributes zero to both sums
		}
	}
	if absSum == 0 {
		return 0.5
	}
	return (absSum + signedSum) / (2 * absSum)
}
