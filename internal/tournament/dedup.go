package tournament

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// similarityThreshold is the maximum normalized edit distance for two
// insight strings to be considered near-duplicates.
const similarityThreshold = 0.2

// dedupeInsights collapses near-duplicate insight strings (e.g. the same
// observation phrased slightly differently by two sessions exploring
// related hypotheses), keeping the first occurrence of each cluster.
func dedupeInsights(insights []string) []string {
	var out []string
	for _, candidate := range insights {
		if isNearDuplicate(candidate, out) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

func isNearDuplicate(candidate string, kept []string) bool {
	norm := strings.ToLower(strings.TrimSpace(candidate))
	for _, k := range kept {
		other := strings.ToLower(strings.TrimSpace(k))
		maxLen := len(norm)
		if len(other) > maxLen {
			maxLen = len(other)
		}
		if maxLen == 0 {
			continue
		}
		dist := levenshtein.ComputeDistance(norm, other)
		if float64(dist)/float64(maxLen) <= similarityThreshold {
			return true
		}
	}
	return false
}
