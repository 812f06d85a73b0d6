package tournament

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/deepreason/gateway/internal/reasonerr"
)

// numberedMarker matches the start of each "1.", "2)", ... list item so the
// response can be split into per-hypothesis blocks without a fragile
// greedy multi-line continuation pattern.
var numberedMarker = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*`)

// splitNumberedBlocks returns the text following each numbered-list marker,
// up to (but not including) the next marker or the end of the response.
func splitNumberedBlocks(response string) []string {
	markers := numberedMarker.FindAllStringIndex(response, -1)
	blocks := make([]string, 0, len(markers))
	for i, m := range markers {
		end := len(response)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		blocks = append(blocks, response[m[1]:end])
	}
	return blocks
}

var categoryKeywords = map[Category][]string{
	CategoryPerformance:  {"performance", "slow", "latency", "throughput"},
	CategoryBug:          {"bug", "defect", "incorrect", "wrong"},
	CategorySecurity:     {"security", "vulnerab", "injection", "auth"},
	CategoryArchitecture: {"architecture", "design", "coupling", "layering"},
	CategoryIntegration:  {"integration", "upstream", "downstream", "api contract"},
}

var priorityNumber = regexp.MustCompile(`priority[:\s]+([01](?:\.\d+)?)`)

var confidenceWords = map[string]float64{
	"very high": 0.9,
	"high":      0.75,
	"medium":    0.5,
	"moderate":  0.5,
	"low":       0.25,
	"very low":  0.1,
}

// ParseHypotheses parses the remote's numbered-list response into at most
// maxHypotheses Hypothesis values (spec.md §4.7 step 1). It returns a
// classified api/parse error when no hypothesis block can be extracted.
func ParseHypotheses(response string, maxHypotheses int) ([]Hypothesis, error) {
	blocks := splitNumberedBlocks(response)
	if len(blocks) == 0 {
		return nil, reasonerr.New(reasonerr.APIParseError, "no numbered hypotheses found in remote response")
	}

	out := make([]Hypothesis, 0, maxHypotheses)
	for _, b := range blocks {
		if len(out) >= maxHypotheses {
			break
		}
		text := strings.TrimSpace(b)
		if text == "" {
			continue
		}
		out = append(out, Hypothesis{
			ID:            ulid.Make().String(),
			Ordinal:       len(out),
			Theory:        firstLine(text),
			TestApproach:  testApproachOf(text),
			Category:      categoryOf(text),
			PriorPriority: priorityOf(text),
		})
	}
	if len(out) == 0 {
		return nil, reasonerr.New(reasonerr.APIParseError, "no usable hypothesis text in remote response")
	}
	return out, nil
}

func firstLine(text string) string {
	idx := strings.IndexByte(text, '\n')
	if idx < 0 {
		return text
	}
	return strings.TrimSpace(text[:idx])
}

func testApproachOf(text string) string {
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "approach:"); idx >= 0 {
		rest := text[idx+len("approach:"):]
		return strings.TrimSpace(firstLine(rest))
	}
	return "inspect related code paths and recent changes"
}

func categoryOf(text string) Category {
	lower := strings.ToLower(text)
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return CategoryBug
}

func priorityOf(text string) float64 {
	lower := strings.ToLower(text)
	if m := priorityNumber.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp01(v)
		}
	}
	for word, v := range confidenceWords {
		if strings.Contains(lower, word) {
			return v
		}
	}
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
