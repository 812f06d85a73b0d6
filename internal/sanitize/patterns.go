package sanitize

import "regexp"

// injectionPatterns is the single table of known prompt-injection signatures
// (spec.md §4.2, §9 design note: keep heuristic keyword lists in one place so
// they can be tuned and tested as data).
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|the\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+(all\s+|the\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+|the\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)\[\s*(system|assistant)\s*\]`),
	regexp.MustCompile(`(?i)bypass\s+safety`),
	regexp.MustCompile(`(?i)act\s+as\s+(a|an|the)\s+`),
}

// QuarantineMarker is prepended to any sanitized string matching a known
// injection signature, so downstream readers can see the signal.
const QuarantineMarker = "[QUARANTINED: possible prompt injection detected] "
