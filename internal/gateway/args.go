package gateway

import (
	"fmt"
	"time"

	"github.com/deepreason/gateway/internal/session"
)

func asMap(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

func asString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func asBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func asFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func asInt(args map[string]any, key string, def int) int {
	return int(asFloat(args, key, float64(def)))
}

func asStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseClaudeContext maps the claude_context argument object (already
// schema-validated by the caller) into a RequestContext.
func parseClaudeContext(raw map[string]any) session.RequestContext {
	scope := asMap(raw, "code_scope")
	return session.RequestContext{
		AttemptedApproaches: asStringSlice(raw, "attempted_approaches"),
		PartialFindings:     parseFindings(raw["partial_findings"]),
		StuckPoints:         stuckPoints(asString(raw, "stuck_description", "")),
		Focus: session.CodeScope{
			Files:        asStringSlice(scope, "files"),
			ServiceNames: asStringSlice(scope, "service_names"),
		},
	}
}

func stuckPoints(description string) []string {
	if description == "" {
		return nil
	}
	return []string{description}
}

func parseFindings(raw any) []session.Finding {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]session.Finding, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		loc := asMap(m, "location")
		out = append(out, session.Finding{
			Kind:        session.FindingKind(asString(m, "kind", "bug")),
			Severity:    session.Severity(asString(m, "severity", "low")),
			Description: asString(m, "description", ""),
			Evidence:    asStringSlice(m, "evidence"),
			Location: session.Location{
				File: asString(loc, "file", ""),
				Line: asInt(loc, "line", 0),
			},
		})
	}
	return out
}

// budgetOverride returns the caller's time_budget_seconds as a Duration,
// falling back to def when absent or non-positive.
func budgetOverride(args map[string]any, def time.Duration) time.Duration {
	secs := asFloat(args, "time_budget_seconds", 0)
	if secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required field %q", key)
	}
	return v, nil
}
