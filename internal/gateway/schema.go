package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// FieldError is one {field_path, message} validation failure (spec.md §6).
type FieldError struct {
	FieldPath string `json:"field_path"`
	Message   string `json:"message"`
}

// ValidationError collects every FieldError produced by a single schema
// check.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("%s: %s", e.Errors[0].FieldPath, e.Errors[0].Message)
}

// claudeContextSchema mirrors spec.md §6's claude_context shape.
var claudeContextSchema = mustResolve(`{
	"type": "object",
	"required": ["attempted_approaches", "partial_findings", "stuck_description", "code_scope"],
	"properties": {
		"attempted_approaches": {"type": "array", "items": {"type": "string"}},
		"partial_findings": {"type": "array", "items": {"type": "object"}},
		"stuck_description": {"type": "string"},
		"code_scope": {
			"type": "object",
			"required": ["files"],
			"properties": {
				"files": {"type": "array", "items": {"type": "string"}},
				"entry_points": {"type": "array"},
				"service_names": {"type": "array", "items": {"type": "string"}}
			}
		}
	}
}`)

var tournamentConfigSchema = mustResolve(`{
	"type": "object",
	"properties": {
		"max_hypotheses": {"type": "integer", "minimum": 2, "maximum": 20},
		"max_rounds": {"type": "integer", "minimum": 1, "maximum": 5},
		"parallel_sessions": {"type": "integer", "minimum": 1, "maximum": 10}
	}
}`)

func mustResolve(schemaJSON string) *jsonschema.Resolved {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(schemaJSON), &s); err != nil {
		panic("gateway: invalid embedded schema: " + err.Error())
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic("gateway: schema failed to resolve: " + err.Error())
	}
	return resolved
}

// validateAgainst runs resolved against data (typically a map[string]any
// decoded from tool arguments) and reports a failure as a single
// {field_path, message} FieldError whose path is fieldPrefix and whose
// message is the validator's error text.
func validateAgainst(resolved *jsonschema.Resolved, fieldPrefix string, data any) []FieldError {
	if err := resolved.Validate(data); err != nil {
		return []FieldError{{FieldPath: fieldPrefix, Message: err.Error()}}
	}
	return nil
}
