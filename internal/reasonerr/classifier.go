package reasonerr

import (
	"errors"
	"fmt"
	"strings"
)

// Classification is what every surfaced error carries: a category, a stable
// code, a human description, retryability, and up to four suggested next
// steps (spec.md §7).
type Classification struct {
	Category    Category
	Code        Code
	Description string
	Retryable   bool
	NextSteps   []string
}

// Error is the structured error type every internal package should return
// for a condition that belongs to the closed taxonomy. It implements the
// standard error interface and carries its own Classification so repeated
// classification is idempotent (spec.md §8: classify(classify(e).asError())
// yields the same code).
type Error struct {
	classification Classification
	detail         string
	cause          error
}

// New constructs a classified Error for the given code with an optional
// free-text detail appended to the taxonomy's fixed description.
func New(code Code, detail string) *Error {
	r := ruleForCode(code)
	return &Error{
		classification: Classification{
			Category:    r.category,
			Code:        r.code,
			Description: r.description,
			Retryable:   r.retryable,
			NextSteps:   capNextSteps(r.nextSteps),
		},
		detail: detail,
	}
}

// Wrap classifies an arbitrary third-party error by the substring heuristics
// in the taxonomy table, preserving it as the cause.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		// Already classified: re-classifying an Error must be a no-op so
		// classify(classify(e)) == classify(e) (spec.md §8).
		return existing
	}

	msg := strings.ToLower(err.Error())
	for _, r := range taxonomy {
		for _, sub := range r.substrings {
			if strings.Contains(msg, sub) {
				return &Error{
					classification: Classification{
						Category:    r.category,
						Code:        r.code,
						Description: r.description,
						Retryable:   r.retryable,
						NextSteps:   capNextSteps(r.nextSteps),
					},
					detail: err.Error(),
					cause:  err,
				}
			}
		}
	}

	r := ruleForCode(UnknownError)
	return &Error{
		classification: Classification{
			Category:    r.category,
			Code:        r.code,
			Description: r.description,
			Retryable:   r.retryable,
			NextSteps:   capNextSteps(r.nextSteps),
		},
		detail: err.Error(),
		cause:  err,
	}
}

// Classify returns the Classification for any error, constructing one via
// Wrap if it is not already a *Error.
func Classify(err error) Classification {
	return Wrap(err).classification
}

func (e *Error) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("%s: %s", e.classification.Code, e.classification.Description)
	}
	return fmt.Sprintf("%s: %s (%s)", e.classification.Code, e.classification.Description, e.detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Classification returns the structured classification carried by e.
func (e *Error) Classification() Classification { return e.classification }

// Is reports whether e has the given code, so callers can write
// errors.Is(err, reasonerr.New(reasonerr.SessionLocked, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.classification.Code == t.classification.Code
	}
	return false
}

func capNextSteps(steps []string) []string {
	if len(steps) > 4 {
		return append([]string{}, steps[:4]...)
	}
	return append([]string{}, steps...)
}
