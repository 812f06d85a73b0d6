// Package reasonerr implements the closed error taxonomy of spec.md §4.3/§7:
// every error the core surfaces is classified exactly once into one of four
// categories, each carrying a stable code, description, retryability, and a
// short fixed list of suggested next steps.
//
// Per spec.md §9's design note, the keyword table that drives heuristic
// classification of third-party errors lives in one place (this file) so it
// can be tuned and tested as data, the way the teacher pack's
// error_classifier.go keeps its pattern table in one compiled slice.
package reasonerr

// Category is one of the four top-level error categories.
type Category string

const (
	CategorySession    Category = "session"
	CategoryAPI        Category = "api"
	CategoryFilesystem Category = "filesystem"
	CategoryUnknown    Category = "unknown"
)

// Code values, grouped by category.
const (
	SessionNotFound Code = "SESSION_NOT_FOUND"
	SessionLocked   Code = "SESSION_LOCKED"
	SessionTimeout  Code = "SESSION_TIMEOUT"

	APIAuthError    Code = "API_AUTH_ERROR"
	RateLimitError  Code = "RATE_LIMIT_ERROR"
	APIParseError   Code = "API_PARSE_ERROR"
	APITimeoutError Code = "API_TIMEOUT_ERROR"

	PathTraversal   Code = "PATH_TRAVERSAL"
	InvalidFileType Code = "INVALID_FILE_TYPE"
	FileTooLarge    Code = "FILE_TOO_LARGE"
	NotAFile        Code = "NOT_A_FILE"
	FSError         Code = "FS_ERROR"

	UnknownError Code = "UNKNOWN_ERROR"
)

// Code is a stable, short classification code.
type Code string

// rule describes one entry of the closed taxonomy.
type rule struct {
	code        Code
	category    Category
	description string
	retryable   bool
	nextSteps   []string
	substrings  []string // heuristic match against a third-party error's message/code
}

// taxonomy is the single source of truth for every known code. It is a slice,
// not a map, because rule order also determines heuristic match priority:
// more specific substrings are listed before more general ones.
var taxonomy = []rule{
	{
		code:        SessionNotFound,
		category:    CategorySession,
		description: "the session id does not exist or has expired",
		retryable:   false,
		nextSteps:   []string{"start a new conversation", "verify the session_id was copied correctly"},
		substrings:  []string{"session not found", "no such session", "unknown session"},
	},
	{
		code:        SessionLocked,
		category:    CategorySession,
		description: "another call is already in flight for this session",
		retryable:   true,
		nextSteps:   []string{"retry shortly", "avoid issuing concurrent calls against the same session_id"},
		substrings:  []string{"session locked", "session is locked", "already processing"},
	},
	{
		code:        SessionTimeout,
		category:    CategorySession,
		description: "the session was idle past its timeout and was abandoned",
		retryable:   false,
		nextSteps:   []string{"start a new conversation", "finalize sooner next time"},
		substrings:  []string{"session timeout", "session expired", "idle timeout"},
	},
	{
		code:        APIAuthError,
		category:    CategoryAPI,
		description: "the remote reasoning service rejected the request's credentials",
		retryable:   false,
		nextSteps:   []string{"verify GEMINI_API_KEY is set and valid", "check the key has not been revoked"},
		substrings:  []string{"unauthorized", "invalid api key", "authentication", "permission denied", "401", "403"},
	},
	{
		code:        RateLimitError,
		category:    CategoryAPI,
		description: "the remote reasoning service is rate-limiting requests",
		retryable:   true,
		nextSteps:   []string{"retry after the suggested delay", "reduce tournament parallelism"},
		substrings:  []string{"rate limit", "too many requests", "quota exceeded", "429"},
	},
	{
		code:        APIParseError,
		category:    CategoryAPI,
		description: "the remote reasoning service's response could not be parsed",
		retryable:   false,
		nextSteps:   []string{"retry the request", "request a different summary_format"},
		substrings:  []string{"no json object found", "invalid json", "unexpected response shape", "parse error"},
	},
	{
		code:        APITimeoutError,
		category:    CategoryAPI,
		description: "the remote reasoning service did not respond before the request's time budget expired",
		retryable:   true,
		nextSteps:   []string{"retry with a larger time_budget_seconds", "narrow the question and retry"},
		substrings:  []string{"context deadline exceeded", "deadline exceeded", "request timeout"},
	},
	{
		code:        PathTraversal,
		category:    CategoryFilesystem,
		description: "the requested path escapes the configured project root",
		retryable:   false,
		nextSteps:   []string{"pass a path inside the project root"},
		substrings:  []string{"path traversal", "outside project root", "escapes root"},
	},
	{
		code:        InvalidFileType,
		category:    CategoryFilesystem,
		description: "the file extension is not in the allowed list",
		retryable:   false,
		nextSteps:   []string{"request a source, config, or doc file"},
		substrings:  []string{"invalid file type", "extension not allowed", "unsupported extension"},
	},
	{
		code:        FileTooLarge,
		category:    CategoryFilesystem,
		description: "the file exceeds the 10 MiB size cap",
		retryable:   false,
		nextSteps:   []string{"request a smaller excerpt of the file"},
		substrings:  []string{"file too large", "exceeds size limit", "size cap"},
	},
	{
		code:        NotAFile,
		category:    CategoryFilesystem,
		description: "the requested path is a directory or other non-regular file",
		retryable:   false,
		nextSteps:   []string{"pass a path to a regular file"},
		substrings:  []string{"not a regular file", "is a directory"},
	},
	{
		code:        FSError,
		category:    CategoryFilesystem,
		description: "a filesystem operation failed",
		retryable:   false,
		nextSteps:   []string{"verify the path exists and is readable"},
		substrings:  []string{"no such file or directory", "permission denied", "i/o error"},
	},
	{
		code:        UnknownError,
		category:    CategoryUnknown,
		description: "an unclassified error occurred",
		retryable:   false,
		nextSteps:   []string{"retry the request", "report this if it persists"},
		substrings:  nil,
	},
}

func ruleForCode(code Code) rule {
	for _, r := range taxonomy {
		if r.code == code {
			return r
		}
	}
	return ruleForCode(UnknownError)
}
