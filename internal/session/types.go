// Package session implements the Session Manager (spec.md §4.5): lifecycle,
// per-session locking, progress, and garbage collection of in-memory
// reasoning sessions. It is the sole owner of Session objects and their
// mutable state; every other component holds only session ids.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is one of the five session states (spec.md §3).
type Status string

const (
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleting Status = "completing"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Role identifies who authored a Turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleRemote Role = "remote"
	RoleSystem Role = "system"
)

// Kind is an analysis kind requested by the caller.
type Kind string

const (
	KindExecutionTrace Kind = "execution_trace"
	KindCrossSystem    Kind = "cross_system"
	KindPerformance    Kind = "performance"
	KindHypothesisTest Kind = "hypothesis_test"
)

// FindingKind is one of the four closed finding categories.
type FindingKind string

const (
	FindingBug          FindingKind = "bug"
	FindingPerformance  FindingKind = "performance"
	FindingArchitecture FindingKind = "architecture"
	FindingSecurity     FindingKind = "security"
)

// Severity is a closed ordinal severity scale.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Location pins a Finding to a place in the project.
type Location struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   *int   `json:"column,omitempty"`
	Function string `json:"function,omitempty"`
}

// Finding is a single structured result (spec.md §3).
type Finding struct {
	Kind        FindingKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Location    Location    `json:"location"`
	Description string      `json:"description"`
	Evidence    []string    `json:"evidence"`
}

// DedupKey returns a stable key used to collapse findings that the same
// underlying root cause produces across multiple explorations. Supplements
// spec.md per the original TypeScript implementation's cross-hypothesis
// finding merge (see SPEC_FULL.md §3).
func (f Finding) DedupKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", f.Kind, f.Location.File, f.Location.Line, f.Description)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// CodeScope identifies the focus area for an analysis request.
type CodeScope struct {
	Files        []string       `json:"files"`
	EntryPoints  []CodeLocation `json:"entry_points,omitempty"`
	ServiceNames []string       `json:"service_names,omitempty"`
}

// CodeLocation identifies an entry point by file/line/optional function.
type CodeLocation struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	FunctionName string `json:"function_name,omitempty"`
}

// RequestContext is the caller-supplied context for an analysis (spec.md §3).
type RequestContext struct {
	AttemptedApproaches []string
	PartialFindings     []Finding
	StuckPoints         []string
	Focus               CodeScope
	RemainingBudget     time.Duration
}

// Turn is one appended utterance within a session (spec.md §3).
type Turn struct {
	ID        int
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  TurnMetadata
}

// TurnMetadata carries optional analysis-kind, follow-ups, and findings
// extracted from a turn.
type TurnMetadata struct {
	AnalysisKind   Kind
	FollowUps      []string
	Findings       []Finding
	Recommendation string
}

// Progress is the deterministic [0,1] progress record (spec.md §3).
type Progress struct {
	CompletedSteps  []string
	PendingQuestions map[string]struct{}
	KeyFindings     []Finding
	Confidence      float64
}

// Session is the in-memory context of one multi-turn reasoning dialogue.
// Every mutable field must only be touched while holding Manager's internal
// per-session lock; external packages never see *Session directly — only
// snapshots returned from Manager methods.
type Session struct {
	ID             string
	Created        time.Time
	LastActivity   time.Time
	Status         Status
	Context        RequestContext
	Turns          []Turn
	Progress       Progress
	ChatHandle     any // not populated by Manager; live chat handles are held in the orchestrator's registry
	locked         bool
	nextTurnID     int
}

// Snapshot is an immutable, externally safe view of a Session, returned by
// Manager.Get and similar accessors so callers never hold a live reference
// into Manager's internal map.
type Snapshot struct {
	ID           string
	Created      time.Time
	LastActivity time.Time
	Status       Status
	Context      RequestContext
	Turns        []Turn
	Progress     Progress
}

func snapshotOf(s *Session) Snapshot {
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)
	progress := s.Progress
	progress.PendingQuestions = make(map[string]struct{}, len(s.Progress.PendingQuestions))
	for q := range s.Progress.PendingQuestions {
		progress.PendingQuestions[q] = struct{}{}
	}
	return Snapshot{
		ID:           s.ID,
		Created:      s.Created,
		LastActivity: s.LastActivity,
		Status:       s.Status,
		Context:      s.Context,
		Turns:        turns,
		Progress:     progress,
	}
}
