// Package orchestrator implements the Single-Dialogue Orchestrator
// (spec.md §4.6): it wraps the Session Manager, the Remote Dialogue
// Adapter, and the Secure Reader for the three public session operations a
// caller drives one conversation through.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepreason/gateway/internal/logging"
	"github.com/deepreason/gateway/internal/reasonerr"
	"github.com/deepreason/gateway/internal/remote"
	"github.com/deepreason/gateway/internal/secureread"
	"github.com/deepreason/gateway/internal/session"
)

// chatRegistry tracks the live Chat handle for each session id. The
// Session Manager owns Session state; the orchestrator is the sole owner of
// the opaque remote handle, keyed the same way. Its own mutex is distinct
// from the per-session lock: the registry may be read/written by any
// session's goroutine, so it needs its own short critical section.
type chatRegistry struct {
	mu   sync.Mutex
	byID map[string]remote.Chat
}

func (r *chatRegistry) set(id string, chat remote.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = chat
}

func (r *chatRegistry) get(id string) (remote.Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.byID[id]
	return chat, ok
}

func (r *chatRegistry) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Orchestrator is safe for concurrent use; its own bookkeeping is guarded
// by the Session Manager's per-session lock, acquired for the duration of
// every Continue and Finalize adapter call. StartConversation's Start call
// runs without the lock, before the new session id is returned to anyone.
type Orchestrator struct {
	sessions *session.Manager
	adapter  *remote.Adapter
	reader   *secureread.Reader
	chats    chatRegistry
}

// New constructs an Orchestrator over the given Session Manager, Remote
// Dialogue Adapter, and Secure Reader.
func New(sessions *session.Manager, adapter *remote.Adapter, reader *secureread.Reader) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		adapter:  adapter,
		reader:   reader,
		chats:    chatRegistry{byID: make(map[string]remote.Chat)},
	}
}

// StartResult is returned by StartConversation.
type StartResult struct {
	SessionID string
	Response  string
	FollowUps []string
	Status    session.Status

	// Partial and the fields below are populated only when the request's
	// budget expired before the remote model replied (spec.md §5/§7).
	Partial                bool
	RuledOutApproaches     []string
	InvestigationNextSteps []string
}

// StartConversation creates a session, reads the focus-area files through
// the Secure Reader, invokes the adapter's start operation, and logs the
// first remote turn (spec.md §4.6).
func (o *Orchestrator) StartConversation(ctx context.Context, reqCtx session.RequestContext, kind session.Kind, initialQuestion string) (StartResult, error) {
	id := o.sessions.Create(reqCtx)

	for _, path := range reqCtx.Focus.Files {
		if _, err := o.reader.Read(path); err != nil {
			logging.Session(id).Warn().Err(err).Str("path", path).Msg("focus file unreadable, continuing without it")
		}
	}

	chat, result, err := o.adapter.Start(ctx, reqCtx, kind, initialQuestion)
	if err != nil {
		if ctx.Err() != nil {
			logging.Session(id).Warn().Msg("request budget expired before the remote model replied; returning partial result")
			return partialStartResult(id, reqCtx), nil
		}
		return StartResult{}, fmt.Errorf("session %s: %w", id, err)
	}
	o.chats.set(id, chat)

	if _, err := o.sessions.AddTurn(id, session.RoleRemote, result.Response, session.TurnMetadata{
		AnalysisKind: kind,
		FollowUps:    result.FollowUps,
	}); err != nil {
		return StartResult{}, fmt.Errorf("session %s: %w", id, err)
	}

	return StartResult{
		SessionID: id,
		Response:  result.Response,
		FollowUps: result.FollowUps,
		Status:    session.StatusActive,
	}, nil
}

// partialStartResult builds the degraded-but-valid StartResult returned when
// the remote model does not reply before the request budget expires: the
// session stays active (no chat handle is registered) so a caller may retry
// against a fresh start, and the ruled-out approaches carry forward the
// caller's own attempted_approaches per spec.md §8's partial-result scenario.
func partialStartResult(id string, reqCtx session.RequestContext) StartResult {
	return StartResult{
		SessionID:              id,
		Status:                 session.StatusActive,
		Partial:                true,
		RuledOutApproaches:     append([]string{}, reqCtx.AttemptedApproaches...),
		InvestigationNextSteps: []string{"the request budget expired before the remote model replied; retry with a narrower question or a larger time_budget_seconds"},
	}
}

// ContinueResult is returned by ContinueConversation.
type ContinueResult struct {
	Response    string
	Progress    float64
	Finalizable bool
	Status      session.Status

	// Partial and the fields below are populated only when the request's
	// budget expired before the remote model replied (spec.md §5/§7).
	Partial                bool
	RuledOutApproaches     []string
	InvestigationNextSteps []string
}

// partialContinueResult mirrors partialStartResult for an in-flight session:
// the lock is released back to active by the caller's deferred
// ReleaseAsActive, so the session remains retryable.
func partialContinueResult(snap session.Snapshot) ContinueResult {
	return ContinueResult{
		Status:                 snap.Status,
		Partial:                true,
		RuledOutApproaches:     append([]string{}, snap.Context.AttemptedApproaches...),
		InvestigationNextSteps: []string{"the request budget expired before the remote model replied; retry with a narrower question or a larger time_budget_seconds"},
	}
}

// lockError classifies an AcquireLock failure for id: a terminal session
// (completed or abandoned) is SESSION_NOT_FOUND, since no amount of
// retrying will ever unlock it; anything else in flight is a retryable
// SESSION_LOCKED (spec.md §8).
func (o *Orchestrator) lockError(id string) error {
	snap, err := o.sessions.Get(id)
	if err != nil {
		return err
	}
	if snap.Status == session.StatusCompleted || snap.Status == session.StatusAbandoned {
		return reasonerr.New(reasonerr.SessionNotFound, "session "+id+" is "+string(snap.Status))
	}
	return reasonerr.New(reasonerr.SessionLocked, id)
}

// ContinueConversation acquires the session's lock, appends the caller's
// turn, invokes the adapter, appends the remote's reply, and updates
// progress. The lock is released on every exit path (spec.md §4.6).
func (o *Orchestrator) ContinueConversation(ctx context.Context, id, msg string, includeSnippets bool) (ContinueResult, error) {
	if !o.sessions.AcquireLock(id) {
		return ContinueResult{}, o.lockError(id)
	}

	defer o.sessions.ReleaseAsActive(id)

	chat, ok := o.chats.get(id)
	if !ok {
		return ContinueResult{}, reasonerr.New(reasonerr.SessionNotFound, id)
	}

	snap, err := o.sessions.Get(id)
	if err != nil {
		return ContinueResult{}, err
	}

	if _, err := o.sessions.AddTurn(id, session.RoleCaller, msg, session.TurnMetadata{}); err != nil {
		return ContinueResult{}, err
	}

	result, err := o.adapter.Continue(ctx, chat, snap.Context, msg, includeSnippets)
	if err != nil {
		if ctx.Err() != nil {
			// Budget expiry: leave the session active (via the deferred
			// ReleaseAsActive) so a retry can proceed, and surface a
			// partial result instead of a bare timeout error (spec.md §5/§7).
			logging.Session(id).Warn().Msg("request budget expired mid-continuation; returning partial result")
			return partialContinueResult(snap), nil
		}
		return ContinueResult{}, fmt.Errorf("session %s: %w", id, err)
	}

	if _, err := o.sessions.AddTurn(id, session.RoleRemote, result.Response, session.TurnMetadata{}); err != nil {
		return ContinueResult{}, err
	}

	conf := result.Progress
	if err := o.sessions.UpdateProgress(id, session.ProgressUpdate{Confidence: &conf}); err != nil {
		return ContinueResult{}, err
	}

	snap, err = o.sessions.Get(id)
	if err != nil {
		return ContinueResult{}, err
	}

	return ContinueResult{
		Response:    result.Response,
		Progress:    result.Progress,
		Finalizable: result.Finalizable,
		Status:      snap.Status,
	}, nil
}

// FinalizeResult is returned by FinalizeConversation.
type FinalizeResult struct {
	Analysis remote.AnalysisResult
	remoteResultsMeta

	// Partial and the fields below are populated only when the request's
	// budget expired before the remote model produced a final analysis
	// (spec.md §5/§7).
	Partial                bool
	RuledOutApproaches     []string
	InvestigationNextSteps []string
}

type remoteResultsMeta struct {
	TurnCount       int
	WallDuration    string
	CompletedSteps  []string
	Insights        []string
	Recommendations []string
}

// FinalizeConversation acquires the lock identically to ContinueConversation,
// invokes the adapter's finalize operation, merges it with the session
// manager's extracted metadata, and leaves the session completed rather
// than destroying it so status queries remain answerable (spec.md §4.6).
func (o *Orchestrator) FinalizeConversation(ctx context.Context, id string, format remote.Format) (FinalizeResult, error) {
	if !o.sessions.AcquireLock(id) {
		return FinalizeResult{}, o.lockError(id)
	}
	defer o.sessions.ReleaseAsActive(id)

	chat, ok := o.chats.get(id)
	if !ok {
		return FinalizeResult{}, reasonerr.New(reasonerr.SessionNotFound, id)
	}

	analysis, err := o.adapter.Finalize(ctx, chat, format)
	if err != nil {
		if ctx.Err() != nil {
			logging.Session(id).Warn().Msg("request budget expired during finalize; returning partial result")
			return o.partialFinalizeResult(id)
		}
		return FinalizeResult{}, fmt.Errorf("session %s: %w", id, err)
	}

	results, err := o.sessions.ExtractResults(id)
	if err != nil {
		return FinalizeResult{}, err
	}

	if err := o.sessions.MarkCompleted(id); err != nil {
		return FinalizeResult{}, err
	}
	o.chats.delete(id)

	return FinalizeResult{
		Analysis: analysis,
		remoteResultsMeta: remoteResultsMeta{
			TurnCount:       results.TurnCount,
			WallDuration:    results.WallDuration.String(),
			CompletedSteps:  results.CompletedSteps,
			Insights:        results.Insights,
			Recommendations: results.Recommendations,
		},
	}, nil
}

// partialFinalizeResult builds a degraded-but-valid FinalizeResult from
// whatever the session manager already accumulated, for when the remote
// model never returned a final analysis before the budget expired. The
// session is left active (not completed) so finalize_conversation can be
// retried.
func (o *Orchestrator) partialFinalizeResult(id string) (FinalizeResult, error) {
	snap, err := o.sessions.Get(id)
	if err != nil {
		return FinalizeResult{}, err
	}
	results, err := o.sessions.ExtractResults(id)
	if err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{
		Analysis: remote.AnalysisResult{
			Summary:  "analysis incomplete: the request budget expired before the remote model produced a final summary",
			Findings: results.Findings,
		},
		remoteResultsMeta: remoteResultsMeta{
			TurnCount:       results.TurnCount,
			WallDuration:    results.WallDuration.String(),
			CompletedSteps:  results.CompletedSteps,
			Insights:        results.Insights,
			Recommendations: results.Recommendations,
		},
		Partial:                true,
		RuledOutApproaches:     append([]string{}, snap.Context.AttemptedApproaches...),
		InvestigationNextSteps: []string{"the request budget expired before finalize completed; retry finalize_conversation or start a new session with a larger time_budget_seconds"},
	}, nil
}

// Status returns a session's current snapshot without acquiring its lock,
// for status polling. Like Manager.Get, it marks a session past its idle
// timeout abandoned and reports it as not found.
func (o *Orchestrator) Status(id string) (session.Snapshot, error) {
	return o.sessions.Get(id)
}
