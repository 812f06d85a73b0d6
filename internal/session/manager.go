package session

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deepreason/gateway/internal/logging"
	"github.com/deepreason/gateway/internal/reasonerr"
)

// entry pairs a Session with the tiny mutex guarding concurrent field
// mutation. It is never exposed outside Manager.
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Manager owns every Session and is the only component that may mutate one.
// A coarse mutex guards map insertion and id generation only; it never wraps
// an adapter call (spec.md §5).
type Manager struct {
	mapMu    sync.Mutex
	sessions map[string]*entry

	idleTimeout   time.Duration
	sweepInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager and starts its background sweeper.
func New(idleTimeout, sweepInterval time.Duration) *Manager {
	m := &Manager{
		sessions:      make(map[string]*entry),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweep()
	return m
}

func (m *Manager) sweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	now := time.Now()
	m.mapMu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mapMu.Unlock()

	for _, id := range ids {
		m.mapMu.Lock()
		e, ok := m.sessions[id]
		m.mapMu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		idle := now.Sub(e.session.LastActivity) > m.idleTimeout
		if idle && e.session.Status != StatusAbandoned {
			e.session.Status = StatusAbandoned
		}
		shouldDelete := idle
		e.mu.Unlock()
		if shouldDelete {
			m.mapMu.Lock()
			delete(m.sessions, id)
			m.mapMu.Unlock()
			logging.Session(id).Info().Msg("session swept after idle timeout")
		}
	}
}

// Create assigns a fresh id and initializes a new active session.
func (m *Manager) Create(ctx RequestContext) string {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()

	id := ulid.Make().String()
	now := time.Now()
	s := &Session{
		ID:           id,
		Created:      now,
		LastActivity: now,
		Status:       StatusActive,
		Context:      ctx,
		Progress: Progress{
			PendingQuestions: make(map[string]struct{}),
		},
		nextTurnID: 1,
	}
	m.sessions[id] = &entry{session: s}
	logging.Session(id).Info().Msg("session created")
	return id
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mapMu.Lock()
	e, ok := m.sessions[id]
	m.mapMu.Unlock()
	return e, ok
}

// Get returns a Snapshot of the session, or a classified SESSION_NOT_FOUND
// error if absent or past its idle timeout (in which case it is marked
// abandoned as a side effect, per spec.md §4.5).
func (m *Manager) Get(id string) (Snapshot, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Snapshot{}, reasonerr.New(reasonerr.SessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.session.LastActivity) > m.idleTimeout {
		e.session.Status = StatusAbandoned
		return Snapshot{}, reasonerr.New(reasonerr.SessionNotFound, id)
	}
	return snapshotOf(e.session), nil
}

// AcquireLock atomically transitions an active, non-timed-out session to
// processing and returns true, or returns false without blocking if the
// session does not exist, is past its idle timeout, or is not active
// (processing, completing, or terminal).
func (m *Manager) AcquireLock(id string) bool {
	e, ok := m.lookup(id)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.session.LastActivity) > m.idleTimeout {
		e.session.Status = StatusAbandoned
		return false
	}
	if e.session.Status != StatusActive {
		return false
	}
	e.session.Status = StatusProcessing
	e.session.locked = true
	e.session.LastActivity = time.Now()
	return true
}

// ReleaseLock transitions a processing session back to active and refreshes
// its activity timestamp. It never blocks and is a no-op if the session is
// not currently processing.
func (m *Manager) ReleaseLock(id string) {
	e, ok := m.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != StatusProcessing {
		return
	}
	e.session.Status = StatusActive
	e.session.locked = false
	e.session.LastActivity = time.Now()
}

// ReleaseAsActive is identical to ReleaseLock but is named separately to
// make call sites that release after a cancelled/timed-out adapter call
// explicit: the session becomes active again, never abandoned, so a
// subsequent caller may retry (spec.md §4.6 cancellation).
func (m *Manager) ReleaseAsActive(id string) { m.ReleaseLock(id) }

const turnCap = 50

// AddTurn appends a turn, only permitted while the session exists and is
// active or processing. Turn ids are dense and strictly increasing from 1.
func (m *Manager) AddTurn(id string, role Role, content string, meta TurnMetadata) (Turn, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Turn{}, reasonerr.New(reasonerr.SessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != StatusActive && e.session.Status != StatusProcessing {
		return Turn{}, reasonerr.New(reasonerr.SessionNotFound, "session is terminal: "+id)
	}

	turn := Turn{
		ID:        e.session.nextTurnID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  meta,
	}
	e.session.nextTurnID++
	e.session.Turns = append(e.session.Turns, turn)
	e.session.LastActivity = time.Now()

	if len(e.session.Turns) >= turnCap {
		e.session.Status = StatusCompleting
	}

	return turn, nil
}

// ProgressUpdate is the set of named fields UpdateProgress merges.
type ProgressUpdate struct {
	CompletedStep   string
	PendingQuestion *string // nil: no change; empty string clears all
	AddFinding      *Finding
	Confidence      *float64
}

// UpdateProgress merges the given fields into the session's progress record.
// A confidence >= 0.9 transitions the session to completing.
func (m *Manager) UpdateProgress(id string, update ProgressUpdate) error {
	e, ok := m.lookup(id)
	if !ok {
		return reasonerr.New(reasonerr.SessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if update.CompletedStep != "" {
		e.session.Progress.CompletedSteps = append(e.session.Progress.CompletedSteps, update.CompletedStep)
	}
	if update.PendingQuestion != nil {
		if *update.PendingQuestion == "" {
			e.session.Progress.PendingQuestions = make(map[string]struct{})
		} else {
			e.session.Progress.PendingQuestions[*update.PendingQuestion] = struct{}{}
		}
	}
	if update.AddFinding != nil {
		e.session.Progress.KeyFindings = append(e.session.Progress.KeyFindings, *update.AddFinding)
	}
	if update.Confidence != nil {
		e.session.Progress.Confidence = *update.Confidence
		if *update.Confidence >= 0.9 {
			e.session.Status = StatusCompleting
		}
	}
	e.session.LastActivity = time.Now()
	return nil
}

// ShouldComplete reports whether the session satisfies any of the four
// completion conditions (spec.md §8): status==completing, no pending
// questions, confidence>=0.9, or turn count >= 50.
func (m *Manager) ShouldComplete(id string) (bool, error) {
	e, ok := m.lookup(id)
	if !ok {
		return false, reasonerr.New(reasonerr.SessionNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s.Status == StatusCompleting {
		return true, nil
	}
	if len(s.Progress.PendingQuestions) == 0 {
		return true, nil
	}
	if s.Progress.Confidence >= 0.9 {
		return true, nil
	}
	if len(s.Turns) >= turnCap {
		return true, nil
	}
	return false, nil
}

// MarkCompleted finalizes a session, making it immutable except for GC.
func (m *Manager) MarkCompleted(id string) error {
	e, ok := m.lookup(id)
	if !ok {
		return reasonerr.New(reasonerr.SessionNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Status = StatusCompleted
	e.session.locked = false
	return nil
}

var recommendLine = regexp.MustCompile(`(?i)recommend(?:s|ation)?:\s*(.+)`)

// Results is the analysis-result snapshot extractResults composes.
type Results struct {
	SessionID       string
	TurnCount       int
	WallDuration    time.Duration
	CompletedSteps  []string
	Insights        []string
	Recommendations []string
	Findings        []Finding
}

// ExtractResults composes an analysis result snapshot from the session's
// turn metadata and remote-turn content (spec.md §4.5).
func (m *Manager) ExtractResults(id string) (Results, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Results{}, reasonerr.New(reasonerr.SessionNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	var insights, recs []string
	var findings []Finding
	for _, t := range s.Turns {
		if t.Metadata.Recommendation != "" {
			recs = append(recs, t.Metadata.Recommendation)
		}
		findings = append(findings, t.Metadata.Findings...)
		if t.Role == RoleRemote {
			for _, match := range recommendLine.FindAllStringSubmatch(t.Content, -1) {
				recs = append(recs, strings.TrimSpace(match[1]))
			}
			if t.Metadata.AnalysisKind != "" {
				insights = append(insights, fmt.Sprintf("[%s] %s", t.Metadata.AnalysisKind, firstSentence(t.Content)))
			}
		}
	}

	steps := append([]string{}, s.Progress.CompletedSteps...)
	sort.Strings(recs)
	recs = dedupe(recs)

	return Results{
		SessionID:       id,
		TurnCount:       len(s.Turns),
		WallDuration:    time.Since(s.Created),
		CompletedSteps:  steps,
		Insights:        insights,
		Recommendations: recs,
		Findings:        findings,
	}, nil
}

func firstSentence(s string) string {
	idx := strings.IndexAny(s, ".!?")
	if idx < 0 || idx > 200 {
		if len(s) > 200 {
			return s[:200]
		}
		return s
	}
	return s[:idx+1]
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Destroy stops the sweeper and drops all sessions. Test hook only.
func (m *Manager) Destroy() {
	close(m.stopCh)
	m.wg.Wait()
	m.mapMu.Lock()
	m.sessions = make(map[string]*entry)
	m.mapMu.Unlock()
}
