package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	m := New(50*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(m.Destroy)
	return m
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{Focus: CodeScope{Files: []string{"a.go"}}})
	require.NotEmpty(t, id)

	snap, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusActive, snap.Status)
	require.Equal(t, []string{"a.go"}, snap.Context.Focus.Files)
}

func TestGetUnknownSessionIsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get("does-not-exist")
	require.Error(t, err)
}

// TestAcquireLockMutualExclusion asserts the spec.md §8 property: under N
// parallel lock attempts on the same session, exactly one succeeds.
func TestAcquireLockMutualExclusion(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	const n = 32
	var successes int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if m.AcquireLock(id) {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, successes)
}

func TestReleaseLockAllowsReacquire(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	require.True(t, m.AcquireLock(id))
	require.False(t, m.AcquireLock(id))

	m.ReleaseLock(id)
	require.True(t, m.AcquireLock(id))
}

func TestReleaseLockNeverBlocks(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	done := make(chan struct{})
	go func() {
		m.ReleaseLock(id) // not processing; must be a no-op, must return immediately
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReleaseLock blocked")
	}
}

func TestAddTurnDenseIndicesFromOne(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	for i := 0; i < 5; i++ {
		turn, err := m.AddTurn(id, RoleCaller, "hello", TurnMetadata{})
		require.NoError(t, err)
		require.Equal(t, i+1, turn.ID)
	}

	snap, err := m.Get(id)
	require.NoError(t, err)
	require.Len(t, snap.Turns, 5)
	for i, turn := range snap.Turns {
		require.Equal(t, i+1, turn.ID)
	}
}

func TestAddTurnCapTriggersCompleting(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	for i := 0; i < turnCap; i++ {
		_, err := m.AddTurn(id, RoleCaller, "x", TurnMetadata{})
		require.NoError(t, err)
	}

	snap, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleting, snap.Status)

	_, err = m.AddTurn(id, RoleCaller, "one more", TurnMetadata{})
	require.Error(t, err, "a completing session must reject further turns")
}

func TestUpdateProgressHighConfidenceCompletes(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	conf := 0.95
	require.NoError(t, m.UpdateProgress(id, ProgressUpdate{Confidence: &conf}))

	should, err := m.ShouldComplete(id)
	require.NoError(t, err)
	require.True(t, should)
}

func TestShouldCompleteWhenNoPendingQuestions(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	// A freshly created session has an empty PendingQuestions set, which is
	// itself one of the four completion conditions.
	should, err := m.ShouldComplete(id)
	require.NoError(t, err)
	require.True(t, should)

	q := "what service owns this queue?"
	require.NoError(t, m.UpdateProgress(id, ProgressUpdate{PendingQuestion: &q}))
	should, err = m.ShouldComplete(id)
	require.NoError(t, err)
	require.False(t, should)

	clear := ""
	require.NoError(t, m.UpdateProgress(id, ProgressUpdate{PendingQuestion: &clear}))
	should, err = m.ShouldComplete(id)
	require.NoError(t, err)
	require.True(t, should)
}

func TestIdleSessionIsSweptAndNotFound(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	require.Eventually(t, func() bool {
		_, err := m.Get(id)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExtractResultsCollectsRecommendationsAndFindings(t *testing.T) {
	m := newTestManager(t)
	id := m.Create(RequestContext{})

	_, err := m.AddTurn(id, RoleRemote, "The race is in the cache. Recommend: add a mutex around the map.", TurnMetadata{
		AnalysisKind: KindExecutionTrace,
		Findings: []Finding{{
			Kind:        FindingBug,
			Severity:    SeverityHigh,
			Location:    Location{File: "cache.go", Line: 42},
			Description: "unsynchronized map access",
		}},
	})
	require.NoError(t, err)

	results, err := m.ExtractResults(id)
	require.NoError(t, err)
	require.Equal(t, 1, results.TurnCount)
	require.Len(t, results.Findings, 1)
	require.Contains(t, results.Recommendations, "add a mutex around the map.")
	require.Len(t, results.Insights, 1)
}

func TestDestroyStopsSweeperAndDropsSessions(t *testing.T) {
	m := New(time.Hour, 10*time.Millisecond)
	id := m.Create(RequestContext{})
	m.Destroy()

	_, err := m.Get(id)
	require.Error(t, err)
}
