package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepreason/gateway/internal/session"
)

type fakeChat struct {
	responses []string
	sent      []string
}

func (f *fakeChat) Send(_ context.Context, text string) (string, error) {
	f.sent = append(f.sent, text)
	if len(f.responses) == 0 {
		return "", nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type fakeClient struct{ chat *fakeChat }

func (f *fakeClient) NewChat(_ context.Context) (Chat, error) { return f.chat, nil }

func TestAdapterStartSendsPrimingThenRequest(t *testing.T) {
	chat := &fakeChat{responses: []string{"ack", "Looks like a race condition. Is there a lock guarding the map?"}}
	a := New(&fakeClient{chat: chat}, nil)

	_, result, err := a.Start(context.Background(), session.RequestContext{}, session.KindExecutionTrace, "what's failing?")
	require.NoError(t, err)
	require.Len(t, chat.sent, 2, "must send the stock acknowledgement before the real request")
	require.Contains(t, result.Response, "race condition")
	require.Contains(t, result.FollowUps, "Is there a lock guarding the map?")
}

func TestComputeProgressCapsAndBaseline(t *testing.T) {
	low := computeProgress(session.RequestContext{})
	require.InDelta(t, 0.3, low, 1e-9)

	high := computeProgress(session.RequestContext{
		PartialFindings: make([]session.Finding, 3),
		StuckPoints:     []string{"root cause unclear"},
		Focus:           session.CodeScope{Files: make([]string, 10)},
	})
	require.LessOrEqual(t, high, 0.95)
	require.InDelta(t, 0.9, high, 1e-9)
}

func TestExtractFollowUpsTruncatesToThree(t *testing.T) {
	response := "Is this async? What about the database query here? Could it be a cache miss? And one more question?"
	out := extractFollowUps(response)
	require.Len(t, out, 3)
}

func TestExtractFollowUpsTopicalFallback(t *testing.T) {
	response := "This code uses an async channel without any question marks at all."
	out := extractFollowUps(response)
	require.Contains(t, out, "Is there a synchronization mechanism guarding the shared state here?")
}

func TestExtractBalancedJSONIgnoresTrailingProseBraces(t *testing.T) {
	response := `Here is my analysis: {"summary": "ok", "confidence": 0.8} -- let me know if you have questions {not json}`
	candidate, ok := extractBalancedJSON(response)
	require.True(t, ok)
	require.Equal(t, `{"summary": "ok", "confidence": 0.8}`, candidate)
}

func TestExtractBalancedJSONHandlesBracesInStrings(t *testing.T) {
	response := `{"summary": "contains a { brace } inside a string", "confidence": 0.5}`
	candidate, ok := extractBalancedJSON(response)
	require.True(t, ok)
	require.Equal(t, response, candidate)
}

func TestFinalizeParsesExtractedJSON(t *testing.T) {
	chat := &fakeChat{responses: []string{
		`prose preamble {"summary": "found it", "root_cause": "nil deref", "confidence": 0.9, "recommendations": ["add a nil check"]} trailing prose`,
	}}
	a := New(&fakeClient{chat: chat}, nil)

	result, err := a.Finalize(context.Background(), chat, FormatActionable)
	require.NoError(t, err)
	require.Equal(t, "found it", result.Summary)
	require.Equal(t, 0.9, result.Confidence)
	require.Contains(t, result.Recommendations, "add a nil check")
}

func TestFinalizeRejectsResponseWithoutJSON(t *testing.T) {
	chat := &fakeChat{responses: []string{"no structured data here"}}
	a := New(&fakeClient{chat: chat}, nil)

	_, err := a.Finalize(context.Background(), chat, FormatConcise)
	require.Error(t, err)
}
