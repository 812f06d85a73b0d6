package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/deepreason/gateway/internal/orchestrator"
	"github.com/deepreason/gateway/internal/remote"
	"github.com/deepreason/gateway/internal/secureread"
	"github.com/deepreason/gateway/internal/session"
	"github.com/deepreason/gateway/internal/tournament"
)

type stubChat struct{ reply string }

func (s *stubChat) Send(_ context.Context, _ string) (string, error) { return s.reply, nil }

type stubClient struct{ chat *stubChat }

func (s *stubClient) NewChat(_ context.Context) (remote.Chat, error) { return s.chat, nil }

func newTestGateway(t *testing.T, reply string) *Gateway {
	t.Helper()
	reader, err := secureread.New(t.TempDir())
	require.NoError(t, err)

	mgr := session.New(time.Hour, time.Hour)
	t.Cleanup(mgr.Destroy)

	client := &stubClient{chat: &stubChat{reply: reply}}
	adapter := remote.New(client, reader)
	orch := orchestrator.New(mgr, adapter, reader)
	sched := tournament.New(mgr, client, adapter, reader)

	return New(orch, sched, tournament.DefaultConfig(), 30*time.Second, 2*time.Minute)
}

func callToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func validClaudeContext() map[string]any {
	return map[string]any{
		"attempted_approaches": []any{"read the logs"},
		"partial_findings":     []any{},
		"stuck_description":    "requests intermittently fail",
		"code_scope": map[string]any{
			"files": []any{"service.go"},
		},
	}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestHandleEscalateStartsASessionOnValidContext(t *testing.T) {
	gw := newTestGateway(t, "Could be a race condition. Have you checked the lock?")

	result, err := gw.handleEscalate(session.KindHypothesisTest)(context.Background(), callToolRequest("escalate_analysis", map[string]any{
		"claude_context":   validClaudeContext(),
		"initial_question": "why does this fail intermittently?",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	out := decodeResult(t, result)
	require.NotEmpty(t, out["session_id"])
	require.Contains(t, out["response"], "race condition")
}

func TestHandleEscalateRejectsMissingClaudeContext(t *testing.T) {
	gw := newTestGateway(t, "irrelevant")

	result, err := gw.handleEscalate(session.KindHypothesisTest)(context.Background(), callToolRequest("escalate_analysis", map[string]any{
		"initial_question": "why?",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleEscalateRejectsMissingInitialQuestion(t *testing.T) {
	gw := newTestGateway(t, "irrelevant")

	result, err := gw.handleEscalate(session.KindHypothesisTest)(context.Background(), callToolRequest("escalate_analysis", map[string]any{
		"claude_context": validClaudeContext(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestContinueThenFinalizeRoundTrip(t *testing.T) {
	gw := newTestGateway(t, `{"summary": "root cause found", "confidence": 0.9}`)

	started, err := gw.handleEscalate(session.KindHypothesisTest)(context.Background(), callToolRequest("escalate_analysis", map[string]any{
		"claude_context":   validClaudeContext(),
		"initial_question": "why?",
	}))
	require.NoError(t, err)
	sessionID := decodeResult(t, started)["session_id"].(string)

	continued, err := gw.handleContinue(context.Background(), callToolRequest("continue_conversation", map[string]any{
		"session_id": sessionID,
		"message":    "tell me more",
	}))
	require.NoError(t, err)
	require.False(t, continued.IsError)

	finalized, err := gw.handleFinalize(context.Background(), callToolRequest("finalize_conversation", map[string]any{
		"session_id": sessionID,
		"format":     "actionable",
	}))
	require.NoError(t, err)
	require.False(t, finalized.IsError)

	status, err := gw.handleStatus(context.Background(), callToolRequest("get_conversation_status", map[string]any{
		"session_id": sessionID,
	}))
	require.NoError(t, err)
	require.False(t, status.IsError)
	out := decodeResult(t, status)
	require.Equal(t, string(session.StatusCompleted), out["status"])
}

func TestHandleStatusOnUnknownSessionIsClassifiedError(t *testing.T) {
	gw := newTestGateway(t, "irrelevant")

	result, err := gw.handleStatus(context.Background(), callToolRequest("get_conversation_status", map[string]any{
		"session_id": "does-not-exist",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].(mcp.TextContent).Text, "SESSION_NOT_FOUND")
}

func TestNewServerRegistersAllTenTools(t *testing.T) {
	gw := newTestGateway(t, "irrelevant")
	srv := gw.NewServer()
	require.NotNil(t, srv)
	require.Len(t, srv.ListTools(), 10)
}
