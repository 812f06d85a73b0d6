// Package gateway wires the Session Manager, Remote Dialogue Adapter,
// Orchestrator, and Tournament Scheduler to an MCP stdio server: it is the
// request boundary (spec.md §6/§7) where tool arguments are validated and
// internal errors become transport-visible results.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/deepreason/gateway/internal/logging"
	"github.com/deepreason/gateway/internal/orchestrator"
	"github.com/deepreason/gateway/internal/reasonerr"
	"github.com/deepreason/gateway/internal/remote"
	"github.com/deepreason/gateway/internal/session"
	"github.com/deepreason/gateway/internal/tournament"
)

// Gateway owns the MCP server and the components every tool handler
// dispatches into.
type Gateway struct {
	orch             *orchestrator.Orchestrator
	sched            *tournament.Scheduler
	tdef             tournament.Config
	requestBudget    time.Duration
	tournamentBudget time.Duration
}

// New constructs a Gateway over an already-wired Orchestrator and
// Scheduler. tournamentDefault is used whenever a caller omits
// tournament_config fields; requestBudget/tournamentBudget bound every
// call's context (spec.md §5) so a wedged remote call ends in a partial
// result instead of hanging the server.
func New(orch *orchestrator.Orchestrator, sched *tournament.Scheduler, tournamentDefault tournament.Config, requestBudget, tournamentBudget time.Duration) *Gateway {
	return &Gateway{
		orch:             orch,
		sched:            sched,
		tdef:             tournamentDefault,
		requestBudget:    requestBudget,
		tournamentBudget: tournamentBudget,
	}
}

// NewServer builds the MCP server and registers all ten tools from
// spec.md §6's tool table.
func (g *Gateway) NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"reasoning-gateway",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	claudeContextProp := mcp.WithObject("claude_context",
		mcp.Required(),
		mcp.Description("attempted approaches, partial findings, stuck description, and code scope gathered so far"),
	)
	timeBudgetProp := mcp.WithNumber("time_budget_seconds",
		mcp.Description("overrides the server's default per-request time budget for this call"),
	)

	s.AddTool(mcp.NewTool("escalate_analysis",
		mcp.WithDescription("Starts a fresh multi-turn reasoning dialogue for a stuck analysis as a hypothesis_test session"),
		claudeContextProp,
		mcp.WithString("initial_question", mcp.Required(), mcp.Description("the question to open the dialogue with")),
		timeBudgetProp,
	), g.handleEscalate(session.KindHypothesisTest))

	s.AddTool(mcp.NewTool("trace_execution_path",
		mcp.WithDescription("Starts a dialogue focused on tracing a call path across the system"),
		claudeContextProp,
		mcp.WithString("initial_question", mcp.Required()),
		timeBudgetProp,
	), g.handleEscalate(session.KindExecutionTrace))

	s.AddTool(mcp.NewTool("cross_system_impact",
		mcp.WithDescription("Starts a dialogue focused on cross-service or cross-system impact"),
		claudeContextProp,
		mcp.WithString("initial_question", mcp.Required()),
		timeBudgetProp,
	), g.handleEscalate(session.KindCrossSystem))

	s.AddTool(mcp.NewTool("performance_bottleneck",
		mcp.WithDescription("Starts a dialogue focused on locating a performance bottleneck"),
		claudeContextProp,
		mcp.WithString("initial_question", mcp.Required()),
		timeBudgetProp,
	), g.handleEscalate(session.KindPerformance))

	s.AddTool(mcp.NewTool("hypothesis_test",
		mcp.WithDescription("Starts a dialogue to test a single named hypothesis"),
		claudeContextProp,
		mcp.WithString("initial_question", mcp.Required()),
		timeBudgetProp,
	), g.handleEscalate(session.KindHypothesisTest))

	s.AddTool(mcp.NewTool("start_conversation",
		mcp.WithDescription("Low-level equivalent of the escalation tools: opens a session of the given kind"),
		claudeContextProp,
		mcp.WithString("kind", mcp.Description("execution_trace | cross_system | performance | hypothesis_test")),
		mcp.WithString("initial_question", mcp.Required()),
		timeBudgetProp,
	), g.handleStartConversation)

	s.AddTool(mcp.NewTool("continue_conversation",
		mcp.WithDescription("Continues an open session with the caller's next message"),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("message", mcp.Required()),
		mcp.WithBoolean("include_snippets", mcp.Description("attach a sanitized code excerpt when the message references a file:line")),
	), g.handleContinue)

	s.AddTool(mcp.NewTool("finalize_conversation",
		mcp.WithDescription("Closes a session and returns its structured analysis"),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("format", mcp.Description("detailed | concise | actionable (default detailed)")),
	), g.handleFinalize)

	s.AddTool(mcp.NewTool("get_conversation_status",
		mcp.WithDescription("Reports a session's status and progress without mutating it"),
		mcp.WithString("session_id", mcp.Required()),
	), g.handleStatus)

	s.AddTool(mcp.NewTool("run_hypothesis_tournament",
		mcp.WithDescription("Runs a parallel hypothesis tournament over an unresolved issue"),
		claudeContextProp,
		mcp.WithString("issue", mcp.Required(), mcp.Description("a description of the unresolved issue")),
		mcp.WithObject("tournament_config", mcp.Description("max_hypotheses, max_rounds, parallel_sessions overrides")),
		timeBudgetProp,
	), g.handleTournament)

	return s
}

// withBudget bounds ctx by budget (spec.md §5). A zero budget leaves ctx
// unbounded.
func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}

func (g *Gateway) handleEscalate(kind session.Kind) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		question, err := requireString(args, "initial_question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		claudeCtx := asMap(args, "claude_context")
		if fieldErrs := validateAgainst(claudeContextSchema, "claude_context", claudeCtx); fieldErrs != nil {
			return fieldErrorResult(fieldErrs), nil
		}

		budget := budgetOverride(args, g.requestBudget)
		ctx, cancel := withBudget(ctx, budget)
		defer cancel()

		reqCtx := parseClaudeContext(claudeCtx)
		reqCtx.RemainingBudget = budget
		result, err := g.orch.StartConversation(ctx, reqCtx, kind, question)
		if err != nil {
			return classifiedErrorResult(err), nil
		}

		return jsonResult(startResultJSON(result))
	}
}

func (g *Gateway) handleStartConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	question, err := requireString(args, "initial_question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	claudeCtx := asMap(args, "claude_context")
	if fieldErrs := validateAgainst(claudeContextSchema, "claude_context", claudeCtx); fieldErrs != nil {
		return fieldErrorResult(fieldErrs), nil
	}

	budget := budgetOverride(args, g.requestBudget)
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()

	kind := session.Kind(asString(args, "kind", string(session.KindHypothesisTest)))
	reqCtx := parseClaudeContext(claudeCtx)
	reqCtx.RemainingBudget = budget

	result, err := g.orch.StartConversation(ctx, reqCtx, kind, question)
	if err != nil {
		return classifiedErrorResult(err), nil
	}

	return jsonResult(startResultJSON(result))
}

// startResultJSON renders a StartResult, overriding status to "partial" and
// including the degraded-result fields when the request budget expired
// before the remote model replied (spec.md §5/§7/§8).
func startResultJSON(result orchestrator.StartResult) map[string]any {
	out := map[string]any{
		"session_id": result.SessionID,
		"response":   result.Response,
		"follow_ups": result.FollowUps,
		"status":     any(result.Status),
	}
	if result.Partial {
		out["status"] = "partial"
		out["ruled_out_approaches"] = result.RuledOutApproaches
		out["investigation_next_steps"] = result.InvestigationNextSteps
	}
	return out
}

func (g *Gateway) handleContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	id, err := requireString(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := requireString(args, "message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	includeSnippets := asBool(args, "include_snippets", false)

	ctx, cancel := withBudget(ctx, g.requestBudget)
	defer cancel()

	result, err := g.orch.ContinueConversation(ctx, id, msg, includeSnippets)
	if err != nil {
		return classifiedErrorResult(err), nil
	}

	out := map[string]any{
		"response":    result.Response,
		"progress":    result.Progress,
		"finalizable": result.Finalizable,
		"status":      any(result.Status),
	}
	if result.Partial {
		out["status"] = "partial"
		out["ruled_out_approaches"] = result.RuledOutApproaches
		out["investigation_next_steps"] = result.InvestigationNextSteps
	}
	return jsonResult(out)
}

func (g *Gateway) handleFinalize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	id, err := requireString(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format := remote.Format(asString(args, "format", string(remote.FormatDetailed)))

	ctx, cancel := withBudget(ctx, g.requestBudget)
	defer cancel()

	result, err := g.orch.FinalizeConversation(ctx, id, format)
	if err != nil {
		return classifiedErrorResult(err), nil
	}

	out := map[string]any{
		"analysis":        result.Analysis,
		"turn_count":      result.TurnCount,
		"wall_duration":   result.WallDuration,
		"completed_steps": result.CompletedSteps,
		"insights":        result.Insights,
		"recommendations": result.Recommendations,
		"status":          "complete",
	}
	if result.Partial {
		out["status"] = "partial"
		out["ruled_out_approaches"] = result.RuledOutApproaches
		out["investigation_next_steps"] = result.InvestigationNextSteps
	}
	return jsonResult(out)
}

func (g *Gateway) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	id, err := requireString(args, "session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := g.orch.Status(id)
	if err != nil {
		return classifiedErrorResult(err), nil
	}

	return jsonResult(map[string]any{
		"session_id":              snap.ID,
		"status":                  snap.Status,
		"turn_count":              len(snap.Turns),
		"completed_steps":         snap.Progress.CompletedSteps,
		"confidence":              snap.Progress.Confidence,
		"pending_question_count": len(snap.Progress.PendingQuestions),
	})
}

func (g *Gateway) handleTournament(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	issue, err := requireString(args, "issue")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	claudeCtx := asMap(args, "claude_context")
	if fieldErrs := validateAgainst(claudeContextSchema, "claude_context", claudeCtx); fieldErrs != nil {
		return fieldErrorResult(fieldErrs), nil
	}

	budget := budgetOverride(args, g.tournamentBudget)
	reqCtx := parseClaudeContext(claudeCtx)
	reqCtx.RemainingBudget = budget

	ctx, cancel := withBudget(ctx, budget)
	defer cancel()

	tcfg := asMap(args, "tournament_config")
	if tcfg != nil {
		if fieldErrs := validateAgainst(tournamentConfigSchema, "tournament_config", tcfg); fieldErrs != nil {
			return fieldErrorResult(fieldErrs), nil
		}
	}

	cfg := g.tdef
	cfg.MaxHypotheses = asInt(tcfg, "max_hypotheses", cfg.MaxHypotheses)
	cfg.MaxRounds = asInt(tcfg, "max_rounds", cfg.MaxRounds)
	cfg.Parallelism = asInt(tcfg, "parallel_sessions", cfg.Parallelism)

	logging.Info().Str("issue", issue).Int("max_hypotheses", cfg.MaxHypotheses).Msg("starting hypothesis tournament")

	result, err := g.sched.Run(ctx, reqCtx, issue, cfg)
	if err != nil {
		return classifiedErrorResult(err), nil
	}

	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// fieldErrorResult renders field errors as the MCP error text: one JSON
// object whose validation_errors array holds a {field_path, message} pair
// per error.
func fieldErrorResult(errs []FieldError) *mcp.CallToolResult {
	data, err := json.Marshal(map[string]any{"validation_errors": errs})
	if err != nil {
		return mcp.NewToolResultError("request validation failed")
	}
	return mcp.NewToolResultError(string(data))
}

// classifiedErrorResult renders a reasonerr.Error (or any wrapped error) as
// its classification: category, code, description, retryable, next steps
// (spec.md §7). The orchestrator and scheduler never swallow errors; this
// is the sole place they become transport-visible.
func classifiedErrorResult(err error) *mcp.CallToolResult {
	classified := reasonerr.Wrap(err)
	c := classified.Classification()
	data, marshalErr := json.Marshal(map[string]any{
		"category":    c.Category,
		"code":        c.Code,
		"description": c.Description,
		"retryable":   c.Retryable,
		"next_steps":  c.NextSteps,
		"detail":      err.Error(),
	})
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}
