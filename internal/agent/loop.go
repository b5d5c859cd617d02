// Package agent implements the agent loop state machine from spec.md §4.5:
//
//	Idle ──prompt()──▶ Turn(0) ──tool calls, n+1<max_turns──▶ Turn(n+1)
//	                      │
//	                      └──no tool calls / max_turns / finish_reason=stop──▶ Finalize
//
// Each turn builds a ChatRequest from the session's lineage, calls the
// provider, persists the assistant message, executes any tool calls
// concurrently with dispatch-ordered events, appends tool-result messages,
// and emits a TurnEnd before deciding whether to continue.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/models"
	"github.com/tauagent/tau/internal/providers"
	"github.com/tauagent/tau/internal/sessions"
	"github.com/tauagent/tau/internal/tools"
)

var (
	ErrNoProvider = errors.New("agent: no provider configured")
	ErrNoSession  = errors.New("agent: no session configured")
)

// Config bounds one loop's turn budget and concurrency.
type Config struct {
	// MaxTurns bounds how many assistant turns a single prompt() may take.
	MaxTurns int
	// RequestTimeout holds the configured per-attempt provider timeout. The
	// Loop does not apply it: a provider call is bounded only by the
	// caller's ctx, TurnTimeout, and the provider client's own retry
	// settings (MaxRetries, RetryBudgetMs).
	RequestTimeout time.Duration
	// TurnTimeout bounds a full turn, including tool execution.
	TurnTimeout time.Duration
	// CostBudgetUSD, if > 0, triggers a CostBudgetAlert event once total
	// run cost crosses it. Zero disables the alert.
	CostBudgetUSD float64
	// CostPerInputToken / CostPerOutputToken price a run's Usage into an
	// approximate USD cost for CostUpdated/CostBudgetAlert events.
	CostPerInputToken  float64
	CostPerOutputToken float64
	// SystemPreamble, if set, is prepended to every ChatRequest as a
	// synthetic system message — not persisted to the session — ahead of
	// the session's own lineage. Set via a RoleProfile for a role-scoped
	// Loop (spec.md's supplemented staged process roles).
	SystemPreamble string
	// ToolAllowlist, if non-empty, restricts a turn's ChatRequest.Tools (and
	// therefore what the executor will dispatch) to tools named here. Empty
	// means every registered tool is offered, matching prior behavior.
	ToolAllowlist []string
}

func DefaultConfig() Config {
	return Config{MaxTurns: 10, RequestTimeout: 60 * time.Second, TurnTimeout: 120 * time.Second}
}

// SafetyPolicy is the optional hook from spec.md §6: called between a
// provider's assistant response being produced and persisted, so a caller
// can allow/redact/block that content before it becomes part of the
// session's lineage. The loop does not call it for user or tool-result
// messages.
type SafetyPolicy interface {
	Check(ctx context.Context, stage models.SafetyStage, text string) models.SafetyVerdict
}

// Loop runs the Idle->Turn(n)->Finalize state machine for one session.
type Loop struct {
	provider providers.Client
	registry *tools.Registry
	executor *tools.Executor
	store    sessions.Store
	bus      *eventbus.Bus
	cfg      Config
	safety   SafetyPolicy

	cancelled atomic.Bool
	totalCost float64
	alerted   bool
}

func NewLoop(provider providers.Client, registry *tools.Registry, store sessions.Store, bus *eventbus.Bus, cfg Config) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg = DefaultConfig()
	}
	return &Loop{
		provider: provider,
		registry: registry,
		executor: tools.NewExecutor(registry, tools.DefaultExecutorConfig()),
		store:    store,
		bus:      bus,
		cfg:      cfg,
	}
}

// SetSafetyPolicy installs the optional safety hook.
func (l *Loop) SetSafetyPolicy(p SafetyPolicy) { l.safety = p }

// Cancel requests cooperative cancellation: checked between turns and
// after a turn's tool-execution join, never forcibly aborting an in-flight
// provider call (spec.md §5). Safe to call from any goroutine while Prompt
// runs on another (e.g. an RPC handler cancelling a running loop).
func (l *Loop) Cancel() { l.cancelled.Store(true) }

// Prompt runs Idle->Turn(0) for userText and then continues turns until the
// loop reaches Finalize, emitting AgentEvents to bus along the way. It
// returns the final session head id. The closing AgentEnd event carries
// every message appended to the session during this call (the user prompt,
// each assistant turn, and any tool-result messages), per spec.md §2/§3.
func (l *Loop) Prompt(ctx context.Context, model string, userText string) (headID uint64, err error) {
	if l.provider == nil {
		return 0, ErrNoProvider
	}
	if l.store == nil {
		return 0, ErrNoSession
	}

	head, ok := l.store.HeadID(ctx)
	if !ok {
		return 0, errors.New("agent: session store has no entries; call EnsureInitialized first")
	}
	userMsg := models.NewTextMessage(models.RoleUser, userText)
	newHead, err := l.store.AppendMessages(ctx, &head, []models.Message{userMsg})
	if err != nil {
		return 0, err
	}
	head = newHead
	newMessages := []models.Message{userMsg}

	l.emit(models.AgentEvent{Type: models.EventAgentStart})

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		if l.cancelled.Load() {
			l.emit(models.AgentEvent{Type: models.EventAgentEnd, NewMessages: newMessages})
			return head, nil
		}

		l.emit(models.AgentEvent{Type: models.EventTurnStart, Turn: turn})

		turnCtx := ctx
		var cancel context.CancelFunc
		if l.cfg.TurnTimeout > 0 {
			turnCtx, cancel = context.WithTimeout(ctx, l.cfg.TurnTimeout)
		}
		newHead, turnMessages, continueLoop, turnErr := l.runTurn(turnCtx, model, head, turn)
		if cancel != nil {
			cancel()
		}
		head = newHead
		newMessages = append(newMessages, turnMessages...)
		if turnErr != nil {
			l.emit(models.AgentEvent{Type: models.EventAgentEnd, NewMessages: newMessages})
			return head, turnErr
		}

		if l.cancelled.Load() {
			l.emit(models.AgentEvent{Type: models.EventAgentEnd, NewMessages: newMessages})
			return head, nil
		}
		if !continueLoop || turn+1 >= l.cfg.MaxTurns {
			l.emit(models.AgentEvent{Type: models.EventAgentEnd, NewMessages: newMessages})
			return head, nil
		}
	}

	return head, nil
}

// runTurn executes one full turn body (spec.md §4.5 steps 1-8) and reports
// whether the loop should continue to a next turn. newMessages holds every
// message this turn appended to the session (the assistant turn and any
// tool-result messages), for the caller to fold into AgentEnd.NewMessages.
func (l *Loop) runTurn(ctx context.Context, model string, parentID uint64, turn int) (newHead uint64, newMessages []models.Message, shouldContinue bool, err error) {
	lineage, err := l.store.LineageMessages(ctx, parentID)
	if err != nil {
		return parentID, nil, false, err
	}
	if l.cfg.SystemPreamble != "" {
		lineage = append([]models.Message{models.NewTextMessage(models.RoleSystem, l.cfg.SystemPreamble)}, lineage...)
	}

	req := models.ChatRequest{
		Model:    model,
		Messages: lineage,
		Tools:    allowedTools(l.registry.Definitions(), l.cfg.ToolAllowlist),
	}

	start := time.Now()
	resp, err := l.provider.Complete(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return parentID, nil, false, err
	}

	assistantMsg := resp.Message
	if l.safety != nil {
		verdict := l.safety.Check(ctx, models.StageAssistant, assistantMsg.Text())
		assistantMsg = l.applySafety(ctx, verdict, assistantMsg, turn)
	}
	assistantMsg = assistantMsg.Normalize()

	head, err := l.store.AppendMessages(ctx, &parentID, []models.Message{assistantMsg})
	if err != nil {
		return parentID, nil, false, err
	}
	l.emit(models.AgentEvent{Type: models.EventMessageAdded, Turn: turn, Message: &assistantMsg})
	turnMessages := []models.Message{assistantMsg}

	calls := assistantMsg.ToolCalls()
	var turnResults []models.TurnResult
	if len(calls) > 0 {
		results := l.executor.ExecuteConcurrently(ctx, calls, func(phase string, call models.ToolCall, result *models.ToolExecutionResult) {
			switch phase {
			case "start":
				l.emit(models.AgentEvent{Type: models.EventToolExecStart, Turn: turn, ToolCallID: call.ID, ToolName: call.Name, Arguments: call.Arguments})
			case "end":
				l.emit(models.AgentEvent{Type: models.EventToolExecEnd, Turn: turn, ToolCallID: call.ID, ToolName: call.Name, Result: result})
			}
		})

		toolMessages := make([]models.Message, 0, len(results))
		for _, r := range results {
			if reasonReplan(r.Result) {
				l.emit(models.AgentEvent{Type: models.EventReplanTriggered, Turn: turn, Reason: models.ReasonReplanRequired})
			}
			toolMessages = append(toolMessages, models.NewToolResultMessage(r.Call.ID, r.Call.Name, r.Result).Normalize())
			turnResults = append(turnResults, models.TurnResult{ToolCallID: r.Call.ID, ToolName: r.Call.Name, Result: r.Result})
		}

		head, err = l.store.AppendMessages(ctx, &head, toolMessages)
		if err != nil {
			return head, turnMessages, false, err
		}
		turnMessages = append(turnMessages, toolMessages...)
	}

	l.emit(models.AgentEvent{
		Type:              models.EventTurnEnd,
		Turn:              turn,
		ToolResults:       turnResults,
		RequestDurationMs: duration.Milliseconds(),
		Usage:             &resp.Usage,
		FinishReason:      resp.FinishReason,
	})

	l.updateCost(turn, resp.Usage)

	terminal := len(calls) == 0
	return head, turnMessages, !terminal, nil
}

// allowedTools filters defs down to the names in allowlist, preserving
// defs' order. An empty allowlist means no restriction.
func allowedTools(defs []models.ToolDefinition, allowlist []string) []models.ToolDefinition {
	if len(allowlist) == 0 {
		return defs
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}
	out := make([]models.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if allowed[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func reasonReplan(result models.ToolExecutionResult) bool {
	if !result.IsError {
		return false
	}
	var body struct {
		ReasonCode string `json:"reason_code"`
	}
	_ = json.Unmarshal(result.Content, &body)
	return body.ReasonCode == models.ReasonReplanRequired
}

func (l *Loop) applySafety(ctx context.Context, verdict models.SafetyVerdict, msg models.Message, turn int) models.Message {
	if verdict.Mode == models.SafetyAllow {
		return msg
	}
	l.emit(models.AgentEvent{Type: models.EventSafetyPolicy, Turn: turn, Stage: string(models.StageAssistant), Verdict: &verdict})
	switch verdict.Mode {
	case models.SafetyBlock:
		return models.NewTextMessage(models.RoleAssistant, "This response was withheld by policy.")
	case models.SafetyRedact:
		return models.NewTextMessage(models.RoleAssistant, "[redacted]")
	default:
		return msg
	}
}

func (l *Loop) updateCost(turn int, usage models.Usage) {
	cost := float64(usage.Input)*l.cfg.CostPerInputToken + float64(usage.Output)*l.cfg.CostPerOutputToken
	l.totalCost += cost
	l.emit(models.AgentEvent{Type: models.EventCostUpdated, Turn: turn, CostUSD: l.totalCost})
	if l.cfg.CostBudgetUSD > 0 && !l.alerted && l.totalCost >= l.cfg.CostBudgetUSD {
		l.alerted = true
		l.emit(models.AgentEvent{Type: models.EventCostBudgetAlert, Turn: turn, CostUSD: l.totalCost, BudgetUSD: l.cfg.CostBudgetUSD})
	}
}

func (l *Loop) emit(event models.AgentEvent) {
	if l.bus != nil {
		l.bus.Emit(event)
	}
}
