// Package orchestrator implements the plan-first prompt orchestration mode
// from spec.md §4.7: a planner phase produces a numbered plan, an executor
// phase carries it out, and a review phase checks plan-step coverage and a
// response-length budget before accepting the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tauagent/tau/internal/agent"
	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/models"
	"github.com/tauagent/tau/internal/providers"
	"github.com/tauagent/tau/internal/sessions"
	"github.com/tauagent/tau/internal/tools"
)

// Config bounds a plan-first run's plan size and response budget. spec.md
// leaves both numeric limits to the implementation; these defaults are a
// deliberate choice, not a spec-fixed value (see DESIGN.md).
type Config struct {
	MaxPlanSteps             int
	MaxExecutorResponseChars int
	LoopConfig               agent.Config
}

func DefaultConfig() Config {
	return Config{MaxPlanSteps: 12, MaxExecutorResponseChars: 8000, LoopConfig: agent.DefaultConfig()}
}

// ErrNoPlanSteps is returned when the planner phase produced no
// numbered-list lines at all.
var ErrNoPlanSteps = errors.New("orchestrator: planner response did not include numbered steps")

// ErrEmptyExecutorResponse is returned when the executor phase produced no
// text output.
var ErrEmptyExecutorResponse = errors.New("orchestrator: executor produced no text output")

// PlanStepLimitExceeded is returned when the planner produces more steps
// than Config.MaxPlanSteps allows.
type PlanStepLimitExceeded struct {
	Steps, Max int
}

func (e *PlanStepLimitExceeded) Error() string {
	return fmt.Sprintf("orchestrator: planner produced %d steps (max allowed %d)", e.Steps, e.Max)
}

// ResponseBudgetExceeded is returned when the executor's final response
// exceeds Config.MaxExecutorResponseChars; the consolidation phase rejects
// the run rather than truncating it silently.
type ResponseBudgetExceeded struct {
	ResponseChars, MaxChars int
}

func (e *ResponseBudgetExceeded) Error() string {
	return fmt.Sprintf("orchestrator: executor response exceeded budget (chars %d > max %d)", e.ResponseChars, e.MaxChars)
}

// Result is a completed plan-first run's outcome.
type Result struct {
	PlanSteps     []string
	CoveredSteps  int
	ResponseChars int
	WithinBudget  bool
	ExecutionText string
	HeadID        uint64
}

// Orchestrator runs the two-phase plan-first flow on top of §4.5's agent
// loop. It builds its own planner/executor Loop instances per Run so the
// planner phase can run without wiring a bus (no stream frames for an
// internal planning call) while the executor phase streams normally.
type Orchestrator struct {
	provider providers.Client
	registry *tools.Registry
	store    sessions.Store
	bus      *eventbus.Bus
	model    string
	cfg      Config
	logger   *slog.Logger
}

func New(provider providers.Client, registry *tools.Registry, store sessions.Store, bus *eventbus.Bus, model string, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPlanSteps <= 0 || cfg.MaxExecutorResponseChars <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{provider: provider, registry: registry, store: store, bus: bus, model: model, cfg: cfg, logger: logger}
}

// Run drives the planner, executor, and review phases for userPrompt. The
// planner phase runs with RoleBranch's runtime profile (no streaming, its
// own max_turns); the executor phase runs with RoleWorker's (streams to
// o.bus, a wider turn budget), per spec.md's supplemented staged process
// roles. Both profiles carry the same tool allowlist.
func (o *Orchestrator) Run(ctx context.Context, userPrompt string) (*Result, error) {
	plannerCfg := agent.DefaultRoleProfile(agent.RoleBranch).ApplyToConfig(o.cfg.LoopConfig)
	plannerLoop := agent.NewLoop(o.provider, o.registry, o.store, nil, plannerCfg)
	plannerHead, err := plannerLoop.Prompt(ctx, o.model, BuildPlannerPrompt(userPrompt, o.cfg.MaxPlanSteps))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: planner phase: %w", err)
	}

	planText, err := o.latestAssistantText(ctx, plannerHead)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: planner phase: %w", err)
	}
	steps := ParsePlanSteps(planText)
	if len(steps) == 0 {
		return nil, ErrNoPlanSteps
	}
	if len(steps) > o.cfg.MaxPlanSteps {
		return nil, &PlanStepLimitExceeded{Steps: len(steps), Max: o.cfg.MaxPlanSteps}
	}

	o.logger.Info("orchestrator trace", "mode", "plan-first", "phase", "planner",
		"approved_steps", len(steps), "max_steps", o.cfg.MaxPlanSteps)
	for i, step := range steps {
		o.logger.Info("orchestrator trace", "phase", "planner", "step", i+1, "text", flattenWhitespace(step))
	}
	o.logger.Info("orchestrator trace", "mode", "plan-first", "phase", "executor")

	executorCfg := agent.DefaultRoleProfile(agent.RoleWorker).ApplyToConfig(o.cfg.LoopConfig)
	executorLoop := agent.NewLoop(o.provider, o.registry, o.store, o.bus, executorCfg)
	executorHead, err := executorLoop.Prompt(ctx, o.model, BuildExecutionPrompt(userPrompt, steps))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: executor phase: %w", err)
	}

	executionText, err := o.latestAssistantText(ctx, executorHead)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: executor phase: %w", err)
	}
	if strings.TrimSpace(executionText) == "" {
		return nil, ErrEmptyExecutorResponse
	}

	responseChars := len([]rune(executionText))
	coveredSteps := CountReviewedSteps(steps, executionText)
	withinBudget := ResponseWithinBudget(responseChars, o.cfg.MaxExecutorResponseChars)

	o.logger.Info("orchestrator trace", "mode", "plan-first", "phase", "review",
		"covered_steps", coveredSteps, "total_steps", len(steps),
		"response_chars", responseChars, "max_response_chars", o.cfg.MaxExecutorResponseChars,
		"within_budget", withinBudget)

	if !withinBudget {
		o.logger.Info("orchestrator trace", "mode", "plan-first", "phase", "consolidation",
			"decision", "reject", "reason", "executor_response_budget_exceeded")
		return nil, &ResponseBudgetExceeded{ResponseChars: responseChars, MaxChars: o.cfg.MaxExecutorResponseChars}
	}
	o.logger.Info("orchestrator trace", "mode", "plan-first", "phase", "consolidation", "decision", "accept")

	return &Result{
		PlanSteps:     steps,
		CoveredSteps:  coveredSteps,
		ResponseChars: responseChars,
		WithinBudget:  withinBudget,
		ExecutionText: executionText,
		HeadID:        executorHead,
	}, nil
}

// latestAssistantText returns the text of the most recent assistant-role
// message in the lineage ending at head.
func (o *Orchestrator) latestAssistantText(ctx context.Context, head uint64) (string, error) {
	msgs, err := o.store.LineageMessages(ctx, head)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			return msgs[i].Text(), nil
		}
	}
	return "", errors.New("orchestrator: no assistant message found in lineage")
}

func flattenWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
