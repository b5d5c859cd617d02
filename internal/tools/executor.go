package tools

import (
	"context"
	"sync"
	"time"

	"github.com/tauagent/tau/internal/models"
)

// ExecResult pairs one tool call with its execution result and timing, in
// the index of the assistant message's tool calls.
type ExecResult struct {
	Call     models.ToolCall
	Result   models.ToolExecutionResult
	Duration time.Duration
}

// EventFunc is invoked synchronously (on the executor's own goroutine, never
// concurrently with itself) before and after each call, so callers can emit
// ToolExecutionStart/End events in dispatch order regardless of join order.
type EventFunc func(phase string, call models.ToolCall, result *models.ToolExecutionResult)

// ExecutorConfig bounds a concurrent tool-execution batch.
type ExecutorConfig struct {
	// MaxConcurrency caps the number of tool calls running at once within
	// one turn. Zero means unbounded.
	MaxConcurrency int
	// PerCallTimeout bounds a single handler invocation; zero means no
	// per-call timeout.
	PerCallTimeout time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxConcurrency: 8, PerCallTimeout: 30 * time.Second}
}

// Executor runs the tool calls of one assistant turn concurrently while
// preserving dispatch-order event emission.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
}

func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	return &Executor{registry: registry, cfg: cfg}
}

// ExecuteConcurrently runs every call in calls on its own goroutine, bounded
// by MaxConcurrency, joins at the end, and returns results in the same order
// as calls. onEvent, if non-nil, is called for "start" before dispatch and
// "end" after each call completes; start events are emitted in call order
// before any goroutine is scheduled, so ordering holds even though execution
// itself may interleave.
func (e *Executor) ExecuteConcurrently(ctx context.Context, calls []models.ToolCall, onEvent EventFunc) []ExecResult {
	results := make([]ExecResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	if onEvent != nil {
		for _, call := range calls {
			onEvent("start", call, nil)
		}
	}

	maxConcurrency := e.cfg.MaxConcurrency
	if maxConcurrency <= 0 || maxConcurrency > len(calls) {
		maxConcurrency = len(calls)
	}
	sem := make(chan struct{}, maxConcurrency)

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			result := e.executeWithTimeout(ctx, call)
			results[i] = ExecResult{Call: call, Result: result, Duration: time.Since(start)}
		}(i, call)
	}
	wg.Wait()

	if onEvent != nil {
		for i, call := range calls {
			result := results[i].Result
			onEvent("end", call, &result)
		}
	}
	return results
}

// executeWithTimeout runs a single call, bounding it by PerCallTimeout when
// configured and distinguishing a timeout from caller cancellation.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall) models.ToolExecutionResult {
	if e.cfg.PerCallTimeout <= 0 {
		return e.registry.Execute(ctx, call)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.PerCallTimeout)
	defer cancel()

	done := make(chan models.ToolExecutionResult, 1)
	go func() {
		done <- e.registry.Execute(callCtx, call)
	}()

	select {
	case result := <-done:
		return result
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return models.ErrorResult(models.ReasonTimeout, "tool execution cancelled")
		}
		return models.ErrorResult(models.ReasonTimeout, "tool execution exceeded its timeout")
	}
}

// ExecuteSequentially runs calls one at a time in order, useful for tools
// with ordering dependencies a caller wants to force.
func (e *Executor) ExecuteSequentially(ctx context.Context, calls []models.ToolCall, onEvent EventFunc) []ExecResult {
	results := make([]ExecResult, 0, len(calls))
	for _, call := range calls {
		if onEvent != nil {
			onEvent("start", call, nil)
		}
		start := time.Now()
		result := e.executeWithTimeout(ctx, call)
		if onEvent != nil {
			onEvent("end", call, &result)
		}
		results = append(results, ExecResult{Call: call, Result: result, Duration: time.Since(start)})
	}
	return results
}
