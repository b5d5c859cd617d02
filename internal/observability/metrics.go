package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is Tau's Prometheus instrumentation surface: provider call
// latency/cost, tool execution outcomes, run lifecycle counts, the event
// bus's per-handler queue depth, and the plan-first orchestrator's
// plan/review outcomes. Grounded on the teacher's own observability.Metrics
// shape (promauto-registered CounterVec/HistogramVec/GaugeVec fields plus
// small Record* helper methods), narrowed to this domain's surface.
type Metrics struct {
	// ProviderRequests counts provider calls by provider, model, and
	// outcome (success|retry|error).
	ProviderRequests *prometheus.CounterVec
	// ProviderRequestDuration measures one provider HTTP attempt's latency.
	ProviderRequestDuration *prometheus.HistogramVec
	// ProviderTokens tracks token consumption by provider, model, and kind
	// (input|output|cached_input).
	ProviderTokens *prometheus.CounterVec
	// ProviderCostUSD accumulates estimated spend by provider and model.
	ProviderCostUSD *prometheus.CounterVec

	// ToolExecutions counts tool calls by tool name and outcome
	// (success|error|timeout).
	ToolExecutions *prometheus.CounterVec
	// ToolExecutionDuration measures one tool call's wall time.
	ToolExecutionDuration *prometheus.HistogramVec

	// RunsActive gauges runs currently in the agent loop.
	RunsActive prometheus.Gauge
	// RunOutcomes counts completed runs by terminal status.
	RunOutcomes *prometheus.CounterVec
	// RunDuration measures a run's wall time from start to terminal state.
	RunDuration prometheus.Histogram
	// RunTurns measures how many assistant turns a run took.
	RunTurns prometheus.Histogram

	// EventBusQueueDepth gauges a named async handler's current queue
	// occupancy.
	EventBusQueueDepth *prometheus.GaugeVec
	// EventBusDropped counts events dropped by a non-blocking async
	// handler whose queue was full.
	EventBusDropped *prometheus.CounterVec

	// OrchestratorPlanSteps measures how many steps a plan-first planner
	// produced.
	OrchestratorPlanSteps prometheus.Histogram
	// OrchestratorReviewOutcomes counts plan-first runs by review outcome
	// (accepted|budget_exceeded|no_plan_steps|empty_response).
	OrchestratorReviewOutcomes *prometheus.CounterVec

	// SessionLockWaits measures time spent waiting for the advisory
	// session file lock.
	SessionLockWaits prometheus.Histogram
	// SessionLockStolen counts advisory locks reclaimed from a stale
	// holder.
	SessionLockStolen prometheus.Counter
}

// NewMetrics registers every metric against Prometheus's default registry
// via promauto, mirroring the teacher's own NewMetrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_provider_requests_total", Help: "Total provider calls by provider, model, and outcome."},
			[]string{"provider", "model", "outcome"},
		),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tau_provider_request_duration_seconds",
				Help:    "Duration of one provider HTTP attempt.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_provider_tokens_total", Help: "Tokens consumed by provider, model, and kind."},
			[]string{"provider", "model", "kind"},
		),
		ProviderCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_provider_cost_usd_total", Help: "Estimated provider spend in USD."},
			[]string{"provider", "model"},
		),

		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_tool_executions_total", Help: "Tool calls by tool name and outcome."},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tau_tool_execution_duration_seconds",
				Help:    "Duration of one tool call.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		RunsActive: promauto.NewGauge(
			prometheus.GaugeOpts{Name: "tau_runs_active", Help: "Runs currently executing in the agent loop."},
		),
		RunOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_run_outcomes_total", Help: "Completed runs by terminal status."},
			[]string{"status"},
		),
		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tau_run_duration_seconds",
				Help:    "Run wall time from start to terminal state.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		RunTurns: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tau_run_turns",
				Help:    "Assistant turns taken by a run.",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),

		EventBusQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "tau_eventbus_queue_depth", Help: "Current occupancy of a named async handler's queue."},
			[]string{"handler"},
		),
		EventBusDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_eventbus_dropped_total", Help: "Events dropped by a full non-blocking async handler."},
			[]string{"handler"},
		),

		OrchestratorPlanSteps: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tau_orchestrator_plan_steps",
				Help:    "Steps produced by the plan-first planner phase.",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),
		OrchestratorReviewOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "tau_orchestrator_review_outcomes_total", Help: "Plan-first runs by review outcome."},
			[]string{"outcome"},
		),

		SessionLockWaits: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tau_session_lock_wait_seconds",
				Help:    "Time spent waiting for the advisory session file lock.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		),
		SessionLockStolen: promauto.NewCounter(
			prometheus.CounterOpts{Name: "tau_session_lock_stolen_total", Help: "Advisory locks reclaimed from a stale holder."},
		),
	}
}

// RecordProviderRequest records one provider call's outcome, latency, and
// token usage.
func (m *Metrics) RecordProviderRequest(provider, model, outcome string, durationSeconds float64, inputTokens, outputTokens, cachedInputTokens int) {
	m.ProviderRequests.WithLabelValues(provider, model, outcome).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if cachedInputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "cached_input").Add(float64(cachedInputTokens))
	}
}

// RecordProviderCost accumulates estimated spend for one provider call.
func (m *Metrics) RecordProviderCost(provider, model string, costUSD float64) {
	m.ProviderCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records one tool call's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName, outcome string, durationSeconds float64) {
	m.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() { m.RunsActive.Inc() }

// RunFinished decrements the active-runs gauge and records the run's
// terminal status, duration, and turn count.
func (m *Metrics) RunFinished(status string, durationSeconds float64, turns int) {
	m.RunsActive.Dec()
	m.RunOutcomes.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
	if turns > 0 {
		m.RunTurns.Observe(float64(turns))
	}
}

// SetEventBusQueueDepth sets a named async handler's current queue depth.
func (m *Metrics) SetEventBusQueueDepth(handler string, depth int) {
	m.EventBusQueueDepth.WithLabelValues(handler).Set(float64(depth))
}

// RecordEventBusDropped records an event dropped by a full async handler
// queue.
func (m *Metrics) RecordEventBusDropped(handler string) {
	m.EventBusDropped.WithLabelValues(handler).Inc()
}

// RecordOrchestratorRun records a plan-first run's plan size and review
// outcome.
func (m *Metrics) RecordOrchestratorRun(planSteps int, outcome string) {
	m.OrchestratorPlanSteps.Observe(float64(planSteps))
	m.OrchestratorReviewOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSessionLockWait records time spent acquiring the advisory session
// lock, and whether it was stolen from a stale holder.
func (m *Metrics) RecordSessionLockWait(waitSeconds float64, stolen bool) {
	m.SessionLockWaits.Observe(waitSeconds)
	if stolen {
		m.SessionLockStolen.Inc()
	}
}
