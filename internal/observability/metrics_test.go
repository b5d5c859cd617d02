package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// NewMetrics registers on Prometheus's default registry, which rejects a
// second registration of the same metric names, so the tests share one
// instance; no two tests touch the same metric and label values.
var testMetrics = NewMetrics()

func TestRecordProviderRequestUpdatesCountersAndTokens(t *testing.T) {
	m := testMetrics
	m.RecordProviderRequest("anthropic", "claude-sonnet", "success", 0.42, 100, 50, 10)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequests.WithLabelValues("anthropic", "claude-sonnet", "success")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.ProviderTokens.WithLabelValues("anthropic", "claude-sonnet", "input")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.ProviderTokens.WithLabelValues("anthropic", "claude-sonnet", "output")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.ProviderTokens.WithLabelValues("anthropic", "claude-sonnet", "cached_input")))
}

func TestRunLifecycleGaugeTracksActiveRuns(t *testing.T) {
	m := testMetrics
	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RunsActive))

	m.RunFinished("completed", 12.5, 4)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunOutcomes.WithLabelValues("completed")))
}

func TestRecordToolExecution(t *testing.T) {
	m := testMetrics
	m.RecordToolExecution("memory_write", "success", 0.01)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolExecutions.WithLabelValues("memory_write", "success")))
}

func TestEventBusQueueDepthAndDrops(t *testing.T) {
	m := testMetrics
	m.SetEventBusQueueDepth("audit_log", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.EventBusQueueDepth.WithLabelValues("audit_log")))

	m.RecordEventBusDropped("audit_log")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventBusDropped.WithLabelValues("audit_log")))
}

func TestRecordOrchestratorRun(t *testing.T) {
	m := testMetrics
	m.RecordOrchestratorRun(5, "accepted")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrchestratorReviewOutcomes.WithLabelValues("accepted")))
}

func TestRecordSessionLockWait(t *testing.T) {
	m := testMetrics
	m.RecordSessionLockWait(0.2, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionLockStolen))
}
