// Package rpc implements the line-delimited JSON streaming transport from
// spec.md §4.6: one accept loop, one goroutine per active run, a bounded
// closed-run status cache, and the stable capability/error taxonomy clients
// negotiate against.
package rpc

import (
	"encoding/json"

	"github.com/tauagent/tau/internal/models"
)

// ProtocolVersion and CapabilitiesSchemaVersion are the two version fields a
// client pins against; bump CapabilitiesSchemaVersion whenever the shape of
// the capabilities payload itself changes, and ProtocolVersion whenever a
// frame kind's semantics change.
const (
	ProtocolVersion           = "0.1.0"
	CapabilitiesSchemaVersion = 1
)

// ClosedRunStatusCapacity bounds the FIFO closed-run cache (spec.md §8
// invariant 8). Not fixed by spec.md; chosen as a generous default for a
// single-process server and exposed via Config for deployments that need a
// larger retention window.
const ClosedRunStatusCapacity = 256

// Request kinds a client may send.
const (
	KindRunStart  = "run.start"
	KindRunCancel = "run.cancel"
	KindRunStatus = "run.status"
)

// Response kinds the server may send.
const (
	KindRunStarted          = "run.started"
	KindRunStreamAssistant  = "run.stream.assistant_text"
	KindRunStreamToolEvents = "run.stream.tool_events"
	KindRunComplete         = "run.complete"
	KindRunFail             = "run.fail"
	KindRunTimeout          = "run.timeout"
	KindRunCancelled        = "run.cancelled"
	KindRunStatusResponse   = "run.status"
)

// Capabilities is the deterministic, ordered capability list advertised by
// capability discovery. Order matches original_source's rpc_capabilities.rs
// exactly so a client diffing the list byte-for-byte sees no drift.
var Capabilities = []string{
	"errors.structured",
	"run.cancel",
	"run.complete",
	"run.fail",
	"run.start",
	"run.status",
	"run.timeout",
	"run.stream.assistant_text",
	"run.stream.tool_events",
}

// RunStatusValues and TerminalStates mirror models.RunStatus's full domain
// and its terminal subset, in the order the capabilities payload advertises
// them.
var (
	RunStatusValues = []models.RunStatus{
		models.RunActive, models.RunInactive, models.RunCancelled,
		models.RunCompleted, models.RunFailed, models.RunTimedOut,
	}
	TerminalStates = []models.RunStatus{
		models.RunCancelled, models.RunCompleted, models.RunFailed, models.RunTimedOut,
	}
)

// Frame is the wire shape of every request and response: schema_version,
// kind, a client-chosen request_id echoed back on the matching response, and
// a kind-specific payload. Response frames additionally carry Terminal and,
// when Terminal, TerminalState.
type Frame struct {
	SchemaVersion int             `json:"schema_version"`
	Kind          string          `json:"kind"`
	RequestID     string          `json:"request_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Terminal      bool            `json:"terminal"`
	TerminalState models.RunStatus `json:"terminal_state,omitempty"`
}

// RunStartPayload is the payload of a run.start request.
type RunStartPayload struct {
	Prompt  string `json:"prompt"`
	Profile string `json:"profile,omitempty"`
}

// RunIDPayload is the payload of run.cancel and run.status requests, and of
// run.started/run.cancelled responses.
type RunIDPayload struct {
	RunID string `json:"run_id"`
}

// AssistantTextPayload is the payload of a run.stream.assistant_text
// response.
type AssistantTextPayload struct {
	RunID string `json:"run_id"`
	Chunk string `json:"chunk"`
}

// ToolEventPayload is the payload of a run.stream.tool_events response.
type ToolEventPayload struct {
	RunID string            `json:"run_id"`
	Event models.AgentEvent `json:"event"`
}

// CompletePayload is the payload of a run.complete response.
type CompletePayload struct {
	RunID string       `json:"run_id"`
	Usage models.Usage `json:"usage"`
}

// FailPayload is the payload of a run.fail response.
type FailPayload struct {
	RunID string      `json:"run_id"`
	Error ErrorDetail `json:"error"`
}

// StatusPayload is the payload of a run.status response.
type StatusPayload struct {
	RunID string           `json:"run_id"`
	State models.RunStatus `json:"state"`
}
