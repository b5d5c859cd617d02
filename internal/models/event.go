package models

import "encoding/json"

// EventType discriminates an AgentEvent's payload.
type EventType string

const (
	EventAgentStart       EventType = "agent_start"
	EventAgentEnd         EventType = "agent_end"
	EventTurnStart        EventType = "turn_start"
	EventTurnEnd          EventType = "turn_end"
	EventMessageAdded     EventType = "message_added"
	EventToolExecStart    EventType = "tool_execution_start"
	EventToolExecEnd      EventType = "tool_execution_end"
	EventReplanTriggered  EventType = "replan_triggered"
	EventCostUpdated      EventType = "cost_updated"
	EventCostBudgetAlert  EventType = "cost_budget_alert"
	EventSafetyPolicy     EventType = "safety_policy_applied"
)

// TurnResult is the per-call outcome recorded in a TurnEnd event.
type TurnResult struct {
	ToolCallID string              `json:"tool_call_id"`
	ToolName   string              `json:"tool_name"`
	Result     ToolExecutionResult `json:"result"`
}

// SafetyMode is the verdict an external safety policy hook returns.
type SafetyMode string

const (
	SafetyAllow  SafetyMode = "allow"
	SafetyRedact SafetyMode = "redact"
	SafetyBlock  SafetyMode = "block"
)

// SafetyVerdict is the structured result of a safety policy hook call.
type SafetyVerdict struct {
	Mode         SafetyMode `json:"mode"`
	MatchedRules []string   `json:"matched_rules,omitempty"`
	ReasonCodes  []string   `json:"reason_codes,omitempty"`
}

// SafetyStage names which message the safety policy hook is evaluating.
type SafetyStage string

const (
	StageUser       SafetyStage = "user"
	StageAssistant  SafetyStage = "assistant"
	StageToolOutput SafetyStage = "tool_output"
)

// AgentEvent is a tagged variant over the agent loop's lifecycle signals.
// Exactly the fields relevant to Type are populated; the rest stay zero.
// Sequence is a monotonic, per-agent-instance counter assigned at emission
// time so subscribers can detect total program order.
type AgentEvent struct {
	Type     EventType `json:"type"`
	Sequence uint64    `json:"sequence"`

	// AgentEnd
	NewMessages []Message `json:"new_messages,omitempty"`

	// TurnStart / TurnEnd / ReplanTriggered
	Turn int `json:"turn,omitempty"`

	// TurnEnd
	ToolResults       []TurnResult `json:"tool_results,omitempty"`
	RequestDurationMs int64        `json:"request_duration_ms,omitempty"`
	Usage             *Usage       `json:"usage,omitempty"`
	FinishReason      string       `json:"finish_reason,omitempty"`

	// MessageAdded
	Message *Message `json:"message,omitempty"`

	// ToolExecutionStart / ToolExecutionEnd
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolName   string               `json:"tool_name,omitempty"`
	Arguments  json.RawMessage      `json:"arguments,omitempty"`
	Result     *ToolExecutionResult `json:"result,omitempty"`

	// ReplanTriggered
	Reason string `json:"reason,omitempty"`

	// CostUpdated / CostBudgetAlert
	CostUSD   float64 `json:"cost_usd,omitempty"`
	BudgetUSD float64 `json:"budget_usd,omitempty"`

	// SafetyPolicyApplied
	Stage   string         `json:"stage,omitempty"`
	Verdict *SafetyVerdict `json:"verdict,omitempty"`
}
