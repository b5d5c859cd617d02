package models

// PromptCache carries an optional prompt-caching hint on a ChatRequest.
// Adapters that do not support caching drop it silently and SHOULD surface
// the omission via IgnoredFields on the response.
type PromptCache struct {
	Enabled               bool `json:"enabled"`
	BreakpointAfterSystem bool `json:"breakpoint_after_system"`
}

// ChatRequest is the neutral request shape every provider adapter accepts
// and translates into its own wire format.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	PromptCache *PromptCache     `json:"prompt_cache,omitempty"`
}

// Usage reports token accounting for one provider call. Invariant:
// Total >= Input + Output - CachedInput whenever both are reported.
type Usage struct {
	Input       int `json:"input"`
	Output      int `json:"output"`
	Total       int `json:"total"`
	CachedInput int `json:"cached_input,omitempty"`
}

// ChatResponse is the neutral response shape every provider adapter produces.
type ChatResponse struct {
	Message       Message  `json:"message"`
	FinishReason  string   `json:"finish_reason,omitempty"`
	Usage         Usage    `json:"usage"`
	IgnoredFields []string `json:"ignored_fields,omitempty"`
}

// Finish reason values recognized by the agent loop's termination check.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)
