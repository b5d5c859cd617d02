// Package models defines the neutral data shapes shared by every Tau
// component: messages, chat requests/responses, tool contracts, lifecycle
// events, session lineage entries, and RPC run state.
package models

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates a ContentBlock's payload.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockToolCall BlockType = "tool_call"
)

// ContentBlock is a tagged variant: exactly one of Text or ToolCall carries
// payload. Empty blocks are stripped before persistence by callers.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// IsEmpty reports whether the block carries no payload and should be
// stripped before a Message is persisted.
func (b ContentBlock) IsEmpty() bool {
	switch b.Type {
	case BlockText:
		return b.Text == ""
	case BlockToolCall:
		return b.ToolCall == nil
	default:
		return true
	}
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolCallBlock builds a tool-call content block.
func ToolCallBlock(call ToolCall) ContentBlock {
	return ContentBlock{Type: BlockToolCall, ToolCall: &call}
}

// Message is a role plus an ordered sequence of content blocks. A tool-role
// message additionally carries the id/name of the call it answers and
// whether the result represents an error.
type Message struct {
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// NewTextMessage builds a Message with a single text block, stripping it
// entirely if text is empty (per the empty-block invariant).
func NewTextMessage(role Role, text string) Message {
	m := Message{Role: role}
	if text != "" {
		m.Content = []ContentBlock{TextBlock(text)}
	}
	return m
}

// NewToolResultMessage builds the tool-role message a turn appends in
// response to a ToolCall, carrying the execution result as a single text
// block (JSON-encoded when the result content is not already a string).
func NewToolResultMessage(callID, toolName string, result ToolExecutionResult) Message {
	text := stringifyContent(result.Content)
	m := Message{
		Role:       RoleTool,
		ToolCallID: callID,
		ToolName:   toolName,
		IsError:    result.IsError,
	}
	if text != "" {
		m.Content = []ContentBlock{TextBlock(text)}
	}
	return m
}

// ToolCalls returns the tool calls carried by this message's content blocks,
// in block order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Content {
		if b.Type == BlockToolCall && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// Text concatenates every text block's contents with no separator, mirroring
// how providers present a single assistant utterance split across blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// stripEmpty removes empty content blocks, satisfying the data-model
// invariant that persisted messages carry no empty blocks.
func stripEmpty(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if !b.IsEmpty() {
			out = append(out, b)
		}
	}
	return out
}

// Normalize strips empty content blocks from m and returns the result. It is
// called before a Message crosses the session-store or provider boundary.
func (m Message) Normalize() Message {
	m.Content = stripEmpty(m.Content)
	return m
}

func stringifyContent(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	return string(v)
}
