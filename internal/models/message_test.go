package models

import "testing"

func TestMessageNormalizeStripsEmptyBlocks(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock(""),
			TextBlock("hello"),
			{Type: BlockToolCall, ToolCall: nil},
		},
	}
	got := m.Normalize()
	if len(got.Content) != 1 || got.Content[0].Text != "hello" {
		t.Fatalf("expected only the non-empty text block to survive, got %+v", got.Content)
	}
}

func TestMessageToolCallsPreservesOrder(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			ToolCallBlock(ToolCall{ID: "t1", Name: "a"}),
			TextBlock("thinking"),
			ToolCallBlock(ToolCall{ID: "t2", Name: "b"}),
		},
	}
	calls := m.ToolCalls()
	if len(calls) != 2 || calls[0].ID != "t1" || calls[1].ID != "t2" {
		t.Fatalf("expected tool calls in block order, got %+v", calls)
	}
}

func TestNewToolResultMessageCarriesErrorFlag(t *testing.T) {
	m := NewToolResultMessage("t1", "memory_write", ErrorResult(ReasonUnknownTool, "no such tool"))
	if !m.IsError || m.ToolCallID != "t1" || m.Role != RoleTool {
		t.Fatalf("unexpected tool result message: %+v", m)
	}
}

func TestRunStateTransitionIsStickyOnceTerminal(t *testing.T) {
	s := NewRunState("r1", 100)
	s = s.Transition(RunCompleted, 200)
	if !s.Terminal || s.TerminalState != RunCompleted {
		t.Fatalf("expected terminal completed state, got %+v", s)
	}
	before := s
	s = s.Transition(RunFailed, 300)
	if s.Status != before.Status || s.TerminalState != before.TerminalState {
		t.Fatalf("terminal state must not change status after termination, got %+v", s)
	}
	if s.UpdatedMs != 300 {
		t.Fatalf("expected UpdatedMs to still advance, got %d", s.UpdatedMs)
	}
}
