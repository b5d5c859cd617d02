package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/models"
	"github.com/tauagent/tau/internal/sessions"
	"github.com/tauagent/tau/internal/tools"
)

// scriptProvider replays a fixed sequence of responses, one per Complete
// call, and records how many times it was called.
type scriptProvider struct {
	responses []models.ChatResponse
	calls     int
	onCall    func(call int)
}

func (p *scriptProvider) Complete(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	i := p.calls
	p.calls++
	if p.onCall != nil {
		p.onCall(i)
	}
	if i >= len(p.responses) {
		return models.ChatResponse{Message: models.NewTextMessage(models.RoleAssistant, "done"), FinishReason: models.FinishStop}, nil
	}
	return p.responses[i], nil
}

func newTestLoop(t *testing.T, provider *scriptProvider, registry *tools.Registry) (*Loop, sessions.Store) {
	t.Helper()
	store := sessions.NewJSONLStore(t.TempDir()+"/session.jsonl", sessions.DefaultLockConfig())
	if err := store.EnsureInitialized(context.Background(), "you are a helpful agent"); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	bus := eventbus.NewBus(nil)
	l := NewLoop(provider, registry, store, bus, DefaultConfig())
	return l, store
}

// TestToolRoundtrip implements spec.md §8 concrete scenario 3: a provider
// requests memory_write, the loop executes it and feeds the result back,
// and the provider's second response ends the turn with no further calls.
func TestToolRoundtrip(t *testing.T) {
	registry := tools.NewRegistry()
	params, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{"key": map[string]any{"type": "string"}},
		"required":   []string{"key"},
	})
	if err := registry.Register(models.ToolDefinition{Name: "memory_write", Parameters: params}, func(ctx context.Context, args json.RawMessage) models.ToolExecutionResult {
		return models.TextResult("stored")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	toolCallArgs, _ := json.Marshal(map[string]string{"key": "k1"})
	provider := &scriptProvider{
		responses: []models.ChatResponse{
			{
				Message: models.Message{
					Role:    models.RoleAssistant,
					Content: []models.ContentBlock{models.ToolCallBlock(models.ToolCall{ID: "call-1", Name: "memory_write", Arguments: toolCallArgs})},
				},
				FinishReason: models.FinishToolCalls,
			},
			{
				Message:      models.NewTextMessage(models.RoleAssistant, "done"),
				FinishReason: models.FinishStop,
			},
		},
	}

	l, store := newTestLoop(t, provider, registry)
	head, err := l.Prompt(context.Background(), "test-model", "please remember k1")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly 2 provider requests, got %d", provider.calls)
	}

	entries, err := store.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	// system, user, assistant(tool_call), tool(result), assistant(done)
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d: %+v", len(entries), entries)
	}
	toolEntry := entries[3]
	if toolEntry.Message.Role != models.RoleTool || toolEntry.Message.ToolCallID != "call-1" {
		t.Fatalf("expected entry 4 to be the tool result for call-1, got %+v", toolEntry)
	}

	msgs, err := store.LineageMessages(context.Background(), head)
	if err != nil {
		t.Fatalf("LineageMessages: %v", err)
	}
	if len(msgs) != 5 || msgs[4].Text() != "done" {
		t.Fatalf("unexpected final lineage: %+v", msgs)
	}
}

// TestCancellationBetweenTurns implements spec.md §8 concrete scenario 4:
// cancellation fires while a tool call is executing; the loop must not
// issue a second provider request once the in-flight turn finishes.
func TestCancellationBetweenTurns(t *testing.T) {
	registry := tools.NewRegistry()
	var l *Loop
	if err := registry.Register(models.ToolDefinition{Name: "slow_tool", Parameters: json.RawMessage(`{"type":"object"}`)}, func(ctx context.Context, args json.RawMessage) models.ToolExecutionResult {
		l.Cancel()
		time.Sleep(100 * time.Millisecond)
		return models.TextResult("ok")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &scriptProvider{
		responses: []models.ChatResponse{
			{
				Message: models.Message{
					Role:    models.RoleAssistant,
					Content: []models.ContentBlock{models.ToolCallBlock(models.ToolCall{ID: "call-1", Name: "slow_tool", Arguments: json.RawMessage(`{}`)})},
				},
				FinishReason: models.FinishToolCalls,
			},
			{
				Message:      models.NewTextMessage(models.RoleAssistant, "should never be reached"),
				FinishReason: models.FinishStop,
			},
		},
	}

	l, _ = newTestLoop(t, provider, registry)
	_, err := l.Prompt(context.Background(), "test-model", "run the slow tool")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected cancellation to prevent a second provider request, got %d calls", provider.calls)
	}
}

// TestOneToolMessagePerCall covers invariant 3: exactly one tool-role
// message is appended per ToolCall id within a turn, even with multiple
// calls in the same assistant message.
func TestOneToolMessagePerCall(t *testing.T) {
	registry := tools.NewRegistry()
	for _, name := range []string{"tool_a", "tool_b"} {
		name := name
		if err := registry.Register(models.ToolDefinition{Name: name, Parameters: json.RawMessage(`{"type":"object"}`)}, func(ctx context.Context, args json.RawMessage) models.ToolExecutionResult {
			return models.TextResult(name + "-result")
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	provider := &scriptProvider{
		responses: []models.ChatResponse{
			{
				Message: models.Message{
					Role: models.RoleAssistant,
					Content: []models.ContentBlock{
						models.ToolCallBlock(models.ToolCall{ID: "call-a", Name: "tool_a", Arguments: json.RawMessage(`{}`)}),
						models.ToolCallBlock(models.ToolCall{ID: "call-b", Name: "tool_b", Arguments: json.RawMessage(`{}`)}),
					},
				},
				FinishReason: models.FinishToolCalls,
			},
		},
	}

	l, store := newTestLoop(t, provider, registry)
	head, err := l.Prompt(context.Background(), "test-model", "run both tools")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	entries, err := store.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	seen := map[string]int{}
	for _, e := range entries {
		if e.Message.Role == models.RoleTool {
			seen[e.Message.ToolCallID]++
		}
	}
	if seen["call-a"] != 1 || seen["call-b"] != 1 {
		t.Fatalf("expected exactly one tool message per call id, got %+v", seen)
	}
	if head == 0 {
		t.Fatalf("expected a non-zero head id")
	}
}

// TestAgentEndCarriesNewMessages implements spec.md §2/§3: AgentEnd's sole
// payload is every message this Prompt call appended to the session.
func TestAgentEndCarriesNewMessages(t *testing.T) {
	registry := tools.NewRegistry()
	params, _ := json.Marshal(map[string]any{"type": "object"})
	if err := registry.Register(models.ToolDefinition{Name: "echo_tool", Parameters: params}, func(ctx context.Context, args json.RawMessage) models.ToolExecutionResult {
		return models.TextResult("echoed")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &scriptProvider{
		responses: []models.ChatResponse{
			{
				Message: models.Message{
					Role:    models.RoleAssistant,
					Content: []models.ContentBlock{models.ToolCallBlock(models.ToolCall{ID: "call-1", Name: "echo_tool", Arguments: json.RawMessage(`{}`)})},
				},
				FinishReason: models.FinishToolCalls,
			},
			{
				Message:      models.NewTextMessage(models.RoleAssistant, "done"),
				FinishReason: models.FinishStop,
			},
		},
	}

	store := sessions.NewJSONLStore(t.TempDir()+"/session.jsonl", sessions.DefaultLockConfig())
	if err := store.EnsureInitialized(context.Background(), "system"); err != nil {
		t.Fatal(err)
	}
	bus := eventbus.NewBus(nil)
	var agentEnd *models.AgentEvent
	bus.Subscribe(func(event models.AgentEvent) {
		if event.Type == models.EventAgentEnd {
			e := event
			agentEnd = &e
		}
	})
	l := NewLoop(provider, registry, store, bus, DefaultConfig())

	if _, err := l.Prompt(context.Background(), "test-model", "go"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if agentEnd == nil {
		t.Fatal("expected an AgentEnd event")
	}
	// user, assistant(tool_call), tool(result), assistant(done)
	if len(agentEnd.NewMessages) != 4 {
		t.Fatalf("expected 4 new messages, got %d: %+v", len(agentEnd.NewMessages), agentEnd.NewMessages)
	}
	if agentEnd.NewMessages[0].Role != models.RoleUser || agentEnd.NewMessages[0].Text() != "go" {
		t.Fatalf("expected first new message to be the user prompt, got %+v", agentEnd.NewMessages[0])
	}
	if agentEnd.NewMessages[3].Role != models.RoleAssistant || agentEnd.NewMessages[3].Text() != "done" {
		t.Fatalf("expected last new message to be the final assistant turn, got %+v", agentEnd.NewMessages[3])
	}
}

// TestMaxTurnsStopsTheLoop ensures the loop terminates once Config.MaxTurns
// is reached instead of looping forever against a provider that always
// requests more tool calls.
func TestMaxTurnsStopsTheLoop(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(models.ToolDefinition{Name: "loopy", Parameters: json.RawMessage(`{"type":"object"}`)}, func(ctx context.Context, args json.RawMessage) models.ToolExecutionResult {
		return models.TextResult("again")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	alwaysCallsTool := models.ChatResponse{
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: []models.ContentBlock{models.ToolCallBlock(models.ToolCall{ID: "call-x", Name: "loopy", Arguments: json.RawMessage(`{}`)})},
		},
		FinishReason: models.FinishToolCalls,
	}
	cfg := DefaultConfig()
	cfg.MaxTurns = 3
	repeated := make([]models.ChatResponse, cfg.MaxTurns+2)
	for i := range repeated {
		repeated[i] = alwaysCallsTool
	}
	provider := &scriptProvider{responses: repeated}

	store := sessions.NewJSONLStore(t.TempDir()+"/session.jsonl", sessions.DefaultLockConfig())
	if err := store.EnsureInitialized(context.Background(), "system"); err != nil {
		t.Fatal(err)
	}
	bus := eventbus.NewBus(nil)
	l := NewLoop(provider, registry, store, bus, cfg)

	if _, err := l.Prompt(context.Background(), "test-model", "go"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if provider.calls != cfg.MaxTurns {
		t.Fatalf("expected exactly MaxTurns (%d) provider calls, got %d", cfg.MaxTurns, provider.calls)
	}
}
