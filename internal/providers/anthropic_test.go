package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tauagent/tau/internal/models"
)

func TestAnthropicProviderSendsCacheControlBreakpointAfterSystem(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), models.ChatRequest{
		Model: "claude-sonnet-4",
		Messages: []models.Message{
			models.NewTextMessage(models.RoleSystem, "be terse"),
			models.NewTextMessage(models.RoleUser, "hi"),
		},
		PromptCache: &models.PromptCache{Enabled: true, BreakpointAfterSystem: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	system, ok := captured["system"].([]any)
	if !ok || len(system) != 1 {
		t.Fatalf("expected system to be a single-element array, got %v", captured["system"])
	}
	block := system[0].(map[string]any)
	if block["text"] != "be terse" {
		t.Fatalf("expected system text %q, got %v", "be terse", block["text"])
	}
	cacheControl, ok := block["cache_control"].(map[string]any)
	if !ok || cacheControl["type"] != "ephemeral" {
		t.Fatalf("expected cache_control {type: ephemeral}, got %v", block["cache_control"])
	}
}

func TestAnthropicProviderOmitsCacheControlWithoutPromptCache(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), models.ChatRequest{
		Model: "claude-sonnet-4",
		Messages: []models.Message{
			models.NewTextMessage(models.RoleSystem, "be terse"),
			models.NewTextMessage(models.RoleUser, "hi"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := captured["system"].(string); !ok {
		t.Fatalf("expected system to stay a plain string without PromptCache, got %v", captured["system"])
	}
}
