package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/tauagent/tau/internal/models"
)

func TestOpenAIProviderRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			if got := r.Header.Get("retry-attempt"); got != "0" {
				t.Errorf("expected retry-attempt 0 on first attempt, got %q", got)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`429 rate limited`))
			return
		}
		if got := r.Header.Get("retry-attempt"); got != "1" {
			t.Errorf("expected retry-attempt 1 on second attempt, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok after retry"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), models.ChatRequest{Model: "gpt-4", Messages: []models.Message{models.NewTextMessage(models.RoleUser, "hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message.Text() != "ok after retry" {
		t.Fatalf("expected %q, got %q", "ok after retry", resp.Message.Text())
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 HTTP attempts, got %d", calls)
	}
}

func TestOpenAIProviderExhaustsRetryBudgetOnPersistent5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	cfg := OpenAIConfig{APIKey: "k", BaseURL: srv.URL}
	cfg.Retry = DefaultRetryConfig()
	cfg.Retry.MaxRetries = 2
	p := NewOpenAIProvider(cfg)

	_, err := p.Complete(context.Background(), models.ChatRequest{Model: "gpt-4", Messages: []models.Message{models.NewTextMessage(models.RoleUser, "hi")}})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected R+1=3 attempts, got %d", calls)
	}
}

func TestOpenAIProviderFlagsPromptCacheAsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), models.ChatRequest{
		Model:       "gpt-4",
		Messages:    []models.Message{models.NewTextMessage(models.RoleUser, "hi")},
		PromptCache: &models.PromptCache{Enabled: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range resp.IgnoredFields {
		if f == "prompt_cache" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ignored_fields to contain prompt_cache, got %v", resp.IgnoredFields)
	}
}

func TestOpenAIProviderMissingAPIKey(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{})
	_, err := p.Complete(context.Background(), models.ChatRequest{})
	var pe *Error
	if err == nil {
		t.Fatal("expected missing api key error")
	}
	if !asError(err, &pe) || pe.Kind != KindMissingAPIKey {
		t.Fatalf("expected KindMissingAPIKey, got %v", err)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
