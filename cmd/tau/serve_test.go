package main

import (
	"testing"

	"github.com/tauagent/tau/internal/config"
)

func TestProviderKindFromModel(t *testing.T) {
	cases := map[string]string{
		"anthropic/claude-sonnet-4": "anthropic",
		"openai/gpt-4o":             "openai",
		"google/gemini-2.5-pro":     "google",
		"claude-sonnet-4":           "anthropic",
		"":                          "anthropic",
	}
	for model, want := range cases {
		if got := providerKindFromModel(model); got != want {
			t.Errorf("providerKindFromModel(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestBuildProviderRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	if _, err := buildProvider(cfg, "unknown"); err == nil {
		t.Fatal("expected an error for an unknown provider kind")
	}
}

func TestBuildProviderConstructsEachSupportedKind(t *testing.T) {
	cfg := config.Default()
	for _, kind := range []string{"anthropic", "openai", "google"} {
		if _, err := buildProvider(cfg, kind); err != nil {
			t.Errorf("buildProvider(%q) returned unexpected error: %v", kind, err)
		}
	}
}
