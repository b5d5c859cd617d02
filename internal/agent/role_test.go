package agent

import (
	"testing"

	"github.com/tauagent/tau/internal/models"
)

func TestDefaultRoleProfileMatchesStagedProcessTable(t *testing.T) {
	cases := []struct {
		role      Role
		maxTurns  int
		allowlist []string
	}{
		{RoleChannel, 8, []string{"branch", "worker", "memory_search", "memory_write", "react", "send_file"}},
		{RoleBranch, 12, []string{"memory_search", "memory_write"}},
		{RoleWorker, 25, []string{"memory_search", "memory_write"}},
		{RoleCompactor, 4, []string{"memory_search", "memory_write"}},
	}
	for _, c := range cases {
		p := DefaultRoleProfile(c.role)
		if p.SystemPreamble == "" {
			t.Errorf("%s: expected a non-empty system preamble", c.role)
		}
		if p.MaxTurns != c.maxTurns {
			t.Errorf("%s: expected max_turns %d, got %d", c.role, c.maxTurns, p.MaxTurns)
		}
		if len(p.ToolAllowlist) != len(c.allowlist) {
			t.Errorf("%s: expected allowlist %v, got %v", c.role, c.allowlist, p.ToolAllowlist)
		}
	}
}

func TestRoleProfileApplyToConfigOverlaysWithoutTouchingTimeouts(t *testing.T) {
	base := DefaultConfig()
	cfg := DefaultRoleProfile(RoleWorker).ApplyToConfig(base)
	if cfg.MaxTurns != 25 {
		t.Fatalf("expected MaxTurns 25, got %d", cfg.MaxTurns)
	}
	if cfg.SystemPreamble == "" {
		t.Fatal("expected a system preamble to be set")
	}
	if len(cfg.ToolAllowlist) != 2 {
		t.Fatalf("expected a 2-entry tool allowlist, got %v", cfg.ToolAllowlist)
	}
	if cfg.TurnTimeout != base.TurnTimeout || cfg.RequestTimeout != base.RequestTimeout {
		t.Fatal("expected timeouts to be untouched by ApplyToConfig")
	}
}

func TestAllowedToolsFiltersByName(t *testing.T) {
	defs := []models.ToolDefinition{{Name: "memory_search"}, {Name: "memory_write"}, {Name: "danger_tool"}}

	filtered := allowedTools(defs, []string{"memory_search", "memory_write"})
	if len(filtered) != 2 {
		t.Fatalf("expected 2 tools after filtering, got %d: %+v", len(filtered), filtered)
	}
	for _, d := range filtered {
		if d.Name == "danger_tool" {
			t.Fatalf("expected danger_tool to be filtered out, got %+v", filtered)
		}
	}

	if unfiltered := allowedTools(defs, nil); len(unfiltered) != len(defs) {
		t.Fatalf("expected an empty allowlist to leave all %d tools, got %d", len(defs), len(unfiltered))
	}
}
