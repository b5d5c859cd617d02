// Package config loads Tau's runtime configuration from a YAML file with an
// environment-variable overlay, covering every tunable named in spec.md
// §4-§6: provider retry/timeout budgets, agent loop limits, event-bus queue
// capacity, session store backend selection, RPC run timeout, and the
// plan-first orchestrator's step/response budgets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tauagent/tau/internal/agent"
	"github.com/tauagent/tau/internal/orchestrator"
	"github.com/tauagent/tau/internal/providers"
	"github.com/tauagent/tau/internal/sessions"
)

// ProviderConfig configures one named provider adapter (anthropic, openai,
// google, or an OpenAI-compatible gateway).
type ProviderConfig struct {
	Kind       string `yaml:"kind"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`

	MaxRetries    int   `yaml:"max_retries"`
	RetryBudgetMs int64 `yaml:"retry_budget_ms"`
}

// AgentConfig configures the §4.5 agent loop.
type AgentConfig struct {
	MaxTurns           int     `yaml:"max_turns"`
	RequestTimeoutMs   int64   `yaml:"request_timeout_ms"`
	TurnTimeoutMs      int64   `yaml:"turn_timeout_ms"`
	CostBudgetUSD      float64 `yaml:"cost_budget_usd"`
	CostPerInputToken  float64 `yaml:"cost_per_input_token"`
	CostPerOutputToken float64 `yaml:"cost_per_output_token"`
}

// SessionConfig configures §4.3's session store backend selection and its
// advisory file locking.
type SessionConfig struct {
	Backend     string `yaml:"session_backend"`
	PostgresDSN string `yaml:"session_postgres_dsn"`
	LockWaitMs  int64  `yaml:"session_lock_wait_ms"`
	LockStaleMs int64  `yaml:"session_lock_stale_ms"`
}

// EventBusConfig configures §4.4's per-handler async queue.
type EventBusConfig struct {
	AsyncQueueCapacity int `yaml:"async_event_queue_capacity"`
}

// RPCConfig configures §4.6's per-run timeout and closed-run status cache.
type RPCConfig struct {
	RunTimeoutMs           int64 `yaml:"run_timeout_ms"`
	ClosedRunCacheCapacity int   `yaml:"closed_run_status_cache_capacity"`
}

// OrchestratorConfig configures §4.7's plan-first budgets.
type OrchestratorConfig struct {
	MaxPlanSteps             int `yaml:"max_plan_steps"`
	MaxExecutorResponseChars int `yaml:"max_executor_response_chars"`
}

// NetworkConfig carries the transport-layer proxy settings §6 says the core
// honors. Go's own http.ProxyFromEnvironment already reads HTTP_PROXY and
// HTTPS_PROXY directly; these fields exist so a loaded Config can surface
// the resolved values for logging and diagnostics.
type NetworkConfig struct {
	HTTPProxy  string `yaml:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy"`
}

// Config is the root of the YAML tree loaded by Load, before environment
// overlay and conversion to the strongly-typed per-package Config values
// each collaborator actually consumes.
type Config struct {
	Providers    map[string]ProviderConfig `yaml:"providers"`
	DefaultModel string                    `yaml:"default_model"`
	Agent        AgentConfig               `yaml:"agent"`
	Session      SessionConfig             `yaml:"session"`
	EventBus     EventBusConfig            `yaml:"event_bus"`
	RPC          RPCConfig                 `yaml:"rpc"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	Network      NetworkConfig             `yaml:"network"`
}

// Default returns a Config populated with the same defaults each
// collaborator package applies on its own, so a zero-value file (or no file
// at all) still produces a fully workable runtime.
func Default() *Config {
	lock := sessions.DefaultLockConfig()
	agentCfg := agent.DefaultConfig()
	orchCfg := orchestrator.DefaultConfig()

	return &Config{
		Providers:    map[string]ProviderConfig{},
		DefaultModel: "default",
		Agent: AgentConfig{
			MaxTurns:           agentCfg.MaxTurns,
			RequestTimeoutMs:   agentCfg.RequestTimeout.Milliseconds(),
			TurnTimeoutMs:      agentCfg.TurnTimeout.Milliseconds(),
			CostBudgetUSD:      agentCfg.CostBudgetUSD,
			CostPerInputToken:  agentCfg.CostPerInputToken,
			CostPerOutputToken: agentCfg.CostPerOutputToken,
		},
		Session: SessionConfig{
			Backend:     "auto",
			LockWaitMs:  lock.WaitMs,
			LockStaleMs: lock.StaleMs,
		},
		EventBus: EventBusConfig{AsyncQueueCapacity: 64},
		RPC:      RPCConfig{RunTimeoutMs: 10 * 60 * 1000, ClosedRunCacheCapacity: 256},
		Orchestrator: OrchestratorConfig{
			MaxPlanSteps:             orchCfg.MaxPlanSteps,
			MaxExecutorResponseChars: orchCfg.MaxExecutorResponseChars,
		},
	}
}

// Load reads path as YAML into a Config seeded with Default's values (so
// unset fields keep their defaults), then applies the environment overlay
// via Overlay.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Overlay(os.Environ())
	return cfg, nil
}

// Overlay applies the environment-variable overrides spec.md §6 names
// ("core-consumed" variables), in the given environ slice (os.Environ()
// format, "KEY=VALUE"). Per-provider api keys use the "<KIND>_API_KEY"
// convention (e.g. ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY),
// resolved for every provider entry already present in cfg.Providers plus
// any of the three well-known kinds not yet present; an api key already set
// in the file is kept, and the environment only fills an empty one.
func (c *Config) Overlay(environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	if v, ok := env["SESSION_BACKEND"]; ok && v != "" {
		c.Session.Backend = v
	}
	if v, ok := env["SESSION_POSTGRES_DSN"]; ok && v != "" {
		c.Session.PostgresDSN = v
	}
	if v, ok := env["HTTP_PROXY"]; ok && v != "" {
		c.Network.HTTPProxy = v
	}
	if v, ok := env["HTTPS_PROXY"]; ok && v != "" {
		c.Network.HTTPSProxy = v
	}

	for _, kind := range []string{"anthropic", "openai", "google"} {
		if _, ok := c.Providers[kind]; !ok {
			if c.Providers == nil {
				c.Providers = map[string]ProviderConfig{}
			}
			c.Providers[kind] = ProviderConfig{Kind: kind}
		}
	}
	for kind, pc := range c.Providers {
		envKey := strings.ToUpper(kind) + "_API_KEY"
		if v, ok := env[envKey]; ok && v != "" && pc.APIKey == "" {
			pc.APIKey = v
			c.Providers[kind] = pc
		}
	}
}

// ResolveAPIKey implements §7's provider API key resolution precedence:
// an explicit value already set in the loaded file wins; otherwise the
// "<KIND>_API_KEY" environment variable; otherwise empty (the provider
// adapter surfaces a validation error on first use).
func (c *Config) ResolveAPIKey(kind string) string {
	if pc, ok := c.Providers[kind]; ok && pc.APIKey != "" {
		return pc.APIKey
	}
	return os.Getenv(strings.ToUpper(kind) + "_API_KEY")
}

// AgentLoopConfig converts the loaded AgentConfig into agent.Config.
func (c *Config) AgentLoopConfig() agent.Config {
	return agent.Config{
		MaxTurns:           c.Agent.MaxTurns,
		RequestTimeout:     time.Duration(c.Agent.RequestTimeoutMs) * time.Millisecond,
		TurnTimeout:        time.Duration(c.Agent.TurnTimeoutMs) * time.Millisecond,
		CostBudgetUSD:      c.Agent.CostBudgetUSD,
		CostPerInputToken:  c.Agent.CostPerInputToken,
		CostPerOutputToken: c.Agent.CostPerOutputToken,
	}
}

// OrchestratorConfig converts the loaded OrchestratorConfig into
// orchestrator.Config, reusing AgentLoopConfig for the embedded loop config.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxPlanSteps:             c.Orchestrator.MaxPlanSteps,
		MaxExecutorResponseChars: c.Orchestrator.MaxExecutorResponseChars,
		LoopConfig:               c.AgentLoopConfig(),
	}
}

// SessionLockConfig converts the loaded SessionConfig into sessions.LockConfig.
func (c *Config) SessionLockConfig() sessions.LockConfig {
	return sessions.LockConfig{WaitMs: c.Session.LockWaitMs, StaleMs: c.Session.LockStaleMs}
}

// SessionOpenConfig converts the loaded SessionConfig into a
// sessions.OpenConfig for the given session file path.
func (c *Config) SessionOpenConfig(path string) sessions.OpenConfig {
	return sessions.OpenConfig{
		Path:        path,
		EnvBackend:  c.Session.Backend,
		PostgresDSN: c.Session.PostgresDSN,
		Lock:        c.SessionLockConfig(),
	}
}

// ProviderRetryConfig converts the named provider's retry fields into
// providers.RetryConfig, falling back to providers.DefaultRetryConfig for any
// zero field.
func (c *Config) ProviderRetryConfig(kind string) providers.RetryConfig {
	pc := c.Providers[kind]
	def := providers.DefaultRetryConfig()
	retry := def
	if pc.MaxRetries > 0 {
		retry.MaxRetries = pc.MaxRetries
	}
	if pc.RetryBudgetMs > 0 {
		retry.RetryBudgetMs = pc.RetryBudgetMs
	}
	return retry
}

// ParseBool is a small env-var helper for callers decoding boolean
// environment overrides (e.g. feature flags): an empty or unparsable value
// yields fallback. Overlay itself decodes no boolean variables.
func ParseBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
