package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tauagent/tau/internal/agent"
	"github.com/tauagent/tau/internal/config"
	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/observability"
	"github.com/tauagent/tau/internal/providers"
	"github.com/tauagent/tau/internal/rpc"
	"github.com/tauagent/tau/internal/sessions"
	"github.com/tauagent/tau/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		sessionPath string
		socketPath  string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Tau RPC server",
		Long: `Start the Tau agent runtime, accepting line-delimited JSON RPC
frames (run.start, run.cancel, run.status) over stdio or a Unix socket.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Serve over stdio (the default)
  tau serve --session ./agent.jsonl

  # Serve over a Unix socket
  tau serve --session ./agent.jsonl --socket /tmp/tau.sock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), sessionPath, socketPath, debug)
		},
	}

	cmd.Flags().StringVarP(&sessionPath, "session", "s", "tau-session.jsonl", "Path to the session store file")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path to listen on (default: serve over stdio)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, sessionPath, socketPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "json", Output: os.Stderr})
	metrics := observability.NewMetrics()
	_ = metrics // registered against the default Prometheus registry on construction

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sessions.Open(ctx, cfg.SessionOpenConfig(sessionPath))
	if err != nil {
		return wrapConfigError(fmt.Errorf("open session store: %w", err))
	}
	defer store.Close()
	if err := store.EnsureInitialized(ctx, defaultSystemPrompt); err != nil {
		return fmt.Errorf("initialize session store: %w", err)
	}

	registry := tools.NewRegistry()

	factory := func(ctx context.Context, runID string) (*agent.Loop, *eventbus.Bus, error) {
		provider, err := buildProvider(cfg, providerKindFromModel(cfg.DefaultModel))
		if err != nil {
			return nil, nil, err
		}
		bus := eventbus.NewBus(logger.Slog())
		return agent.NewLoop(provider, registry, store, bus, cfg.AgentLoopConfig()), bus, nil
	}

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.Model = cfg.DefaultModel
	if cfg.RPC.RunTimeoutMs > 0 {
		rpcCfg.RunTimeout = time.Duration(cfg.RPC.RunTimeoutMs) * time.Millisecond
	}
	rpcCfg.ClosedRunCacheCapacity = cfg.RPC.ClosedRunCacheCapacity

	server := rpc.NewServer(factory, rpcCfg, logger.Slog())

	if socketPath == "" {
		logger.Info(ctx, "serving over stdio", "session", sessionPath)
		return server.Serve(ctx, stdioReadWriter{})
	}
	return serveUnixSocket(ctx, server, socketPath, logger)
}

const defaultSystemPrompt = "You are Tau, a local-first coding and automation agent."

// providerKindFromModel extracts the provider kind from a "kind/model"
// convention (e.g. "anthropic/claude-sonnet-4"); bare model names default to
// "anthropic".
func providerKindFromModel(model string) string {
	if i := strings.IndexByte(model, '/'); i > 0 {
		return model[:i]
	}
	return "anthropic"
}

func buildProvider(cfg *config.Config, kind string) (providers.Client, error) {
	apiKey := cfg.ResolveAPIKey(kind)
	retry := cfg.ProviderRetryConfig(kind)
	pc := cfg.Providers[kind]

	switch kind {
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: apiKey, BaseURL: pc.BaseURL, Retry: retry}), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: apiKey, BaseURL: pc.BaseURL, Retry: retry}), nil
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey, BaseURL: pc.BaseURL, APIVersion: pc.APIVersion, Retry: retry}), nil
	default:
		return nil, wrapConfigError(fmt.Errorf("unknown provider kind %q", kind))
	}
}

// stdioReadWriter adapts os.Stdin/os.Stdout to io.ReadWriter for
// rpc.Server.Serve.
type stdioReadWriter struct{}

func (stdioReadWriter) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioReadWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func serveUnixSocket(ctx context.Context, server *rpc.Server, socketPath string, logger *observability.Logger) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info(ctx, "serving over unix socket", "socket", socketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func(c io.ReadWriteCloser) {
			defer c.Close()
			if err := server.Serve(ctx, c); err != nil {
				logger.Error(ctx, "connection serve error", "error", err)
			}
		}(conn)
	}
}
