// Command tau is Tau's CLI front end: a cobra root command wrapping the
// local-first agent runtime core (internal/agent, internal/rpc,
// internal/orchestrator) with a config-driven serve command, session
// inspection subcommands, and an rpc-capabilities diagnostic.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tauagent/tau/internal/observability"
)

// Build information, populated by -ldflags at build time:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{Format: "json", Output: os.Stderr})
	slog.SetDefault(logger.Slog())

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to spec.md §6's CLI exit code contract: 2 for
// configuration/validation errors, 130 for user cancellation, 1 otherwise.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case isValidationError(err):
		return 2
	case isCancellationError(err):
		return 130
	default:
		return 1
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tau",
		Short: "Tau - local-first agent runtime",
		Long: `Tau runs a provider-agnostic LLM agent loop against a branching,
append-only session store, exposed over a line-delimited JSON RPC transport.

Supported providers: Anthropic, OpenAI, Google.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "tau.yaml", "Path to YAML configuration file")

	root.AddCommand(
		buildServeCmd(),
		buildSessionCmd(),
		buildRPCCapabilitiesCmd(),
	)
	return root
}
