package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tauagent/tau/internal/agent"
	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/rpc"
)

// buildRPCCapabilitiesCmd prints the RPC capability-discovery payload a
// client would negotiate against before relying on server behavior, without
// starting a server or touching a session store.
func buildRPCCapabilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc-capabilities",
		Short: "Print the RPC capability-discovery payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRPCCapabilities(cmd)
		},
	}
	return cmd
}

func runRPCCapabilities(cmd *cobra.Command) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.Model = cfg.DefaultModel
	if cfg.RPC.ClosedRunCacheCapacity > 0 {
		rpcCfg.ClosedRunCacheCapacity = cfg.RPC.ClosedRunCacheCapacity
	}

	unusedFactory := func(context.Context, string) (*agent.Loop, *eventbus.Bus, error) {
		return nil, nil, fmt.Errorf("rpc-capabilities does not serve runs")
	}
	server := rpc.NewServer(unusedFactory, rpcCfg, nil)

	payload, err := json.MarshalIndent(server.Capabilities(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(payload))
	return nil
}
