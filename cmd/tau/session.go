package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tauagent/tau/internal/models"
	"github.com/tauagent/tau/internal/sessions"
)

// buildSessionCmd creates the "session" command group: inspect/branch/replay
// operate directly on a session store file, independent of a running
// rpc.Server.
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manipulate a session store",
	}
	cmd.AddCommand(
		buildSessionInspectCmd(),
		buildSessionBranchCmd(),
		buildSessionReplayCmd(),
	)
	return cmd
}

func buildSessionInspectCmd() *cobra.Command {
	var sessionPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List every entry in a session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionInspect(cmd, sessionPath)
		},
	}
	cmd.Flags().StringVarP(&sessionPath, "session", "s", "tau-session.jsonl", "Path to the session store file")
	return cmd
}

func buildSessionBranchCmd() *cobra.Command {
	var (
		sessionPath string
		from        int64
		message     string
	)
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Append a user message as a new branch forked from an entry",
		Long: `Append a user message chained from --from, creating a new branch
point without disturbing the existing lineage. Omitting --from appends
from the store's current head.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionBranch(cmd, sessionPath, from, message)
		},
	}
	cmd.Flags().StringVarP(&sessionPath, "session", "s", "tau-session.jsonl", "Path to the session store file")
	cmd.Flags().Int64Var(&from, "from", -1, "Parent entry id to branch from (default: current head)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "User message text to append")
	return cmd
}

func buildSessionReplayCmd() *cobra.Command {
	var (
		sessionPath string
		id          int64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print the root-to-id message lineage for an entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionReplay(cmd, sessionPath, id)
		},
	}
	cmd.Flags().StringVarP(&sessionPath, "session", "s", "tau-session.jsonl", "Path to the session store file")
	cmd.Flags().Int64Var(&id, "id", -1, "Entry id to replay up to (default: current head)")
	return cmd
}

func runSessionInspect(cmd *cobra.Command, sessionPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := sessions.Open(cmd.Context(), cfg.SessionOpenConfig(sessionPath))
	if err != nil {
		return wrapConfigError(fmt.Errorf("open session store: %w", err))
	}
	defer store.Close()

	entries, err := store.Entries(cmd.Context())
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No entries found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARENT\tROLE\tCONTENT")
	for _, entry := range entries {
		parent := "-"
		if entry.ParentID != nil {
			parent = fmt.Sprintf("%d", *entry.ParentID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", entry.ID, parent, entry.Message.Role, truncate(entry.Message.Text(), 120))
	}
	return w.Flush()
}

func runSessionBranch(cmd *cobra.Command, sessionPath string, from int64, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := sessions.Open(cmd.Context(), cfg.SessionOpenConfig(sessionPath))
	if err != nil {
		return wrapConfigError(fmt.Errorf("open session store: %w", err))
	}
	defer store.Close()

	var parentID *uint64
	if from >= 0 {
		id := uint64(from)
		parentID = &id
	} else if head, ok := store.HeadID(cmd.Context()); ok {
		parentID = &head
	}

	newHead, err := store.AppendMessages(cmd.Context(), parentID, []models.Message{models.NewTextMessage(models.RoleUser, message)})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Appended entry %d\n", newHead)
	return nil
}

func runSessionReplay(cmd *cobra.Command, sessionPath string, id int64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := sessions.Open(cmd.Context(), cfg.SessionOpenConfig(sessionPath))
	if err != nil {
		return wrapConfigError(fmt.Errorf("open session store: %w", err))
	}
	defer store.Close()

	target := uint64(id)
	if id < 0 {
		head, ok := store.HeadID(cmd.Context())
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No entries found.")
			return nil
		}
		target = head
	}

	messages, err := store.LineageMessages(cmd.Context(), target)
	if err != nil {
		return fmt.Errorf("lineage for %d: %w", target, err)
	}

	out := cmd.OutOrStdout()
	for _, msg := range messages {
		fmt.Fprintf(out, "[%s] %s\n", msg.Role, msg.Text())
	}
	return nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
