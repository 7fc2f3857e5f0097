package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/audit"
	"github.com/harrison/autopilot/internal/orchestrator"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent loops and pending approvals",
		Long: `Show the most recent closed loops from the audit trail and any
approval requests still waiting for a decision.`,
		Args: cobra.NoArgs,
		RunE: statusCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.Flags().Int("limit", 20, "How many recent loops to show")

	return cmd
}

// statusCommand implements the status command logic
func statusCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pending, err := orchestrator.ListPendingRequests(cfg.Approval.InboxDir)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Fprintf(out, "Pending approvals (%d):\n", len(pending))
		for _, req := range pending {
			fmt.Fprintf(out, "  %s  loop=%s  risk=%s  %s\n", req.ID, req.LoopID, req.Risk, req.Reason)
		}
		fmt.Fprintln(out)
	}

	if !cfg.Audit.Enabled {
		fmt.Fprintln(out, "Audit trail disabled; no loop history available.")
		return nil
	}
	if _, err := os.Stat(cfg.Audit.DBPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No loops recorded yet.")
		return nil
	}

	store, err := audit.NewStore(cfg.Audit.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	loops, err := store.RecentLoops(limit)
	if err != nil {
		return err
	}
	if len(loops) == 0 {
		fmt.Fprintln(out, "No loops recorded yet.")
		return nil
	}

	fmt.Fprintf(out, "Recent loops (%d):\n", len(loops))
	for _, loop := range loops {
		line := fmt.Sprintf("  %s  %-10s  event=%s  mode=%s  actions=%d  errors=%d  %s",
			loop.CompletedAt.Format("2006-01-02 15:04:05"), loop.FinalStatus,
			loop.EventID, loop.Mode, loop.ActionCount, loop.ErrorCount,
			loop.CompletedAt.Sub(loop.StartedAt).Round(time.Second))
		if loop.Error != "" {
			line += "  " + loop.Error
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
