package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/orchestrator"
)

// NewApproveCommand creates the approve command
func NewApproveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve [request-id]",
		Short: "Approve or deny a pending plan",
		Long: `Approve or deny a plan waiting at the approval gate.

Without arguments, lists the pending approval requests. With a request ID,
drops a decision into the approval inbox for the waiting loop to pick up.
The loop may be running in a different process.

Examples:
  autopilot approve                 # List pending requests
  autopilot approve 4f3a...         # Approve a request
  autopilot approve --deny 4f3a...  # Deny a request`,
		Args: cobra.MaximumNArgs(1),
		RunE: approveCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.Flags().Bool("deny", false, "Deny the request instead of approving it")
	cmd.Flags().String("by", "", "Who is deciding (default: current user)")

	return cmd
}

// approveCommand implements the approve command logic
func approveCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}
	inbox := cfg.Approval.InboxDir

	if len(args) == 0 {
		pending, err := orchestrator.ListPendingRequests(inbox)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending approval requests.")
			return nil
		}
		for _, req := range pending {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  loop=%s  risk=%s  %s\n",
				req.ID, req.LoopID, req.Risk, req.Reason)
		}
		return nil
	}

	deny, _ := cmd.Flags().GetBool("deny")
	decidedBy, _ := cmd.Flags().GetString("by")
	if decidedBy == "" {
		decidedBy = currentUser()
	}

	if err := orchestrator.WriteDecision(inbox, args[0], !deny, decidedBy); err != nil {
		return err
	}

	verb := "approved"
	if deny {
		verb = "denied"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Request %s %s.\n", args[0], verb)
	return nil
}
