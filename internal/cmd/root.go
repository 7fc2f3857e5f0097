package cmd

import (
	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/config"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for autopilot
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Closed-loop autonomous action pipeline",
		Long: `Autopilot turns normalized events from engineering systems (issue
trackers, code hosts, chat, CI, deployments) into safety-gated execution
plans, runs them with retries and rollback, verifies the outcomes and
escalates anything it should not decide on its own.

Configuration is loaded from .autopilot/config.yaml if present.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewApproveCommand())
	cmd.AddCommand(NewStatusCommand())

	return cmd
}

// loadConfiguration loads and validates configuration from an explicit path
// or from the working directory's .autopilot/config.yaml.
func loadConfiguration(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadConfig(path)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
