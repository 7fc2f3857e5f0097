package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/audit"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/orchestrator"
)

// eventFile is the on-disk JSON shape of one inbound event. An embedded
// context section lets headless runs carry pre-resolved context; without it
// the loop starts from the raw payload and the planner will ask for more.
type eventFile struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	EventType   string                 `json:"event_type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Payload     map[string]interface{} `json:"payload"`
	Context     *contextFile           `json:"context,omitempty"`
}

type contextFile struct {
	ContextType         string                 `json:"context_type"`
	PrimaryObject       map[string]interface{} `json:"primary_object"`
	ComplexityScore     float64                `json:"complexity_score"`
	ContextCompleteness float64                `json:"context_completeness"`
	UrgencyIndicators   []string               `json:"urgency_indicators"`
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <event-file>...",
		Short: "Run closed loops for one or more event files",
		Long: `Run one closed loop per event file: resolve context, plan, gate on
approval, execute, verify and report.

Each event file is a JSON document with id, source, event_type, title and
an optional payload. An embedded "context" object supplies pre-resolved
context for headless runs.

Examples:
  # Supervised run (every plan waits for approval)
  autopilot run event.json

  # Autonomous run (approval only for dangerous plans)
  autopilot run --mode autonomous event.json

  # Semi-autonomous run (graded approval policy)
  autopilot run --mode semi_autonomous event.json

  # Multiple events, custom config
  autopilot run --config custom.yaml events/*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.Flags().String("mode", string(models.ModeSupervised), "Orchestration mode: autonomous, semi_autonomous or supervised")
	cmd.Flags().String("user", "", "User recorded on the audit trail (default: current OS user)")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information")

	return cmd
}

// currentUser resolves the OS user for audit attribution.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// fileResolver serves the contexts embedded in event files and falls back to
// the raw-payload resolver for events without one.
type fileResolver struct {
	contexts map[string]*models.ResolvedContext
	fallback orchestrator.ContextResolver
}

func (r *fileResolver) Resolve(ctx context.Context, event *models.ProcessedEvent) (*models.ResolvedContext, error) {
	if rc, ok := r.contexts[event.ID]; ok {
		return rc, nil
	}
	return r.fallback.Resolve(ctx, event)
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logger.NewConsoleLogger(os.Stdout, level)

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode := models.ParseOrchestrationMode(modeFlag)

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = currentUser()
	}

	events, resolver, err := loadEvents(args)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{orchestrator.WithResolver(resolver)}
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		opts = append(opts, orchestrator.WithAudit(store))
	}

	orch := orchestrator.New(cfg, log, opts...)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	}()

	failed := 0
	for _, event := range events {
		loop, err := orch.ExecuteClosedLoop(cmd.Context(), event, mode, userID)
		if err != nil {
			return err
		}
		if loop.FinalStatus != models.FinalSuccess {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d loops did not succeed", failed, len(events))
	}
	return nil
}

// loadEvents parses the event files and collects any embedded contexts into
// a resolver.
func loadEvents(paths []string) ([]*models.ProcessedEvent, orchestrator.ContextResolver, error) {
	resolver := &fileResolver{
		contexts: make(map[string]*models.ResolvedContext),
		fallback: orchestrator.NoopResolver{},
	}

	var events []*models.ProcessedEvent
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read event file %s: %w", path, err)
		}
		var ef eventFile
		if err := json.Unmarshal(data, &ef); err != nil {
			return nil, nil, fmt.Errorf("parse event file %s: %w", path, err)
		}
		if ef.ID == "" {
			return nil, nil, fmt.Errorf("event file %s has no id", path)
		}

		events = append(events, &models.ProcessedEvent{
			ID:          ef.ID,
			Source:      ef.Source,
			EventType:   ef.EventType,
			Title:       ef.Title,
			Description: ef.Description,
			Payload:     ef.Payload,
			ReceivedAt:  time.Now(),
		})

		if ef.Context != nil {
			resolver.contexts[ef.ID] = &models.ResolvedContext{
				ContextType:         models.ContextType(ef.Context.ContextType),
				PrimaryObject:       ef.Context.PrimaryObject,
				ComplexityScore:     ef.Context.ComplexityScore,
				ContextCompleteness: ef.Context.ContextCompleteness,
				UrgencyIndicators:   ef.Context.UrgencyIndicators,
				ResolvedAt:          time.Now(),
			}
		}
	}
	return events, resolver, nil
}
