package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AuditConfig configures the sqlite audit trail.
type AuditConfig struct {
	// Enabled turns audit recording on.
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the audit database.
	DBPath string `yaml:"db_path"`
}

// ApprovalConfig configures when and how loops block on human approval.
type ApprovalConfig struct {
	// Timeout is how long a loop waits for an approval decision.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is how often the approval inbox is scanned while waiting.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ConfidenceFloor gates approval on plans whose overall confidence is
	// below this value.
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// RequireForDestructive gates approval when any action is destructive.
	RequireForDestructive bool `yaml:"require_for_destructive"`

	// RequireForExternalWrites gates approval when any action writes to an
	// external system.
	RequireForExternalWrites bool `yaml:"require_for_external_writes"`

	// InboxDir is where cross-process approval decisions are dropped.
	InboxDir string `yaml:"inbox_dir"`
}

// Config holds autopilot configuration options.
type Config struct {
	// AssistantHandle is the username the assistant acts as in external
	// systems (issue assignee, PR author, chat handle).
	AssistantHandle string `yaml:"assistant_handle"`

	// MaxConcurrentLoops bounds how many closed loops run at once.
	MaxConcurrentLoops int `yaml:"max_concurrent_loops"`

	// MaxSimultaneousActions caps how many primary actions a plan may carry.
	MaxSimultaneousActions int `yaml:"max_simultaneous_actions"`

	// MaxParallelActions bounds parallel execution of independent actions.
	MaxParallelActions int `yaml:"max_parallel_actions"`

	// MaxParallelChecks bounds parallel verification checks per result.
	MaxParallelChecks int `yaml:"max_parallel_checks"`

	// DefaultMaxRetries is the retry budget for actions that don't set one.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// DefaultActionTimeout is the per-attempt budget for actions that don't
	// set one.
	DefaultActionTimeout time.Duration `yaml:"default_action_timeout"`

	// CheckTimeout is the per-check budget during verification.
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// ResolveTimeout bounds the context resolution phase.
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`

	// PlanTimeout bounds the planning phase.
	PlanTimeout time.Duration `yaml:"plan_timeout"`

	// ExecuteTimeout bounds the execution phase of one loop.
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`

	// VerifyTimeout bounds the verification phase of one loop.
	VerifyTimeout time.Duration `yaml:"verify_timeout"`

	// ConfidenceThreshold is the global viability floor for planned actions.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// AllowDangerous overrides the default pre-execution safety check that
	// rejects DANGEROUS actions.
	AllowDangerous bool `yaml:"allow_dangerous"`

	// EscalateAfterFailures escalates a loop once its error count reaches
	// this threshold.
	EscalateAfterFailures int `yaml:"escalate_after_failures"`

	// MaxCompletedLoops bounds the completed-loop history; oldest entries
	// are evicted first.
	MaxCompletedLoops int `yaml:"max_completed_loops"`

	// LearningEnabled forwards outcomes to the learning collaborator.
	LearningEnabled bool `yaml:"learning_enabled"`

	// PlaybookDir holds optional markdown playbooks for the planner.
	PlaybookDir string `yaml:"playbook_dir"`

	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs are written.
	LogDir string `yaml:"log_dir"`

	// Approval configures the human approval gate.
	Approval ApprovalConfig `yaml:"approval"`

	// Audit configures the audit trail.
	Audit AuditConfig `yaml:"audit"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		AssistantHandle:        "navi",
		MaxConcurrentLoops:     10,
		MaxSimultaneousActions: 3,
		MaxParallelActions:     5,
		MaxParallelChecks:      5,
		DefaultMaxRetries:      2,
		DefaultActionTimeout:   60 * time.Minute,
		CheckTimeout:           30 * time.Second,
		ResolveTimeout:         2 * time.Minute,
		PlanTimeout:            time.Minute,
		ExecuteTimeout:         4 * time.Hour,
		VerifyTimeout:          10 * time.Minute,
		ConfidenceThreshold:    0.7,
		AllowDangerous:         false,
		EscalateAfterFailures:  3,
		MaxCompletedLoops:      100,
		LearningEnabled:        true,
		PlaybookDir:            ".autopilot/playbooks",
		LogLevel:               "info",
		LogDir:                 ".autopilot/logs",
		Approval: ApprovalConfig{
			Timeout:                  30 * time.Minute,
			PollInterval:             5 * time.Second,
			ConfidenceFloor:          0.8,
			RequireForDestructive:    true,
			RequireForExternalWrites: true,
			InboxDir:                 ".autopilot/approvals",
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  ".autopilot/audit.db",
		},
	}
}

// yamlConfig mirrors Config with string durations for parsing.
type yamlConfig struct {
	AssistantHandle        string  `yaml:"assistant_handle"`
	MaxConcurrentLoops     int     `yaml:"max_concurrent_loops"`
	MaxSimultaneousActions int     `yaml:"max_simultaneous_actions"`
	MaxParallelActions     int     `yaml:"max_parallel_actions"`
	MaxParallelChecks      int     `yaml:"max_parallel_checks"`
	DefaultMaxRetries      *int    `yaml:"default_max_retries"`
	DefaultActionTimeout   string  `yaml:"default_action_timeout"`
	CheckTimeout           string  `yaml:"check_timeout"`
	ResolveTimeout         string  `yaml:"resolve_timeout"`
	PlanTimeout            string  `yaml:"plan_timeout"`
	ExecuteTimeout         string  `yaml:"execute_timeout"`
	VerifyTimeout          string  `yaml:"verify_timeout"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	AllowDangerous         bool    `yaml:"allow_dangerous"`
	EscalateAfterFailures  int     `yaml:"escalate_after_failures"`
	MaxCompletedLoops      int     `yaml:"max_completed_loops"`
	LearningEnabled        *bool   `yaml:"learning_enabled"`
	PlaybookDir            string  `yaml:"playbook_dir"`
	LogLevel               string  `yaml:"log_level"`
	LogDir                 string  `yaml:"log_dir"`
	Approval               struct {
		Timeout                  string   `yaml:"timeout"`
		PollInterval             string   `yaml:"poll_interval"`
		ConfidenceFloor          *float64 `yaml:"confidence_floor"`
		RequireForDestructive    *bool    `yaml:"require_for_destructive"`
		RequireForExternalWrites *bool    `yaml:"require_for_external_writes"`
		InboxDir                 string   `yaml:"inbox_dir"`
	} `yaml:"approval"`
	Audit struct {
		Enabled *bool  `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"audit"`
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.AssistantHandle != "" {
		cfg.AssistantHandle = yc.AssistantHandle
	}
	if yc.MaxConcurrentLoops != 0 {
		cfg.MaxConcurrentLoops = yc.MaxConcurrentLoops
	}
	if yc.MaxSimultaneousActions != 0 {
		cfg.MaxSimultaneousActions = yc.MaxSimultaneousActions
	}
	if yc.MaxParallelActions != 0 {
		cfg.MaxParallelActions = yc.MaxParallelActions
	}
	if yc.MaxParallelChecks != 0 {
		cfg.MaxParallelChecks = yc.MaxParallelChecks
	}
	if yc.DefaultMaxRetries != nil {
		cfg.DefaultMaxRetries = *yc.DefaultMaxRetries
	}
	if err := applyDuration(&cfg.DefaultActionTimeout, yc.DefaultActionTimeout, "default_action_timeout"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.CheckTimeout, yc.CheckTimeout, "check_timeout"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.ResolveTimeout, yc.ResolveTimeout, "resolve_timeout"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.PlanTimeout, yc.PlanTimeout, "plan_timeout"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.ExecuteTimeout, yc.ExecuteTimeout, "execute_timeout"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.VerifyTimeout, yc.VerifyTimeout, "verify_timeout"); err != nil {
		return nil, err
	}
	if yc.ConfidenceThreshold != 0 {
		cfg.ConfidenceThreshold = yc.ConfidenceThreshold
	}
	if yc.AllowDangerous {
		cfg.AllowDangerous = true
	}
	if yc.EscalateAfterFailures != 0 {
		cfg.EscalateAfterFailures = yc.EscalateAfterFailures
	}
	if yc.MaxCompletedLoops != 0 {
		cfg.MaxCompletedLoops = yc.MaxCompletedLoops
	}
	if yc.LearningEnabled != nil {
		cfg.LearningEnabled = *yc.LearningEnabled
	}
	if yc.PlaybookDir != "" {
		cfg.PlaybookDir = yc.PlaybookDir
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.LogDir != "" {
		cfg.LogDir = yc.LogDir
	}

	if err := applyDuration(&cfg.Approval.Timeout, yc.Approval.Timeout, "approval.timeout"); err != nil {
		return nil, err
	}
	if err := applyDuration(&cfg.Approval.PollInterval, yc.Approval.PollInterval, "approval.poll_interval"); err != nil {
		return nil, err
	}
	if yc.Approval.ConfidenceFloor != nil {
		cfg.Approval.ConfidenceFloor = *yc.Approval.ConfidenceFloor
	}
	if yc.Approval.RequireForDestructive != nil {
		cfg.Approval.RequireForDestructive = *yc.Approval.RequireForDestructive
	}
	if yc.Approval.RequireForExternalWrites != nil {
		cfg.Approval.RequireForExternalWrites = *yc.Approval.RequireForExternalWrites
	}
	if yc.Approval.InboxDir != "" {
		cfg.Approval.InboxDir = yc.Approval.InboxDir
	}

	if yc.Audit.Enabled != nil {
		cfg.Audit.Enabled = *yc.Audit.Enabled
	}
	if yc.Audit.DBPath != "" {
		cfg.Audit.DBPath = yc.Audit.DBPath
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .autopilot/config.yaml in the
// specified directory, falling back to defaults when absent.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".autopilot", "config.yaml"))
}

func applyDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if c.AssistantHandle == "" {
		return fmt.Errorf("assistant_handle cannot be empty")
	}
	if c.MaxConcurrentLoops <= 0 {
		return fmt.Errorf("max_concurrent_loops must be > 0, got %d", c.MaxConcurrentLoops)
	}
	if c.MaxSimultaneousActions <= 0 {
		return fmt.Errorf("max_simultaneous_actions must be > 0, got %d", c.MaxSimultaneousActions)
	}
	if c.MaxParallelActions <= 0 {
		return fmt.Errorf("max_parallel_actions must be > 0, got %d", c.MaxParallelActions)
	}
	if c.MaxParallelChecks <= 0 {
		return fmt.Errorf("max_parallel_checks must be > 0, got %d", c.MaxParallelChecks)
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("default_max_retries must be >= 0, got %d", c.DefaultMaxRetries)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.Approval.ConfidenceFloor < 0 || c.Approval.ConfidenceFloor > 1 {
		return fmt.Errorf("approval.confidence_floor must be in [0,1], got %v", c.Approval.ConfidenceFloor)
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("approval.timeout must be > 0, got %v", c.Approval.Timeout)
	}
	if c.Approval.PollInterval <= 0 {
		return fmt.Errorf("approval.poll_interval must be > 0, got %v", c.Approval.PollInterval)
	}
	if c.EscalateAfterFailures <= 0 {
		return fmt.Errorf("escalate_after_failures must be > 0, got %d", c.EscalateAfterFailures)
	}
	if c.MaxCompletedLoops <= 0 {
		return fmt.Errorf("max_completed_loops must be > 0, got %d", c.MaxCompletedLoops)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("audit.db_path cannot be empty when audit is enabled")
	}

	return nil
}
