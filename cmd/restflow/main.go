// Package main provides the CLI entry point for the RestFlow agent runtime.
//
// RestFlow drives durable AI-agent executions: a ReAct control loop against
// pluggable LLM providers (Anthropic, OpenAI), a context manager that prunes
// and compacts conversation history, a multi-phase workflow engine with
// crash-resumable checkpoints, an embedded memory store with hybrid
// full-text/vector search, a cron-driven task scheduler, a heartbeat health
// pulse, and an auth profile manager across credential sources.
//
// # Basic Usage
//
// Start the runtime:
//
//	restflow serve --config restflow.yaml
//
// Validate a configuration file without starting anything:
//
//	restflow config validate --config restflow.yaml
//
// # Environment Variables
//
//   - RESTFLOW_HOST, RESTFLOW_HTTP_PORT, RESTFLOW_DB_PATH: server/storage overrides
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/restflow/restflow/internal/auth"
	"github.com/restflow/restflow/internal/config"
	"github.com/restflow/restflow/internal/contextmgr"
	"github.com/restflow/restflow/internal/executor"
	"github.com/restflow/restflow/internal/heartbeat"
	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/memory"
	"github.com/restflow/restflow/internal/observability"
	"github.com/restflow/restflow/internal/tasks"
	"github.com/restflow/restflow/internal/workflow"
	"github.com/restflow/restflow/pkg/models"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "restflow",
		Short:        "RestFlow - durable AI agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildConfigCmd())
	return rootCmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and validate configuration"}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: db=%s llm_provider=%s tasks_enabled=%v heartbeat_enabled=%v\n",
				cfg.Database.Path, cfg.LLM.DefaultProvider, cfg.Tasks.Enabled, cfg.Heartbeat.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (defaults omitted when empty)")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RestFlow runtime: scheduler, heartbeat, and agent executor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (uses built-in defaults when empty)")
	return cmd
}

// loadConfig loads path if set, otherwise returns config.Default(). Mirrors
// the teacher's resolveConfigPath fallback, minus the multi-profile layer
// RestFlow has no use for.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// runtime bundles every long-lived component runServe constructs, so
// shutdown can tear them down in the right order.
type runtime struct {
	logger    *observability.Logger
	store     *kv.Store
	scheduler *tasks.Scheduler
	heartbeat *heartbeat.Runner
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slogger := slog.Default().With("component", "restflow")

	store, err := kv.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	authMgr, err := auth.NewManager(store, auth.ManagerConfig{
		CooldownBase: cfg.Auth.CooldownBase,
		MaxFailures:  cfg.Auth.MaxFailures,
	})
	if err != nil {
		return fmt.Errorf("init auth manager: %w", err)
	}
	if err := discoverConfiguredProfiles(authMgr, cfg); err != nil {
		return fmt.Errorf("discover auth profiles: %w", err)
	}

	provider, err := buildProvider(ctx, authMgr, cfg)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	memStore, err := memory.Open(store, cfg.Memory.TextIndexPath)
	if err != nil {
		return fmt.Errorf("init memory store: %w", err)
	}

	registry := executor.NewRegistry()
	registry.Register(memory.NewSearchTool(memStore, "default"))
	agentRunner := executor.NewRunner(executor.RunnerConfig{
		Provider:   provider,
		Registry:   registry,
		Summarizer: contextmgr.NewProviderSummarizer(provider),
		Logger:     slogger,
	})

	taskStore, err := tasks.NewStore(store)
	if err != nil {
		return fmt.Errorf("init task store: %w", err)
	}

	configFor := func(task models.AgentTask) (models.AgentConfig, string) {
		return models.AgentConfig{
			Goal:                task.Input,
			MaxIterations:       cfg.Executor.MaxIterations,
			ContextWindow:       cfg.Executor.ContextWindow,
			ToolTimeout:         cfg.Executor.ToolTimeout,
			MaxToolResultLength: cfg.Executor.MaxToolResultLength,
			MaxToolConcurrency:  cfg.Executor.MaxToolConcurrency,
			YoloMode:            cfg.Executor.YoloMode,
			StuckDetection: &models.StuckDetectionConfig{
				Enabled:   cfg.Executor.StuckDetection.Enabled,
				Threshold: cfg.Executor.StuckDetection.Threshold,
				Action:    cfg.Executor.StuckDetection.Action,
			},
			ResourceLimits: &models.ResourceLimits{
				MaxWallTime: cfg.Executor.ResourceLimits.MaxWallTime,
				MaxCostUSD:  cfg.Executor.ResourceLimits.MaxCostUSD,
			},
		}, ""
	}
	taskExecutor := tasks.NewRunnerExecutor(agentRunner, configFor)

	scheduler := tasks.NewScheduler(taskStore, taskExecutor, nil, tasks.SchedulerConfig{
		PollInterval:       cfg.Tasks.PollInterval,
		MaxConcurrentTasks: cfg.Tasks.MaxConcurrentTasks,
		TaskTimeout:        cfg.Tasks.TaskTimeout,
		Logger:             slogger.With("subcomponent", "scheduler"),
	})

	phaseRunner := workflow.NewAgentPhaseRunner(agentRunner, func(workflowID string, phase models.WorkflowPhase) (models.AgentConfig, string) {
		return models.AgentConfig{
			MaxIterations:       cfg.Executor.MaxIterations,
			ContextWindow:       cfg.Executor.ContextWindow,
			ToolTimeout:         cfg.Executor.ToolTimeout,
			MaxToolResultLength: cfg.Executor.MaxToolResultLength,
			MaxToolConcurrency:  cfg.Executor.MaxToolConcurrency,
			YoloMode:            cfg.Executor.YoloMode,
		}, phase.Description
	})
	workflowEngine := workflow.NewEngine(phaseRunner, workflow.EngineConfig{
		CheckpointDir: cfg.Workflow.CheckpointDir,
		Logger:        slogger.With("subcomponent", "workflow-engine"),
	})
	_ = workflowEngine // held for RunWorkflow calls issued by task/workflow dispatch, wired once a workflow trigger surface exists

	hbStats := heartbeat.NewSchedulerStats(ctx, scheduler, slogger.With("subcomponent", "heartbeat"))
	hb := heartbeat.NewRunner(heartbeat.Config{
		Interval:            cfg.Heartbeat.Interval,
		MaxMissedHeartbeats: cfg.Heartbeat.MaxMissedHeartbeats,
	}, hbStats, func(p heartbeat.Pulse) {
		slogger.Debug("heartbeat pulse", "sequence", p.Sequence, "active_tasks", p.ActiveTasks, "pending_tasks", p.PendingTasks)
	}, func(w heartbeat.Warning) {
		slogger.Warn("heartbeat missed", "code", w.Code, "missed", w.Missed)
	}, func(s heartbeat.StatusEvent) {
		slogger.Info("heartbeat status", "status", s.Status)
	})

	rt := &runtime{logger: logger, store: store, scheduler: scheduler, heartbeat: hb}

	if cfg.Tasks.Enabled {
		scheduler.Start(ctx)
	}
	hb.Start()
	rt.logger.Info(ctx, "restflow runtime started", "db", cfg.Database.Path, "llm_provider", cfg.LLM.DefaultProvider, "tasks_enabled", cfg.Tasks.Enabled)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	rt.logger.Info(ctx, "restflow runtime shutting down")
	return rt.shutdown(ctx)
}

func (rt *runtime) shutdown(ctx context.Context) error {
	rt.heartbeat.Stop()
	rt.scheduler.Stop()
	if err := rt.store.Close(); err != nil {
		rt.logger.Error(ctx, "storage close failed", "error", err)
		return err
	}
	return nil
}

// discoverConfiguredProfiles registers each configured LLM provider's API
// key as a manually-discovered auth profile, so selection always goes
// through the Auth Profile Manager's health/priority/cooldown logic rather
// than reading a static key straight out of Config.
func discoverConfiguredProfiles(mgr *auth.Manager, cfg *config.Config) error {
	for name, entry := range cfg.LLM.Providers {
		if entry.APIKey == "" {
			continue
		}
		if _, err := mgr.Discover(models.AuthSourceManual, models.AuthProvider(name), name, "", models.CredentialRef{Ref: entry.APIKey}, 0); err != nil {
			return err
		}
	}
	return nil
}

// buildProvider selects an available auth profile for DefaultProvider and
// constructs the matching wire adapter around its credential.
func buildProvider(ctx context.Context, mgr *auth.Manager, cfg *config.Config) (llm.Provider, error) {
	provider := models.AuthProvider(cfg.LLM.DefaultProvider)
	profile, err := mgr.SelectProfile(ctx, provider, nil)
	if err != nil {
		return nil, fmt.Errorf("select auth profile for %q: %w", provider, err)
	}

	entry := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	switch cfg.LLM.DefaultProvider {
	case "openai":
		return llm.NewOpenAIProvider(profile.Credential.Ref, entry.DefaultModel), nil
	default:
		return llm.NewAnthropicProvider(profile.Credential.Ref, entry.DefaultModel), nil
	}
}
