// Package config loads and validates RestFlow's process-level configuration:
// the knobs every durable component (storage, executor, context manager,
// workflow engine, task scheduler, heartbeat, auth profile manager) needs
// at startup, read from a single YAML file with environment-variable
// expansion and override, matching the teacher's config-with-defaults
// loader idiom (gopkg.in/yaml.v3, os.ExpandEnv, then applyDefaults then
// validate) but scoped to RestFlow's actual components instead of the
// teacher's channel/workspace/plugin surface, which has no analog here.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is RestFlow's top-level configuration, one section per durable
// component's *Config struct (or the values needed to build one).
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	LLM            LLMConfig            `yaml:"llm"`
	Auth           AuthConfig           `yaml:"auth"`
	Executor       ExecutorConfig       `yaml:"executor"`
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
	Workflow       WorkflowConfig       `yaml:"workflow"`
	Tasks          TasksConfig          `yaml:"tasks"`
	Heartbeat      HeartbeatConfig      `yaml:"heartbeat"`
	Memory         MemoryConfig         `yaml:"memory"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig configures the process's own listeners: a health/metrics
// endpoint for the heartbeat and scheduler, per spec §4.6's "client" that
// polls Pulse/sends Ack. Transport protocols beyond this are out of scope
// (spec §1): RestFlow exposes health, not a gateway.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig points at the embedded bbolt file backing every durable
// component (internal/kv.Open).
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects and configures the wire adapters (internal/llm).
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	// FallbackChain lists provider ids to try, in order, if the default
	// provider's profile is unavailable (auth cooldown/disabled).
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures a single wire adapter construction.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// AuthConfig configures the Auth Profile Manager (internal/auth).
type AuthConfig struct {
	// CooldownBase is mark_failure's base duration in base*2^min(count-1,5).
	CooldownBase time.Duration `yaml:"cooldown_base"`
	// MaxFailures is the consecutive-failure count after which a profile is
	// disabled permanently.
	MaxFailures int `yaml:"max_failures"`
	// DiscoverySources lists the credential sources to scan, in priority
	// order: "claude_code", "codex_cli", "keychain", "environment", "manual".
	DiscoverySources []string `yaml:"discovery_sources"`
}

// ExecutorConfig supplies the default AgentConfig knobs (spec §3) a run
// uses unless a caller overrides them, plus the tool fan-out width.
type ExecutorConfig struct {
	MaxIterations       int           `yaml:"max_iterations"`
	ContextWindow       int           `yaml:"context_window"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	MaxToolResultLength int           `yaml:"max_tool_result_length"`
	MaxToolConcurrency  int           `yaml:"max_tool_concurrency"`
	YoloMode            bool          `yaml:"yolo_mode"`

	StuckDetection StuckDetectionConfig `yaml:"stuck_detection"`
	ResourceLimits ResourceLimitsConfig `yaml:"resource_limits"`
	Router         RouterConfig         `yaml:"router"`
}

// StuckDetectionConfig mirrors models.StuckDetectionConfig as YAML-loadable.
type StuckDetectionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Threshold int    `yaml:"threshold"`
	Action    string `yaml:"action"`
}

// ResourceLimitsConfig mirrors models.ResourceLimits as YAML-loadable.
type ResourceLimitsConfig struct {
	MaxWallTime time.Duration `yaml:"max_wall_time"`
	MaxCostUSD  float64       `yaml:"max_cost_usd"`
}

// RouterConfig configures optional per-iteration model routing
// (internal/executor.RouterConfig).
type RouterConfig struct {
	Enabled           bool              `yaml:"enabled"`
	Route             map[string]string `yaml:"route"`
	EscalateOnFailure bool              `yaml:"escalate_on_failure"`
	HeavyToolNames    []string          `yaml:"heavy_tool_names"`
}

// ContextPruningConfig configures the Context Manager's prune and compact
// stages (internal/contextmgr).
type ContextPruningConfig struct {
	ProtectedUserTurns  int     `yaml:"protected_user_turns"`
	ToolResultMaxBytes  int     `yaml:"tool_result_max_bytes"`
	CompactTriggerRatio float64 `yaml:"compact_trigger_ratio"`
	CompactPreserveTail int     `yaml:"compact_preserve_tail_tokens"`
	CompactEffectiveMin float64 `yaml:"compact_effective_min_ratio"`
	CompactCooldownIter int     `yaml:"compact_cooldown_iterations"`
}

// WorkflowConfig configures the Durable Workflow Engine
// (internal/workflow).
type WorkflowConfig struct {
	CheckpointDir string `yaml:"checkpoint_dir"`
}

// TasksConfig configures the Task Scheduler (internal/tasks).
type TasksConfig struct {
	Enabled            bool          `yaml:"enabled"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `yaml:"task_timeout"`
}

// HeartbeatConfig configures the heartbeat pulse/ack loop
// (internal/heartbeat).
type HeartbeatConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	MaxMissedHeartbeats int          `yaml:"max_missed_heartbeats"`
}

// MemoryConfig configures the Memory Store (internal/memory).
type MemoryConfig struct {
	TextIndexPath   string `yaml:"text_index_path"`
	VectorEnabled   bool   `yaml:"vector_enabled"`
	EmbeddingDim    int    `yaml:"embedding_dim"`
}

// LoggingConfig configures internal/observability's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigValidationError collects every validation failure so operators see
// the full list in one pass rather than fixing issues one error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads, expands, decodes, defaults, and validates the config file at
// path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must be a single YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully defaulted, valid Config with no file backing it,
// the shape tests and `restflow init`-style bootstraps start from.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/restflow.db"
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}

	if cfg.Auth.CooldownBase == 0 {
		cfg.Auth.CooldownBase = 30 * time.Second
	}
	if cfg.Auth.MaxFailures == 0 {
		cfg.Auth.MaxFailures = 6
	}
	if len(cfg.Auth.DiscoverySources) == 0 {
		cfg.Auth.DiscoverySources = []string{"claude_code", "codex_cli", "keychain", "environment"}
	}

	if cfg.Executor.MaxIterations == 0 {
		cfg.Executor.MaxIterations = 50
	}
	if cfg.Executor.ContextWindow == 0 {
		cfg.Executor.ContextWindow = 200_000
	}
	if cfg.Executor.ToolTimeout == 0 {
		cfg.Executor.ToolTimeout = 30 * time.Second
	}
	if cfg.Executor.MaxToolResultLength == 0 {
		cfg.Executor.MaxToolResultLength = 4000
	}
	if cfg.Executor.MaxToolConcurrency == 0 {
		cfg.Executor.MaxToolConcurrency = 4
	}
	if cfg.Executor.StuckDetection.Threshold == 0 {
		cfg.Executor.StuckDetection.Threshold = 3
	}
	if cfg.Executor.StuckDetection.Action == "" {
		cfg.Executor.StuckDetection.Action = "nudge"
	}

	if cfg.ContextPruning.ProtectedUserTurns == 0 {
		cfg.ContextPruning.ProtectedUserTurns = 2
	}
	if cfg.ContextPruning.ToolResultMaxBytes == 0 {
		cfg.ContextPruning.ToolResultMaxBytes = 4000
	}
	if cfg.ContextPruning.CompactTriggerRatio == 0 {
		cfg.ContextPruning.CompactTriggerRatio = 0.8
	}
	if cfg.ContextPruning.CompactPreserveTail == 0 {
		cfg.ContextPruning.CompactPreserveTail = 2000
	}
	if cfg.ContextPruning.CompactEffectiveMin == 0 {
		cfg.ContextPruning.CompactEffectiveMin = 0.7
	}
	if cfg.ContextPruning.CompactCooldownIter == 0 {
		cfg.ContextPruning.CompactCooldownIter = 3
	}

	if cfg.Workflow.CheckpointDir == "" {
		cfg.Workflow.CheckpointDir = "./data/workflow-checkpoints"
	}

	if cfg.Tasks.PollInterval == 0 {
		cfg.Tasks.PollInterval = 10 * time.Second
	}
	if cfg.Tasks.MaxConcurrentTasks == 0 {
		cfg.Tasks.MaxConcurrentTasks = 5
	}
	if cfg.Tasks.TaskTimeout == 0 {
		cfg.Tasks.TaskTimeout = 5 * time.Minute
	}

	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 5 * time.Second
	}
	if cfg.Heartbeat.MaxMissedHeartbeats == 0 {
		cfg.Heartbeat.MaxMissedHeartbeats = 3
	}

	if cfg.Memory.TextIndexPath == "" {
		cfg.Memory.TextIndexPath = "./data/memory-index.bleve"
	}
	if cfg.Memory.EmbeddingDim == 0 {
		cfg.Memory.EmbeddingDim = 1536
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RESTFLOW_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("RESTFLOW_HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("RESTFLOW_DB_PATH")); v != "" {
		cfg.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		setProviderKey(cfg, "openai", v)
	}
}

func setProviderKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]LLMProviderConfig)
	}
	entry := cfg.LLM.Providers[provider]
	if entry.APIKey == "" {
		entry.APIKey = key
		cfg.LLM.Providers[provider] = entry
	}
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 0 and 65535")
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		issues = append(issues, "database.path must be set")
	}

	if provider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider)); provider != "" {
		if _, ok := cfg.LLM.Providers[provider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Auth.MaxFailures < 0 {
		issues = append(issues, "auth.max_failures must be >= 0")
	}
	for _, source := range cfg.Auth.DiscoverySources {
		if !validDiscoverySource(source) {
			issues = append(issues, fmt.Sprintf("auth.discovery_sources entry %q is not a recognized source", source))
		}
	}

	if cfg.Executor.MaxIterations <= 0 {
		issues = append(issues, "executor.max_iterations must be > 0")
	}
	if cfg.Executor.MaxToolConcurrency <= 0 {
		issues = append(issues, "executor.max_tool_concurrency must be > 0")
	}
	if cfg.Executor.StuckDetection.Action != "" && cfg.Executor.StuckDetection.Action != "nudge" && cfg.Executor.StuckDetection.Action != "stop" {
		issues = append(issues, "executor.stuck_detection.action must be \"nudge\" or \"stop\"")
	}

	if cfg.ContextPruning.CompactTriggerRatio <= 0 || cfg.ContextPruning.CompactTriggerRatio > 1 {
		issues = append(issues, "context_pruning.compact_trigger_ratio must be in (0, 1]")
	}

	if cfg.Tasks.MaxConcurrentTasks <= 0 {
		issues = append(issues, "tasks.max_concurrent_tasks must be > 0")
	}

	if cfg.Heartbeat.MaxMissedHeartbeats <= 0 {
		issues = append(issues, "heartbeat.max_missed_heartbeats must be > 0")
	}

	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, "logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validDiscoverySource(source string) bool {
	switch source {
	case "claude_code", "codex_cli", "keychain", "environment", "manual":
		return true
	default:
		return false
	}
}

func validLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
