package models

import "time"

// AuthProvider identifies which LLM vendor an AuthProfile authenticates against.
type AuthProvider string

const (
	AuthProviderAnthropic  AuthProvider = "anthropic"
	AuthProviderClaudeCode AuthProvider = "claude_code"
	AuthProviderOpenAI     AuthProvider = "openai"
	AuthProviderOpenAICodex AuthProvider = "openai_codex"
	AuthProviderGoogle     AuthProvider = "google"
	AuthProviderOther      AuthProvider = "other"
)

// AuthSource identifies how an AuthProfile's credential was obtained.
type AuthSource string

const (
	AuthSourceClaudeCode AuthSource = "claude_code"
	AuthSourceCodexCLI   AuthSource = "codex_cli"
	AuthSourceKeychain   AuthSource = "keychain"
	AuthSourceEnvironment AuthSource = "environment"
	AuthSourceManual     AuthSource = "manual"
)

// AuthHealth is the current usability state of an AuthProfile.
type AuthHealth string

const (
	AuthHealthHealthy  AuthHealth = "healthy"
	AuthHealthCooldown AuthHealth = "cooldown"
	AuthHealthDisabled AuthHealth = "disabled"
	AuthHealthUnknown  AuthHealth = "unknown"
)

// CredentialRef is an opaque reference to a secret held by external secret
// storage. RestFlow's auth manager never stores plaintext credentials in
// its own tables.
type CredentialRef struct {
	Ref       string     `json:"ref"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the referenced credential has a known expiry in
// the past.
func (c CredentialRef) Expired() bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(time.Now())
}

// AuthProfile is a single selectable credential for an LLM provider.
type AuthProfile struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Provider      AuthProvider  `json:"provider"`
	Credential    CredentialRef `json:"credential"`
	Source        AuthSource    `json:"source"`
	Health        AuthHealth    `json:"health"`
	Enabled       bool          `json:"enabled"`
	Priority      int           `json:"priority"` // lower = preferred
	FailureCount  int           `json:"failure_count"`
	CooldownUntil *time.Time    `json:"cooldown_until,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	LastUsedAt    *time.Time    `json:"last_used_at,omitempty"`
	LastFailedAt  *time.Time    `json:"last_failed_at,omitempty"`
}

// Available implements the spec's availability predicate:
// enabled AND NOT credential.expired AND (cooldown_until is none OR cooldown_until <= now).
func (p *AuthProfile) Available(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.Credential.Expired() {
		return false
	}
	if p.CooldownUntil != nil && p.CooldownUntil.After(now) {
		return false
	}
	return true
}

// AgentTaskStatus is the lifecycle state of an AgentTask.
type AgentTaskStatus string

const (
	AgentTaskActive    AgentTaskStatus = "active"
	AgentTaskPaused    AgentTaskStatus = "paused"
	AgentTaskRunning   AgentTaskStatus = "running"
	AgentTaskCompleted AgentTaskStatus = "completed"
	AgentTaskFailed    AgentTaskStatus = "failed"
)

// ExecutionMode selects how an AgentTask is invoked.
type ExecutionMode struct {
	Kind    string `json:"kind"` // "api" | "cli"
	Command string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// NotificationConfig controls whether a task execution's outcome is
// announced, per spec §4.5.
type NotificationConfig struct {
	TelegramEnabled     bool `json:"telegram_enabled"`
	NotifyOnFailureOnly bool `json:"notify_on_failure_only"`
}

// AgentTask is a scheduled unit of recurring agent work.
type AgentTask struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	AgentID       string              `json:"agent_id"`
	Schedule      string              `json:"schedule"`
	Status        AgentTaskStatus     `json:"status"`
	NextRunAt     *time.Time          `json:"next_run_at,omitempty"`
	Notification  NotificationConfig  `json:"notification"`
	ExecutionMode ExecutionMode       `json:"execution_mode"`
	Input         string              `json:"input,omitempty"`
	SuccessCount  int                 `json:"success_count"`
	FailureCount  int                 `json:"failure_count"`
	LastError     string              `json:"last_error,omitempty"`
}
