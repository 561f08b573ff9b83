package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/restflow/restflow/internal/executor"
	"github.com/restflow/restflow/pkg/models"
)

// Executor runs a single AgentTask to completion and returns its output.
type Executor interface {
	Execute(ctx context.Context, task models.AgentTask) (output string, err error)
}

// AgentConfigFor resolves the AgentConfig and system prompt an agent-mode
// task should run with. Supplied by the caller wiring the scheduler, since
// that is where per-agent model/prompt policy lives.
type AgentConfigFor func(task models.AgentTask) (models.AgentConfig, string)

// RunnerExecutor executes api-mode tasks through the Agent Executor and
// cli-mode tasks as a direct subprocess, matching the two execution_mode
// variants in AgentTask.
type RunnerExecutor struct {
	runner    *executor.Runner
	configFor AgentConfigFor
}

// NewRunnerExecutor builds a RunnerExecutor. configFor must not be nil for
// any task that uses ExecutionMode.Kind == "api".
func NewRunnerExecutor(runner *executor.Runner, configFor AgentConfigFor) *RunnerExecutor {
	return &RunnerExecutor{runner: runner, configFor: configFor}
}

// Execute dispatches task.ExecutionMode.Kind: "cli" runs Command/Args as a
// subprocess and captures combined output; anything else ("api" or unset)
// runs task.Input as the goal of a fresh agent execution.
func (e *RunnerExecutor) Execute(ctx context.Context, task models.AgentTask) (string, error) {
	switch task.ExecutionMode.Kind {
	case "cli":
		return e.executeCLI(ctx, task)
	default:
		return e.executeAgent(ctx, task)
	}
}

func (e *RunnerExecutor) executeAgent(ctx context.Context, task models.AgentTask) (string, error) {
	if e.configFor == nil {
		return "", fmt.Errorf("tasks: no agent config resolver configured for task %q", task.ID)
	}
	cfg, systemPrompt := e.configFor(task)
	if cfg.Goal == "" {
		cfg.Goal = task.Input
	}

	result := e.runner.Run(ctx, nil, cfg, systemPrompt)
	if !result.Success {
		if result.Error != "" {
			return result.State.FinalAnswer, fmt.Errorf("agent run ended in status %s: %s", result.State.Status, result.Error)
		}
		return result.State.FinalAnswer, fmt.Errorf("agent run ended in status %s", result.State.Status)
	}
	return result.State.FinalAnswer, nil
}

func (e *RunnerExecutor) executeCLI(ctx context.Context, task models.AgentTask) (string, error) {
	if task.ExecutionMode.Command == "" {
		return "", fmt.Errorf("tasks: cli task %q has no command configured", task.ID)
	}
	cmd := exec.CommandContext(ctx, task.ExecutionMode.Command, task.ExecutionMode.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("cli task %q: %w", task.ID, err)
	}
	return out.String(), nil
}

// NoOpExecutor is a no-operation executor for tests.
type NoOpExecutor struct {
	Response string
	Err      error
	Delay    time.Duration
}

func (e *NoOpExecutor) Execute(ctx context.Context, task models.AgentTask) (string, error) {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.Delay):
		}
	}
	return e.Response, e.Err
}

// CallbackExecutor wraps a function as an Executor, for tests.
type CallbackExecutor struct {
	Fn func(ctx context.Context, task models.AgentTask) (string, error)
}

func (e *CallbackExecutor) Execute(ctx context.Context, task models.AgentTask) (string, error) {
	if e.Fn == nil {
		return "", fmt.Errorf("tasks: callback executor has no function configured")
	}
	return e.Fn(ctx, task)
}
