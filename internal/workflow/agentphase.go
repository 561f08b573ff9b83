package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/restflow/restflow/internal/executor"
	"github.com/restflow/restflow/pkg/models"
)

// AgentPhaseRunner implements PhaseRunner by running input as the goal of a
// fresh, single-turn agent execution (internal/executor.Runner). This is
// the workflow engine's default phase backend: each phase is its own agent
// run rather than a raw tool call, matching spec §4.3's description of a
// workflow phase as "one agent invocation per phase."
type AgentPhaseRunner struct {
	runner    *executor.Runner
	configFor func(workflowID string, phase models.WorkflowPhase) (models.AgentConfig, string)
}

// NewAgentPhaseRunner builds an AgentPhaseRunner. configFor supplies the
// per-phase AgentConfig and system prompt; runner executes it.
func NewAgentPhaseRunner(runner *executor.Runner, configFor func(workflowID string, phase models.WorkflowPhase) (models.AgentConfig, string)) *AgentPhaseRunner {
	return &AgentPhaseRunner{runner: runner, configFor: configFor}
}

// RunPhase runs input as the phase's goal and returns the last assistant
// message's text content.
func (a *AgentPhaseRunner) RunPhase(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string) (string, error) {
	cfg, systemPrompt := a.configFor(workflowID, phase)
	cfg.Goal = input

	result := a.runner.Run(ctx, nil, cfg, systemPrompt)
	if !result.Success {
		if result.Error != "" {
			return "", fmt.Errorf("phase %q: %s", phase.Name, result.Error)
		}
		return "", fmt.Errorf("phase %q: run did not complete successfully", phase.Name)
	}
	return lastAssistantText(result.State.Messages)
}

func lastAssistantText(messages []models.Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content, nil
		}
	}
	return "", errors.New("workflow: agent run produced no assistant text")
}
