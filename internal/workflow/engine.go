// Package workflow implements the durable, multi-phase workflow engine: a
// runner that executes an AgentWorkflow's phases in order, retries each
// phase with backoff up to its own limit, enforces an optional per-phase
// timeout, honors depends_on ordering, and checkpoints progress to disk
// after every attempt so a crashed process can resume where it left off.
//
// Grounded on the Rust runtime/background_agent/workflow.rs algorithm
// (phase retry loop, dependency check, input-template substitution,
// checkpoint-then-propagate-error ordering) and written in the
// config-with-defaults, *slog.Logger-field idiom internal/tasks uses.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/restflow/restflow/pkg/models"
)

// PhaseRunner executes a single workflow phase given its rendered input and
// returns the phase's text output.
type PhaseRunner interface {
	RunPhase(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string) (string, error)
}

// PhaseRunnerFunc adapts a plain function to PhaseRunner.
type PhaseRunnerFunc func(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string) (string, error)

func (f PhaseRunnerFunc) RunPhase(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string) (string, error) {
	return f(ctx, workflowID, phase, input)
}

// EngineConfig configures a workflow Engine.
type EngineConfig struct {
	// CheckpointDir is the base directory under which per-task checkpoint
	// subdirectories are created: <CheckpointDir>/<task_id>/phase_<idx>_attempt_<n>.json.
	CheckpointDir string
	Logger        *slog.Logger
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{CheckpointDir: "./data/workflow-checkpoints"}
}

// Engine drives AgentWorkflow execution for a single task.
type Engine struct {
	runner     PhaseRunner
	checkpoint *CheckpointStore
	logger     *slog.Logger
}

// NewEngine builds an Engine backed by runner, persisting checkpoints under
// cfg.CheckpointDir.
func NewEngine(runner PhaseRunner, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "workflow-engine")
	}
	dir := cfg.CheckpointDir
	if dir == "" {
		dir = DefaultEngineConfig().CheckpointDir
	}
	return &Engine{
		runner:     runner,
		checkpoint: NewCheckpointStore(dir),
		logger:     logger,
	}
}

// ErrDependencyNotSatisfied is returned when a phase's depends_on index is
// invalid (>= the phase's own index) or has not yet produced an output.
var ErrDependencyNotSatisfied = errors.New("workflow: dependency not satisfied")

// Execute runs workflow.Phases[workflow.CurrentPhase:] to completion,
// mutating workflow in place as phases complete. taskID scopes the
// checkpoint directory; context supplies the ambient template values for
// render_phase_input.
//
// On success, workflow.Status becomes Completed and every phase index has
// an entry in workflow.PhaseOutputs. On a phase's terminal failure,
// workflow.Status becomes PhaseFailed{idx, err}, a failure checkpoint is
// written before the error is returned (best-effort: the original error
// always wins over a checkpoint-write failure), and the error propagates
// to the caller.
func (e *Engine) Execute(ctx context.Context, taskID string, workflow *models.AgentWorkflow, context map[string]string) error {
	workflow.Status = models.WorkflowStatusRunning
	if workflow.PhaseOutputs == nil {
		workflow.PhaseOutputs = make(map[int]string)
	}

	for idx := workflow.CurrentPhase; idx < len(workflow.Phases); idx++ {
		phase := workflow.Phases[idx]

		if err := ensureDependencies(idx, phase, workflow); err != nil {
			return e.failPhase(taskID, workflow, idx, err)
		}

		input := RenderPhaseInput(phase, workflow, context)

		output, attempt, err := e.executePhaseWithRetry(ctx, workflow.ID, phase, input)
		if err != nil {
			return e.failPhase(taskID, workflow, idx, err)
		}

		workflow.PhaseOutputs[idx] = output
		workflow.CurrentPhase = idx + 1

		cp := models.WorkflowCheckpoint{
			WorkflowID:   workflow.ID,
			PhaseIdx:     idx,
			Attempt:      attempt,
			PhaseOutputs: copyPhaseOutputs(workflow.PhaseOutputs),
			CreatedAtMs:  models.NowMs(),
			Status:       "ok",
		}
		if err := e.checkpoint.Save(taskID, cp); err != nil {
			e.logger.Warn("workflow: checkpoint write failed", "task_id", taskID, "phase_idx", idx, "error", err)
		}
	}

	workflow.Status = models.WorkflowStatusCompleted
	return nil
}

// failPhase sets the workflow's terminal failure state, persists a
// best-effort failure checkpoint (the original error always propagates
// even if this write fails), and returns the original error.
func (e *Engine) failPhase(taskID string, workflow *models.AgentWorkflow, idx int, cause error) error {
	workflow.Status = models.WorkflowStatusPhaseFailed
	workflow.Failure = &models.PhaseFailure{PhaseIdx: idx, Error: cause.Error()}

	cp := models.WorkflowCheckpoint{
		WorkflowID:   workflow.ID,
		PhaseIdx:     idx,
		Attempt:      0,
		PhaseOutputs: copyPhaseOutputs(workflow.PhaseOutputs),
		CreatedAtMs:  models.NowMs(),
		Status:       "failed",
		Error:        cause.Error(),
	}
	if err := e.checkpoint.Save(taskID, cp); err != nil {
		e.logger.Warn("workflow: failure checkpoint write failed", "task_id", taskID, "phase_idx", idx, "error", err)
	}
	return cause
}

// executePhaseWithRetry runs phase.RetryConfig's attempt/backoff/timeout
// loop against a single phase, returning the winning output and the
// attempt number it succeeded on.
func (e *Engine) executePhaseWithRetry(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string) (string, int, error) {
	retry := phase.RetryConfig
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := clampBackoff(retry.InitialBackoffMs, retry.MaxBackoffMs)

	var timeout time.Duration
	hasTimeout := phase.TimeoutSecs != nil
	if hasTimeout {
		timeout = time.Duration(*phase.TimeoutSecs) * time.Second
	}

	attempt := 0
	for {
		attempt++

		output, err := e.runOnce(ctx, workflowID, phase, input, hasTimeout, timeout)
		if err == nil {
			return output, attempt, nil
		}

		var timedOut *phaseTimeoutError
		if errors.As(err, &timedOut) {
			if attempt >= maxAttempts {
				return "", attempt, fmt.Errorf("phase '%s' timed out after %ds", phase.Name, int64(timeout.Seconds()))
			}
		} else {
			if isNonRetryable(err, retry.NonRetryableErrors) {
				return "", attempt, err
			}
			if attempt >= maxAttempts {
				return "", attempt, err
			}
		}

		select {
		case <-time.After(time.Duration(backoff) * time.Millisecond):
		case <-ctx.Done():
			return "", attempt, ctx.Err()
		}
		backoff = clampBackoff(int64(float64(backoff)*retry.BackoffMultiplier), retry.MaxBackoffMs)
	}
}

type phaseTimeoutError struct{ phase string }

func (e *phaseTimeoutError) Error() string { return fmt.Sprintf("phase %q timed out", e.phase) }

// runOnce invokes the phase runner once, racing it against timeout when
// hasTimeout is set.
func (e *Engine) runOnce(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string, hasTimeout bool, timeout time.Duration) (string, error) {
	if !hasTimeout {
		return e.runner.RunPhase(ctx, workflowID, phase, input)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.runner.RunPhase(runCtx, workflowID, phase, input)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-runCtx.Done():
		return "", &phaseTimeoutError{phase: phase.Name}
	}
}

func isNonRetryable(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// clampBackoff bounds v to [1, max]; a non-positive max is treated as 1.
func clampBackoff(v, max int64) int64 {
	if max < 1 {
		max = 1
	}
	if v < 1 {
		v = 1
	}
	if v > max {
		v = max
	}
	return v
}

// ensureDependencies verifies every dep in phase.DependsOn is strictly
// less than idx and has already produced an output in workflow.PhaseOutputs.
func ensureDependencies(idx int, phase models.WorkflowPhase, workflow *models.AgentWorkflow) error {
	for _, dep := range phase.DependsOn {
		if dep >= idx {
			return fmt.Errorf("%w: phase %d depends on %d, which is not strictly before it", ErrDependencyNotSatisfied, idx, dep)
		}
		if _, ok := workflow.PhaseOutputs[dep]; !ok {
			return fmt.Errorf("%w: phase %d depends on phase %d, which has not completed", ErrDependencyNotSatisfied, idx, dep)
		}
	}
	return nil
}

// RenderPhaseInput performs the two-pass text substitution spec describes:
// first every ambient context key `{{k}}`, then every completed phase's
// `{{phase_i_output}}`. Missing placeholders are left intact.
func RenderPhaseInput(phase models.WorkflowPhase, workflow *models.AgentWorkflow, context map[string]string) string {
	rendered := phase.InputTemplate

	for k, v := range context {
		rendered = strings.ReplaceAll(rendered, "{{"+k+"}}", v)
	}
	for idx, output := range workflow.PhaseOutputs {
		rendered = strings.ReplaceAll(rendered, fmt.Sprintf("{{phase_%d_output}}", idx), output)
	}
	return rendered
}

func copyPhaseOutputs(m map[int]string) map[int]string {
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ResumeFromLatestCheckpoint reads the newest checkpoint file in taskID's
// checkpoint directory and, if its WorkflowID matches workflow.ID, restores
// PhaseOutputs, sets CurrentPhase to the checkpointed phase's successor,
// and sets Status to Running. Returns false (with no mutation) if no
// checkpoint exists or it belongs to a different workflow.
func (e *Engine) ResumeFromLatestCheckpoint(taskID string, workflow *models.AgentWorkflow) (bool, error) {
	cp, ok, err := e.checkpoint.LoadLatest(taskID)
	if err != nil {
		return false, err
	}
	if !ok || cp.WorkflowID != workflow.ID {
		return false, nil
	}

	workflow.PhaseOutputs = copyPhaseOutputs(cp.PhaseOutputs)
	workflow.CurrentPhase = cp.PhaseIdx + 1
	workflow.Status = models.WorkflowStatusRunning
	return true, nil
}
