package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/pkg/models"
)

// scriptedRunner replays queued responses per phase name and records calls.
type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string][]func() (string, error)
	calls     []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{responses: make(map[string][]func() (string, error))}
}

func (r *scriptedRunner) push(phase string, fn func() (string, error)) {
	r.responses[phase] = append(r.responses[phase], fn)
}

func (r *scriptedRunner) RunPhase(ctx context.Context, workflowID string, phase models.WorkflowPhase, input string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, phase.Name)
	queue := r.responses[phase.Name]
	var fn func() (string, error)
	if len(queue) > 0 {
		fn = queue[0]
		r.responses[phase.Name] = queue[1:]
	}
	r.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn()
}

func retryConfig(maxAttempts int, nonRetryable ...string) models.WorkflowRetryConfig {
	return models.WorkflowRetryConfig{
		MaxAttempts:        maxAttempts,
		InitialBackoffMs:   1,
		MaxBackoffMs:       5,
		BackoffMultiplier:  2,
		NonRetryableErrors: nonRetryable,
	}
}

func newTestEngine(t *testing.T, runner PhaseRunner) *Engine {
	t.Helper()
	dir := t.TempDir()
	return NewEngine(runner, EngineConfig{CheckpointDir: dir})
}

// S1: linear three-phase workflow.
func TestExecute_LinearThreePhases(t *testing.T) {
	runner := newScriptedRunner()
	runner.push("research", func() (string, error) { return "R", nil })
	runner.push("draft", func() (string, error) { return "D", nil })
	runner.push("review", func() (string, error) { return "V", nil })

	engine := newTestEngine(t, runner)
	wf := &models.AgentWorkflow{
		ID:     "wf-1",
		TaskID: "task-1",
		Phases: []models.WorkflowPhase{
			{Name: "research", InputTemplate: "Research {{topic}}", RetryConfig: retryConfig(1)},
			{Name: "draft", InputTemplate: "Draft {{phase_0_output}}", RetryConfig: retryConfig(1)},
			{Name: "review", InputTemplate: "Review {{phase_1_output}}", RetryConfig: retryConfig(1)},
		},
		PhaseOutputs: map[int]string{},
	}

	err := engine.Execute(context.Background(), "task-1", wf, map[string]string{"topic": "durable orchestration"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, 3, wf.CurrentPhase)
	assert.Equal(t, map[int]string{0: "R", 1: "D", 2: "V"}, wf.PhaseOutputs)
}

// S2: retry succeeds on the second attempt.
func TestExecute_RetrySucceeds(t *testing.T) {
	runner := newScriptedRunner()
	runner.push("solo", func() (string, error) { return "", errTemporary("temporary timeout") })
	runner.push("solo", func() (string, error) { return "ok", nil })

	engine := newTestEngine(t, runner)
	wf := &models.AgentWorkflow{
		ID: "wf-2", TaskID: "task-2",
		Phases:       []models.WorkflowPhase{{Name: "solo", RetryConfig: retryConfig(2)}},
		PhaseOutputs: map[int]string{},
	}

	err := engine.Execute(context.Background(), "task-2", wf, nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, wf.Status)
	assert.Len(t, runner.calls, 2)
}

// S3: a non-retryable error fails immediately and writes a failure checkpoint.
func TestExecute_NonRetryableClassification(t *testing.T) {
	runner := newScriptedRunner()
	runner.push("solo", func() (string, error) { return "", errTemporary("fatal config mismatch") })

	dir := t.TempDir()
	engine := NewEngine(runner, EngineConfig{CheckpointDir: dir})
	wf := &models.AgentWorkflow{
		ID: "wf-3", TaskID: "task-3",
		Phases:       []models.WorkflowPhase{{Name: "solo", RetryConfig: retryConfig(3, "fatal")}},
		PhaseOutputs: map[int]string{},
	}

	err := engine.Execute(context.Background(), "task-3", wf, nil)
	require.Error(t, err)
	assert.Len(t, runner.calls, 1)
	require.NotNil(t, wf.Failure)
	assert.Equal(t, 0, wf.Failure.PhaseIdx)
	assert.Contains(t, wf.Failure.Error, "fatal config mismatch")
	assert.Equal(t, models.WorkflowStatusPhaseFailed, wf.Status)

	requireFailureCheckpoint(t, dir, "task-3")
}

// S4: a phase that never returns within its timeout fails with a timeout message.
func TestExecute_PhaseTimeout(t *testing.T) {
	runner := newScriptedRunner()
	runner.push("slow", func() (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "too late", nil
	})

	dir := t.TempDir()
	engine := NewEngine(runner, EngineConfig{CheckpointDir: dir})
	timeout := int64(0) // effectively immediate timeout for a fast test
	wf := &models.AgentWorkflow{
		ID: "wf-4", TaskID: "task-4",
		Phases: []models.WorkflowPhase{{
			Name:        "slow",
			RetryConfig: retryConfig(1),
			TimeoutSecs: &timeout,
		}},
		PhaseOutputs: map[int]string{},
	}

	err := engine.Execute(context.Background(), "task-4", wf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after")
	assert.Equal(t, models.WorkflowStatusPhaseFailed, wf.Status)
}

// S5: resume restores phase outputs and advances current_phase.
func TestResumeFromLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	runner := newScriptedRunner()
	engine := NewEngine(runner, EngineConfig{CheckpointDir: dir})

	cp := models.WorkflowCheckpoint{
		WorkflowID:   "wf-5",
		PhaseIdx:     0,
		Attempt:      1,
		PhaseOutputs: map[int]string{0: "seed"},
		CreatedAtMs:  1,
		Status:       "ok",
	}
	require.NoError(t, engine.checkpoint.Save("task-5", cp))

	wf := &models.AgentWorkflow{ID: "wf-5", TaskID: "task-5", PhaseOutputs: map[int]string{}}
	ok, err := engine.ResumeFromLatestCheckpoint("task-5", wf)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, wf.CurrentPhase)
	assert.Equal(t, "seed", wf.PhaseOutputs[0])
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
}

func TestResumeFromLatestCheckpoint_NoCheckpoint(t *testing.T) {
	engine := newTestEngine(t, newScriptedRunner())
	wf := &models.AgentWorkflow{ID: "wf-6", TaskID: "task-6"}
	ok, err := engine.ResumeFromLatestCheckpoint("task-6", wf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureDependencies(t *testing.T) {
	wf := &models.AgentWorkflow{PhaseOutputs: map[int]string{0: "out"}}
	require.NoError(t, ensureDependencies(1, models.WorkflowPhase{DependsOn: []int{0}}, wf))
	assert.ErrorIs(t, ensureDependencies(1, models.WorkflowPhase{DependsOn: []int{1}}, wf), ErrDependencyNotSatisfied)
	assert.ErrorIs(t, ensureDependencies(2, models.WorkflowPhase{DependsOn: []int{1}}, wf), ErrDependencyNotSatisfied)
}

func TestRenderPhaseInput(t *testing.T) {
	wf := &models.AgentWorkflow{PhaseOutputs: map[int]string{0: "R"}}
	phase := models.WorkflowPhase{InputTemplate: "Draft {{phase_0_output}} about {{topic}}, keep {{missing}}"}
	got := RenderPhaseInput(phase, wf, map[string]string{"topic": "orchestration"})
	assert.Equal(t, "Draft R about orchestration, keep {{missing}}", got)
}

func requireFailureCheckpoint(t *testing.T, dir, taskID string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, taskID))
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var found bool
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, taskID, e.Name()))
		require.NoError(t, err)
		var cp map[string]any
		require.NoError(t, json.Unmarshal(data, &cp))
		if cp["status"] == "failed" {
			found = true
		}
	}
	assert.True(t, found, "expected a checkpoint file with status=failed")
}

type errTemporary string

func (e errTemporary) Error() string { return string(e) }
