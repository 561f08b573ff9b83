package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restflow/restflow/pkg/models"
)

func TestRunnerExecutor_CLIMode_CapturesOutput(t *testing.T) {
	exec := NewRunnerExecutor(nil, nil)
	task := models.AgentTask{
		ID:            "cli-task",
		ExecutionMode: models.ExecutionMode{Kind: "cli", Command: "echo", Args: []string{"hello"}},
	}
	out, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestRunnerExecutor_CLIMode_RequiresCommand(t *testing.T) {
	exec := NewRunnerExecutor(nil, nil)
	task := models.AgentTask{ID: "cli-task", ExecutionMode: models.ExecutionMode{Kind: "cli"}}
	_, err := exec.Execute(context.Background(), task)
	require.Error(t, err)
}

func TestRunnerExecutor_AgentMode_RequiresConfigResolver(t *testing.T) {
	exec := NewRunnerExecutor(nil, nil)
	task := models.AgentTask{ID: "agent-task", ExecutionMode: models.ExecutionMode{Kind: "api"}}
	_, err := exec.Execute(context.Background(), task)
	require.Error(t, err)
}

func TestNoOpExecutor_RespectsContextCancellation(t *testing.T) {
	exec := &NoOpExecutor{Response: "ok", Delay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := exec.Execute(ctx, models.AgentTask{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallbackExecutor_DelegatesToFn(t *testing.T) {
	wantErr := errors.New("boom")
	exec := &CallbackExecutor{Fn: func(ctx context.Context, task models.AgentTask) (string, error) {
		return "output-" + task.ID, wantErr
	}}
	out, err := exec.Execute(context.Background(), models.AgentTask{ID: "t1"})
	require.Equal(t, "output-t1", out)
	require.ErrorIs(t, err, wantErr)
}
