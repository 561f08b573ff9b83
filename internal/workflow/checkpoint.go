package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/restflow/restflow/pkg/models"
)

// CheckpointStore persists WorkflowCheckpoints as JSON files under
// <baseDir>/<task_id>/phase_<idx>_attempt_<n>.json, matching the on-disk
// contract external tooling may rely on to inspect a paused workflow. The
// newest file by filesystem mtime wins on resume; a checkpoint write is
// best-effort (a write failure never masks the original phase error) and a
// malformed/partial file is simply skipped during resume rather than
// treated as fatal.
type CheckpointStore struct {
	baseDir string
}

// NewCheckpointStore returns a store rooted at baseDir.
func NewCheckpointStore(baseDir string) *CheckpointStore {
	return &CheckpointStore{baseDir: baseDir}
}

// Save writes cp to its canonical path, creating the task's checkpoint
// directory if needed.
func (s *CheckpointStore) Save(taskID string, cp models.WorkflowCheckpoint) error {
	dir := filepath.Join(s.baseDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workflow: create checkpoint dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("phase_%d_attempt_%d.json", cp.PhaseIdx, cp.Attempt))
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: marshal checkpoint: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadLatest returns the most recently modified checkpoint file in
// taskID's directory. ok is false if the directory is absent or empty.
// Files that fail to parse are skipped rather than treated as fatal,
// since the newest valid file is what resume cares about.
func (s *CheckpointStore) LoadLatest(taskID string) (cp models.WorkflowCheckpoint, ok bool, err error) {
	dir := filepath.Join(s.baseDir, taskID)
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return models.WorkflowCheckpoint{}, false, nil
		}
		return models.WorkflowCheckpoint{}, false, fmt.Errorf("workflow: read checkpoint dir %s: %w", dir, readErr)
	}

	var latestPath string
	var latestMod int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latestPath == "" || mod > latestMod {
			latestPath = filepath.Join(dir, entry.Name())
			latestMod = mod
		}
	}
	if latestPath == "" {
		return models.WorkflowCheckpoint{}, false, nil
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return models.WorkflowCheckpoint{}, false, nil
	}
	var parsed models.WorkflowCheckpoint
	if err := json.Unmarshal(data, &parsed); err != nil {
		return models.WorkflowCheckpoint{}, false, nil
	}
	return parsed, true, nil
}
