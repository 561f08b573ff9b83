package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/restflow/restflow/internal/kv"
	"github.com/restflow/restflow/pkg/models"
)

const (
	bucketTasks      = "tasks"
	bucketExecutions = "task_executions"
	bucketByTask     = "task_executions_by_task"
)

// ErrTaskNotFound is returned when a task id has no record.
var ErrTaskNotFound = errors.New("tasks: task not found")

// ErrExecutionNotFound is returned when an execution id has no record.
var ErrExecutionNotFound = errors.New("tasks: execution not found")

// Store persists AgentTasks and their Executions. Grounded on internal/kv's
// bucket-per-concern idiom, already used by internal/memory and
// internal/auth for RestFlow's other durable stores.
type Store struct {
	kv *kv.Store
}

// NewStore ensures the backing buckets exist on db and returns a Store.
func NewStore(db *kv.Store) (*Store, error) {
	if err := db.EnsureBuckets(bucketTasks, bucketExecutions, bucketByTask); err != nil {
		return nil, err
	}
	return &Store{kv: db}, nil
}

func (s *Store) CreateTask(ctx context.Context, task models.AgentTask) error {
	return s.kv.Update(func(tx *bolt.Tx) error {
		return kv.PutJSON(tx, bucketTasks, task.ID, task)
	})
}

func (s *Store) GetTask(ctx context.Context, id string) (models.AgentTask, error) {
	var task models.AgentTask
	err := s.kv.View(func(tx *bolt.Tx) error {
		return kv.GetJSON(tx, bucketTasks, id, &task)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return models.AgentTask{}, ErrTaskNotFound
	}
	return task, err
}

func (s *Store) UpdateTask(ctx context.Context, task models.AgentTask) error {
	return s.kv.Update(func(tx *bolt.Tx) error {
		return kv.PutJSON(tx, bucketTasks, task.ID, task)
	})
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.kv.Update(func(tx *bolt.Tx) error {
		return kv.Delete(tx, bucketTasks, id)
	})
}

// ListTasks returns every stored task, in no particular order.
func (s *Store) ListTasks(ctx context.Context) ([]models.AgentTask, error) {
	var tasks []models.AgentTask
	err := s.kv.View(func(tx *bolt.Tx) error {
		return kv.ForEach(tx, bucketTasks, func(_, value []byte) error {
			var t models.AgentTask
			if err := json.Unmarshal(value, &t); err != nil {
				return err
			}
			tasks = append(tasks, t)
			return nil
		})
	})
	return tasks, err
}

// ListRunnableTasks returns every Active task whose next_run_at is due by
// now, implementing the scheduler's load-runnable-tasks step.
func (s *Store) ListRunnableTasks(ctx context.Context, now time.Time) ([]models.AgentTask, error) {
	all, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	var due []models.AgentTask
	for _, t := range all {
		if t.Status != models.AgentTaskActive {
			continue
		}
		if t.NextRunAt != nil && t.NextRunAt.After(now) {
			continue
		}
		due = append(due, t)
	}
	return due, nil
}

func (s *Store) CreateExecution(ctx context.Context, exec Execution) error {
	return s.kv.Update(func(tx *bolt.Tx) error {
		if err := kv.PutJSON(tx, bucketExecutions, exec.ID, exec); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketByTask)).Put([]byte(exec.TaskID+":"+exec.ID), []byte(exec.ID))
	})
}

func (s *Store) UpdateExecution(ctx context.Context, exec Execution) error {
	return s.kv.Update(func(tx *bolt.Tx) error {
		return kv.PutJSON(tx, bucketExecutions, exec.ID, exec)
	})
}

func (s *Store) GetExecution(ctx context.Context, id string) (Execution, error) {
	var exec Execution
	err := s.kv.View(func(tx *bolt.Tx) error {
		return kv.GetJSON(tx, bucketExecutions, id, &exec)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return Execution{}, ErrExecutionNotFound
	}
	return exec, err
}

// ListExecutions returns every execution recorded for taskID, in no
// particular order.
func (s *Store) ListExecutions(ctx context.Context, taskID string) ([]Execution, error) {
	var execs []Execution
	err := s.kv.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketByTask))
		c := b.Cursor()
		prefix := []byte(taskID + ":")
		for k, v := c.Seek(prefix); k != nil && hasPrefixBytes(k, prefix); k, v = c.Next() {
			var e Execution
			if err := kv.GetJSON(tx, bucketExecutions, string(v), &e); err != nil {
				if errors.Is(err, kv.ErrNotFound) {
					continue
				}
				return err
			}
			execs = append(execs, e)
		}
		return nil
	})
	return execs, err
}

func hasPrefixBytes(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
