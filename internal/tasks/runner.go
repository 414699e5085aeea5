// Package tasks provides fire-and-forget background task execution
// with external progress polling.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"
)

// Status tracks where a task is in its lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the observable state of one background task. GetStatus hands
// out copies; callers can never reach the runner's internal record.
type Task struct {
	Status    Status `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

// WorkFn is the body of a task. It must call onProgress exactly once
// per processed item, in any order.
type WorkFn func(ctx context.Context, onProgress func()) error

// Runner owns task state in memory for the lifetime of each task.
type Runner struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	logger log.Logger
}

// NewRunner creates an empty task runner.
func NewRunner(logger log.Logger) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		tasks:  make(map[string]*Task),
		logger: logger,
	}
}

// Start registers task state and begins fn without blocking the caller.
// The work keeps running if the caller's context is cancelled; clearing
// the task only removes observability state, not in-flight work.
func (r *Runner) Start(ctx context.Context, id string, total int, fn WorkFn) {
	r.mu.Lock()
	r.tasks[id] = &Task{Status: StatusRunning, Total: total}
	r.mu.Unlock()

	go r.run(context.WithoutCancel(ctx), id, fn)
}

func (r *Runner) run(ctx context.Context, id string, fn WorkFn) {
	L := r.logger.With("task_id", id)

	onProgress := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A callback after terminal state is a no-op, not an error.
		if t, ok := r.tasks[id]; ok && t.Status == StatusRunning {
			t.Processed++
		}
	}

	err := r.invoke(ctx, fn, onProgress)

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		// Cleared mid-flight; nothing left to observe.
		return
	}
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		L.Error(ctx, err, "background task failed", "processed", t.Processed, "total", t.Total)
		return
	}
	t.Status = StatusCompleted
	// Monotonic 100%: skipped items must not leave the bar short.
	t.Processed = t.Total
	L.Info(ctx, "background task completed", "total", t.Total)
}

// invoke runs fn, converting panics into task failures. Non-error panic
// values are stringified.
func (r *Runner) invoke(ctx context.Context, fn WorkFn, onProgress func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn(ctx, onProgress)
}

// GetStatus returns a copy of the task state, or nil if unknown.
func (r *Runner) GetStatus(id string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Clear removes all state for a task id. Clearing an unknown id is a
// no-op.
func (r *Runner) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}
