package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskTransition records when a task entered a status.
type TaskTransition struct {
	Status TaskStatus
	At     time.Time
}

// Task tracks one agency run from request to response. It moves from
// pending to running and ends completed or failed; a pending task may also
// fail directly, for example when its input is rejected. Once terminal a
// task ignores further transitions.
type Task struct {
	ID         string
	RunID      string
	Goal       string
	AssignedTo string
	Status     TaskStatus
	Result     any
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	History    []TaskTransition
}

// NewTask returns a pending task with a random id.
func NewTask(goal, assignedTo string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         uuid.NewString(),
		Goal:       goal,
		AssignedTo: assignedTo,
		Status:     TaskStatusPending,
		CreatedAt:  now,
		History:    []TaskTransition{{Status: TaskStatusPending, At: now}},
	}
}

func (t *Task) moveTo(s TaskStatus) (time.Time, bool) {
	if t.Status.Terminal() || (s == TaskStatusRunning && t.Status != TaskStatusPending) {
		return time.Time{}, false
	}
	now := time.Now().UTC()
	t.Status = s
	t.History = append(t.History, TaskTransition{Status: s, At: now})
	return now, true
}

// Start moves a pending task to running.
func (t *Task) Start() bool {
	now, ok := t.moveTo(TaskStatusRunning)
	if ok {
		t.StartedAt = now
	}
	return ok
}

// Complete stores the result of a live task.
func (t *Task) Complete(result any) bool {
	now, ok := t.moveTo(TaskStatusCompleted)
	if ok {
		t.Result = result
		t.FinishedAt = now
	}
	return ok
}

// Fail stores why a live task failed.
func (t *Task) Fail(reason string) bool {
	now, ok := t.moveTo(TaskStatusFailed)
	if ok {
		t.Error = reason
		t.FinishedAt = now
	}
	return ok
}

// Duration is the running time of a finished task. Tasks that never
// started or have not finished report zero.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
