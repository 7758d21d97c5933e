package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidParent is returned when a subtask references a parent that is
// missing, owned by someone else, or itself a subtask.
var ErrInvalidParent = errors.New("invalid parent task")

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Task struct {
	ID            string
	OwnerID       string
	Text          string
	Priority      Priority
	Status        Status
	ParentTaskID  string // empty for top-level tasks
	Embedding     []float32
	EmbeddingHash string // TextDigest(Text) at the time Embedding was computed
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasFreshEmbedding reports whether the stored embedding was computed from
// the task's current text.
func (t Task) HasFreshEmbedding() bool {
	return len(t.Embedding) > 0 && t.EmbeddingHash == TextDigest(t.Text)
}

// TaskUpdate carries the mutable fields of a task. Nil fields are left as is.
type TaskUpdate struct {
	Text     *string
	Priority *Priority
	Status   *Status
}

func (u TaskUpdate) validate() error {
	if u.Text != nil && *u.Text == "" {
		return fmt.Errorf("text must not be empty")
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", *u.Priority)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("invalid status %q", *u.Status)
	}
	return nil
}

func validateTask(t Task) error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.OwnerID == "" {
		return fmt.Errorf("owner is required")
	}
	if t.Text == "" {
		return fmt.Errorf("text must not be empty")
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	return nil
}

// Repository is the task persistence contract shared by the SQLite and
// Postgres backends. Every read and write except the embedding helpers is
// scoped to an owner.
type Repository interface {
	CreateTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, ownerID, id string) (Task, error)
	// ListTopLevelTasks returns the owner's tasks without a parent, newest first.
	ListTopLevelTasks(ctx context.Context, ownerID string) ([]Task, error)
	// ListSubtasks returns the children of parentID, oldest first.
	ListSubtasks(ctx context.Context, ownerID, parentID string) ([]Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, u TaskUpdate) (Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error

	// SetTaskEmbedding stores vec for the task as long as its text still
	// equals text. It returns ErrNotFound when the task is gone or was edited.
	SetTaskEmbedding(ctx context.Context, id, text string, vec []float32) error
	// ListTasksMissingEmbedding returns up to limit tasks with no stored embedding.
	ListTasksMissingEmbedding(ctx context.Context, limit int) ([]Task, error)

	Close() error
}
