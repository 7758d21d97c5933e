//go:build integration

package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// openTestPostgres connects to TASKPILOT_TEST_POSTGRES_DSN. It skips the test
// if the variable is unset.
func openTestPostgres(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("TASKPILOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASKPILOT_TEST_POSTGRES_DSN not set, skipping postgres test")
	}
	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPGStore_Lifecycle(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	owner := "pg-" + uuid.New().String()

	parent := newTask(uuid.New().String(), owner, "Plan release")
	parent.Embedding = []float32{0.1, 0.2, 0.3}
	parent.EmbeddingHash = TextDigest(parent.Text)
	if err := s.CreateTask(ctx, parent); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	child := newTask(uuid.New().String(), owner, "Write changelog")
	child.ParentTaskID = parent.ID
	if err := s.CreateTask(ctx, child); err != nil {
		t.Fatalf("CreateTask child: %v", err)
	}

	top, err := s.ListTopLevelTasks(ctx, owner)
	if err != nil {
		t.Fatalf("ListTopLevelTasks: %v", err)
	}
	if len(top) != 1 || top[0].ID != parent.ID || !top[0].HasFreshEmbedding() {
		t.Fatalf("unexpected top-level tasks: %+v", top)
	}

	subs, err := s.ListSubtasks(ctx, owner, parent.ID)
	if err != nil {
		t.Fatalf("ListSubtasks: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != child.ID {
		t.Fatalf("unexpected subtasks: %+v", subs)
	}

	text := "Plan the release"
	updated, err := s.UpdateTask(ctx, owner, parent.ID, TaskUpdate{Text: &text})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Embedding != nil {
		t.Error("text change must clear embedding")
	}

	if err := s.DeleteTask(ctx, owner, parent.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask(ctx, owner, child.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("subtask survived parent deletion: %v", err)
	}
}
