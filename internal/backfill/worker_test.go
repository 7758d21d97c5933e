package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/taskpilot/internal/storage"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTask(t *testing.T, s *storage.Store, id, text string) {
	t.Helper()
	err := s.CreateTask(context.Background(), storage.Task{
		ID:       id,
		OwnerID:  "alice",
		Text:     text,
		Priority: storage.PriorityMedium,
		Status:   storage.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
}

func newTestWorker(t *testing.T, s TaskStore, e Embedder, opts Options) *Worker {
	t.Helper()
	w, err := NewWorker(s, e, opts)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	t.Cleanup(w.Release)
	return w
}

func lengthEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text)), 1}, nil
	}}
}

func TestRunOnce_EmbedsMissing(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		addTask(t, s, fmt.Sprintf("t%d", i), fmt.Sprintf("task number %d", i))
	}

	w := newTestWorker(t, s, lengthEmbedder(), Options{})
	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 5 {
		t.Errorf("stored %d embeddings, want 5", n)
	}

	for i := 0; i < 5; i++ {
		task, err := s.GetTask(context.Background(), "alice", fmt.Sprintf("t%d", i))
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if !task.HasFreshEmbedding() {
			t.Errorf("task %s has no fresh embedding", task.ID)
		}
	}

	n, err = w.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second RunOnce = %d, %v; want 0, nil", n, err)
	}
}

func TestRunOnce_RespectsBatchSize(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 7; i++ {
		addTask(t, s, fmt.Sprintf("t%d", i), fmt.Sprintf("task %d", i))
	}

	w := newTestWorker(t, s, lengthEmbedder(), Options{BatchSize: 3, Workers: 2})
	var total int
	for i := 0; i < 3; i++ {
		n, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if n > 3 {
			t.Errorf("batch stored %d, want <= 3", n)
		}
		total += n
	}
	if total != 7 {
		t.Errorf("stored %d in total, want 7", total)
	}
}

func TestRunOnce_FailureIsSkippedUntilRetry(t *testing.T) {
	s := openTestStore(t)
	addTask(t, s, "bad", "poison")
	addTask(t, s, "good", "fine")

	var calls atomic.Int32
	emb := &mockEmbedder{embedFn: func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		if text == "poison" {
			return nil, errors.New("provider rejected input")
		}
		return []float32{1, 2}, nil
	}}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newTestWorker(t, s, emb, Options{RetryAfter: time.Minute})
	w.now = func() time.Time { return now }

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("stored %d, want 1", n)
	}

	calls.Store(0)
	n, err = w.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("RunOnce during backoff = %d, %v", n, err)
	}
	if calls.Load() != 0 {
		t.Errorf("failed task retried during backoff (%d calls)", calls.Load())
	}

	now = now.Add(2 * time.Minute)
	w.RunOnce(context.Background())
	if calls.Load() != 1 {
		t.Errorf("failed task not retried after backoff (%d calls)", calls.Load())
	}
}

func TestRunOnce_EditedTaskNotOverwritten(t *testing.T) {
	s := openTestStore(t)
	addTask(t, s, "t1", "old text")

	emb := &mockEmbedder{embedFn: func(ctx context.Context, text string) ([]float32, error) {
		// Simulate the user editing the task while it is being embedded.
		newText := "new text"
		if _, err := s.UpdateTask(ctx, "alice", "t1", storage.TaskUpdate{Text: &newText}); err != nil {
			return nil, err
		}
		return []float32{1}, nil
	}}

	w := newTestWorker(t, s, emb, Options{})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	task, err := s.GetTask(context.Background(), "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Embedding != nil {
		t.Errorf("embedding for the old text was stored on the edited task: %v", task.Embedding)
	}
}

type failingStore struct{}

func (failingStore) ListTasksMissingEmbedding(context.Context, int) ([]storage.Task, error) {
	return nil, errors.New("database is locked")
}
func (failingStore) SetTaskEmbedding(context.Context, string, string, []float32) error { return nil }

func TestRunOnce_ListError(t *testing.T) {
	w := newTestWorker(t, failingStore{}, lengthEmbedder(), Options{})
	_, err := w.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Errorf("got %v, want list error", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := openTestStore(t)
	addTask(t, s, "t1", "something")

	w := newTestWorker(t, s, lengthEmbedder(), Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.GetTask(context.Background(), "alice", "t1")
		if err == nil && task.HasFreshEmbedding() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	task, _ := s.GetTask(context.Background(), "alice", "t1")
	if !task.HasFreshEmbedding() {
		t.Error("Run did not embed the task")
	}
}
