// Package backfill computes and stores embeddings for tasks that were saved
// without one, so searches can skip the embedding call for them.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/taskpilot/internal/storage"
	"github.com/panjf2000/ants/v2"
)

// TaskStore is the part of storage.Repository the worker needs.
type TaskStore interface {
	ListTasksMissingEmbedding(ctx context.Context, limit int) ([]storage.Task, error)
	SetTaskEmbedding(ctx context.Context, id, text string, vec []float32) error
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tunes a Worker. Zero values pick the defaults.
type Options struct {
	PollInterval time.Duration // default 2s
	BatchSize    int           // default 32
	Workers      int           // default 4
	RetryAfter   time.Duration // how long a failing task is skipped, default 1m
	Logger       *slog.Logger
}

// Worker polls the store for tasks without embeddings and embeds them on an
// ants pool.
type Worker struct {
	store    TaskStore
	embedder Embedder
	pool     *ants.Pool
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	failed map[string]time.Time // task id -> retry not before
	now    func() time.Time
}

// NewWorker creates a Worker. Call Release when done.
func NewWorker(store TaskStore, embedder Embedder, opts Options) (*Worker, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Worker{
		store:    store,
		embedder: embedder,
		pool:     pool,
		opts:     opts,
		logger:   logger.With("component", "backfill"),
		failed:   make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// Release stops the pool's goroutines.
func (w *Worker) Release() {
	w.pool.Release()
}

// Run polls for tasks until ctx is cancelled. After a productive batch the
// next one starts immediately; otherwise the worker sleeps for PollInterval.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("backfill iteration failed", "error", err)
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce embeds one batch of tasks and returns how many embeddings were
// stored. Per-task failures are logged and the task is skipped for
// RetryAfter.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	backoff := w.pruneFailures()
	tasks, err := w.store.ListTasksMissingEmbedding(ctx, w.opts.BatchSize+backoff)
	if err != nil {
		return 0, fmt.Errorf("listing tasks without embedding: %w", err)
	}
	tasks = w.eligible(tasks)
	if len(tasks) == 0 {
		return 0, nil
	}

	var (
		wg     sync.WaitGroup
		stored atomic.Int32
	)
	for _, t := range tasks {
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			if err := w.embedTask(ctx, t); err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("embedding task failed", "task_id", t.ID, "error", err)
					w.markFailed(t.ID)
				}
				return
			}
			stored.Add(1)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return int(stored.Load()), fmt.Errorf("submitting task %s: %w", t.ID, err)
		}
	}
	wg.Wait()

	n := int(stored.Load())
	if n > 0 {
		w.logger.Debug("stored task embeddings", "count", n)
	}
	return n, nil
}

func (w *Worker) embedTask(ctx context.Context, t storage.Task) error {
	vec, err := w.embedder.Embed(ctx, t.Text)
	if err != nil {
		return err
	}
	err = w.store.SetTaskEmbedding(ctx, t.ID, t.Text, vec)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted or edited since it was listed; an edit clears the
		// embedding again, so it will come back in a later batch.
		return nil
	}
	return err
}

// eligible drops tasks still inside their retry window and caps the batch.
func (w *Worker) eligible(tasks []storage.Task) []storage.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]storage.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, skip := w.failed[t.ID]; skip {
			continue
		}
		out = append(out, t)
		if len(out) == w.opts.BatchSize {
			break
		}
	}
	return out
}

func (w *Worker) markFailed(id string) {
	w.mu.Lock()
	w.failed[id] = w.now().Add(w.opts.RetryAfter)
	w.mu.Unlock()
}

// pruneFailures forgets expired failures and returns how many remain.
func (w *Worker) pruneFailures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	for id, until := range w.failed {
		if !now.Before(until) {
			delete(w.failed, id)
		}
	}
	return len(w.failed)
}
