// Package search answers natural-language queries over a user's own tasks by
// embedding the query and each candidate task and ranking them by cosine
// similarity.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/taskpilot/internal/embedding"
	"github.com/kalambet/taskpilot/internal/similarity"
	"github.com/kalambet/taskpilot/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// TaskLister returns the top-level tasks owned by ownerID.
type TaskLister interface {
	ListTopLevelTasks(ctx context.Context, ownerID string) ([]storage.Task, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is a task matched by a search, with its similarity to the query.
type SearchResult struct {
	ID         string           `json:"id"`
	Text       string           `json:"text"`
	Priority   storage.Priority `json:"priority"`
	Status     storage.Status   `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	Similarity float64          `json:"similarity"`
}

// Options tunes a Searcher.
type Options struct {
	// Threshold is the exclusive lower bound on similarity.
	Threshold float64
	// Limit caps the number of results.
	Limit int
	// Concurrency bounds parallel candidate embeddings.
	Concurrency int
	// EmbedTimeout bounds each call to the embedder.
	EmbedTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultOptions returns threshold 0.1, limit 5, four concurrent embeddings
// and a 10s embedding timeout.
func DefaultOptions() Options {
	return Options{
		Threshold:    0.1,
		Limit:        5,
		Concurrency:  4,
		EmbedTimeout: 10 * time.Second,
	}
}

// Searcher runs semantic searches. It holds no per-search state and is safe
// for concurrent use.
type Searcher struct {
	store    TaskLister
	embedder Embedder
	opts     Options
	logger   *slog.Logger
}

// New creates a Searcher. Non-positive Limit, Concurrency or EmbedTimeout
// fall back to the defaults.
func New(store TaskLister, embedder Embedder, opts Options) *Searcher {
	def := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = def.EmbedTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With("component", "search"),
	}
}

// Search returns the caller's top-level tasks most similar to query, most
// similar first. An empty slice means nothing matched. Errors wrap one of
// ErrInvalidInput, ErrUnauthenticated, ErrEmbeddingFailure or
// ErrStoreFailure, or the context error if ctx ends mid-search.
func (s *Searcher) Search(ctx context.Context, callerID, query string) (results []SearchResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Search")
	defer func() {
		searchesTotal.WithLabelValues(outcome(err)).Inc()
		searchDuration.Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.Int("search.results", len(results)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		}
		span.End()
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(callerID) == "" {
		return nil, ErrUnauthenticated
	}

	qvec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	tasks, err := s.store.ListTopLevelTasks(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	span.SetAttributes(attribute.Int("search.candidates", len(tasks)))
	if len(tasks) == 0 {
		return []SearchResult{}, nil
	}

	candidates := s.candidates(ctx, callerID, tasks)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search abandoned: %w", err)
	}

	ranked := similarity.Rank(qvec, candidates, s.opts.Threshold, s.opts.Limit)

	byID := make(map[string]storage.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	results = make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		t, ok := byID[r.ID]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			ID:         t.ID,
			Text:       t.Text,
			Priority:   t.Priority,
			Status:     t.Status,
			CreatedAt:  t.CreatedAt,
			Similarity: r.Similarity,
		})
	}

	s.logger.Debug("search complete", "candidates", len(tasks), "ranked", len(candidates), "results", len(results))
	return results, nil
}

// embed calls the embedder under the configured timeout and rejects
// vectors that cannot be ranked.
func (s *Searcher) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := embedding.Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// candidates resolves a vector for every task, embedding the ones without a
// fresh stored embedding concurrently. Failed tasks are dropped. The result
// keeps retrieval order.
func (s *Searcher) candidates(ctx context.Context, callerID string, tasks []storage.Task) []similarity.Candidate {
	slots := make([][]float32, len(tasks))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for i, t := range tasks {
		if t.OwnerID != callerID {
			s.logger.Warn("dropping task owned by another user", "task_id", t.ID)
			candidatesDropped.WithLabelValues("owner_mismatch").Inc()
			continue
		}
		if t.HasFreshEmbedding() {
			slots[i] = t.Embedding
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			vec, err := s.embed(ctx, t.Text)
			if err != nil {
				s.logger.Warn("dropping candidate", "task_id", t.ID, "err", err)
				candidatesDropped.WithLabelValues("embedding_failure").Inc()
				return nil
			}
			slots[i] = vec
			return nil
		})
	}
	g.Wait()

	out := make([]similarity.Candidate, 0, len(tasks))
	for i, vec := range slots {
		if vec == nil {
			continue
		}
		out = append(out, similarity.Candidate{ID: tasks[i].ID, Vector: vec})
	}
	return out
}
