package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/taskpilot/internal/auth"
	"github.com/kalambet/taskpilot/internal/storage"
	"github.com/kalambet/taskpilot/internal/subtasks"
)

const embedOnCreateTimeout = 10 * time.Second

var errInvalidTask = errors.New("invalid task")

type taskView struct {
	ID           string           `json:"id"`
	Text         string           `json:"text"`
	Priority     storage.Priority `json:"priority"`
	Status       storage.Status   `json:"status"`
	ParentTaskID string           `json:"parent_task_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Subtasks     []taskView       `json:"subtasks,omitempty"`
}

func toView(t storage.Task) taskView {
	return taskView{
		ID:           t.ID,
		Text:         t.Text,
		Priority:     t.Priority,
		Status:       t.Status,
		ParentTaskID: t.ParentTaskID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func withSubtasks(ctx context.Context, store storage.Repository, t storage.Task) (taskView, error) {
	v := toView(t)
	if t.ParentTaskID != "" {
		return v, nil
	}
	children, err := store.ListSubtasks(ctx, t.OwnerID, t.ID)
	if err != nil {
		return taskView{}, fmt.Errorf("listing subtasks of %s: %w", t.ID, err)
	}
	for _, c := range children {
		v.Subtasks = append(v.Subtasks, toView(c))
	}
	return v, nil
}

// loadTaskTree returns the owner's top-level tasks, newest first, each with
// its subtasks oldest first.
func loadTaskTree(ctx context.Context, store storage.Repository, ownerID string) ([]taskView, error) {
	tasks, err := store.ListTopLevelTasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v, err := withSubtasks(ctx, store, t)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

type createTaskRequest struct {
	Text         string `json:"text"`
	Priority     string `json:"priority"`
	Status       string `json:"status"`
	ParentTaskID string `json:"parent_task_id"`
}

// newTask builds a task from client input. Priority defaults to medium and
// status to pending.
func newTask(ownerID string, req createTaskRequest) (storage.Task, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return storage.Task{}, fmt.Errorf("%w: text is required", errInvalidTask)
	}
	priority := storage.Priority(req.Priority)
	if priority == "" {
		priority = storage.PriorityMedium
	}
	if !priority.Valid() {
		return storage.Task{}, fmt.Errorf("%w: invalid priority %q", errInvalidTask, req.Priority)
	}
	status := storage.Status(req.Status)
	if status == "" {
		status = storage.StatusPending
	}
	if !status.Valid() {
		return storage.Task{}, fmt.Errorf("%w: invalid status %q", errInvalidTask, req.Status)
	}
	now := time.Now().UTC()
	return storage.Task{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Text:         text,
		Priority:     priority,
		Status:       status,
		ParentTaskID: strings.TrimSpace(req.ParentTaskID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// precomputeEmbedding stores an embedding for a freshly created task. Any
// failure is logged and left for the backfill worker.
func precomputeEmbedding(ctx context.Context, store storage.Repository, embedder TextEmbedder, t storage.Task, logger *slog.Logger) {
	if embedder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, embedOnCreateTimeout)
	defer cancel()

	vec, err := embedder.Embed(ctx, t.Text)
	if err != nil {
		logger.Warn("embedding new task failed", "task_id", t.ID, "error", err)
		return
	}
	if err := store.SetTaskEmbedding(ctx, t.ID, t.Text, vec); err != nil {
		logger.Warn("storing task embedding failed", "task_id", t.ID, "error", err)
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := loadTaskTree(r.Context(), deps.Store, auth.UserIDFromContext(r.Context()))
		if err != nil {
			logger.Error("listing tasks failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		t, err := newTask(auth.UserIDFromContext(r.Context()), req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		err = deps.Store.CreateTask(r.Context(), t)
		if errors.Is(err, storage.ErrInvalidParent) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "parent task %q does not exist or is itself a subtask", t.ParentTaskID)
			return
		}
		if err != nil {
			logger.Error("creating task failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create task")
			return
		}

		precomputeEmbedding(r.Context(), deps.Store, deps.Embedder, t, logger)
		writeJSON(w, http.StatusCreated, toView(t))
	}
}

func handleGetTask(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTask(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			logger.Error("loading task failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get task")
			return
		}

		v, err := withSubtasks(r.Context(), deps.Store, t)
		if err != nil {
			logger.Error("loading subtasks failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get task")
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

type updateTaskRequest struct {
	Text     *string `json:"text"`
	Priority *string `json:"priority"`
	Status   *string `json:"status"`
}

func (req updateTaskRequest) toUpdate() (storage.TaskUpdate, error) {
	var u storage.TaskUpdate
	if req.Text == nil && req.Priority == nil && req.Status == nil {
		return u, fmt.Errorf("%w: nothing to update", errInvalidTask)
	}
	if req.Text != nil {
		text := strings.TrimSpace(*req.Text)
		if text == "" {
			return u, fmt.Errorf("%w: text must not be empty", errInvalidTask)
		}
		u.Text = &text
	}
	if req.Priority != nil {
		p := storage.Priority(*req.Priority)
		if !p.Valid() {
			return u, fmt.Errorf("%w: invalid priority %q", errInvalidTask, *req.Priority)
		}
		u.Priority = &p
	}
	if req.Status != nil {
		s := storage.Status(*req.Status)
		if !s.Valid() {
			return u, fmt.Errorf("%w: invalid status %q", errInvalidTask, *req.Status)
		}
		u.Status = &s
	}
	return u, nil
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateTaskRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		u, err := req.toUpdate()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		t, err := deps.Store.UpdateTask(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), u)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			logger.Error("updating task failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update task")
			return
		}

		if u.Text != nil {
			precomputeEmbedding(r.Context(), deps.Store, deps.Embedder, t, logger)
		}
		writeJSON(w, http.StatusOK, toView(t))
	}
}

func handleDeleteTask(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteTask(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			logger.Error("deleting task failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete task")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type generateSubtasksRequest struct {
	TaskTitle string `json:"task_title"`
}

type generateSubtasksResponse struct {
	Subtasks []string `json:"subtasks"`
}

// writeGenerationError maps a subtask generation failure to a response.
func writeGenerationError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, subtasks.ErrEmptyTitle) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "task_title is required")
		return
	}
	logger.Error("subtask generation failed", "error", err)
	httpError(w, http.StatusBadGateway, "api_error", "failed to generate subtasks")
}

func handleGenerateSubtasks(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Subtasks == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "subtask generation is not configured")
			return
		}
		var req generateSubtasksRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		items, err := deps.Subtasks.Generate(r.Context(), req.TaskTitle)
		if err != nil {
			writeGenerationError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, generateSubtasksResponse{Subtasks: items})
	}
}

// handleCreateSubtasks generates subtasks for an existing top-level task and
// stores them with the parent's priority and a pending status.
func handleCreateSubtasks(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Subtasks == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "subtask generation is not configured")
			return
		}
		ownerID := auth.UserIDFromContext(r.Context())

		parent, err := deps.Store.GetTask(r.Context(), ownerID, chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		if err != nil {
			logger.Error("loading task failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load task")
			return
		}
		if parent.ParentTaskID != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "subtasks cannot have subtasks")
			return
		}

		items, err := deps.Subtasks.Generate(r.Context(), parent.Text)
		if err != nil {
			writeGenerationError(w, logger, err)
			return
		}

		created := make([]taskView, 0, len(items))
		for _, text := range items {
			t, err := newTask(ownerID, createTaskRequest{
				Text:         text,
				Priority:     string(parent.Priority),
				ParentTaskID: parent.ID,
			})
			if err != nil {
				continue
			}
			if err := deps.Store.CreateTask(r.Context(), t); err != nil {
				logger.Error("storing subtask failed", "parent_id", parent.ID, "error", err)
				httpError(w, http.StatusInternalServerError, "api_error", "failed to store subtasks")
				return
			}
			created = append(created, toView(t))
		}
		writeJSON(w, http.StatusCreated, created)
	}
}
