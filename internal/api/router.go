// Package api exposes tasks, semantic search and subtask generation over
// HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/kalambet/taskpilot/internal/metrics"
	"github.com/kalambet/taskpilot/internal/search"
	"github.com/kalambet/taskpilot/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 10 << 20 // 10MB
)

// TaskSearcher runs a semantic search on behalf of callerID.
type TaskSearcher interface {
	Search(ctx context.Context, callerID, query string) ([]search.SearchResult, error)
}

// SubtaskGenerator proposes subtask titles for a task title.
type SubtaskGenerator interface {
	Generate(ctx context.Context, title string) ([]string, error)
}

// TextEmbedder embeds task text when it is created.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps holds the collaborators of the HTTP API.
type Deps struct {
	Store     storage.Repository
	Searcher  TaskSearcher
	Subtasks  SubtaskGenerator // optional; subtask routes return 503 when nil
	Embedder  TextEmbedder     // optional; new tasks wait for the backfill worker when nil
	JWTSecret []byte
	// CORSOrigins lists allowed browser origins. Empty allows all.
	CORSOrigins []string
	Logger      *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger.With("component", "api")
	}
	return slog.Default().With("component", "api")
}

// NewHandler returns the taskpilot HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(corsMiddleware(deps.CORSOrigins))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.JWTSecret))

		r.Post("/search", handleSearch(deps))

		r.Get("/tasks", handleListTasks(deps))
		r.Post("/tasks", handleCreateTask(deps))
		r.Post("/tasks/import", handleImportTasks(deps))
		r.Get("/tasks/{id}", handleGetTask(deps))
		r.Patch("/tasks/{id}", handleUpdateTask(deps))
		r.Delete("/tasks/{id}", handleDeleteTask(deps))
		r.Post("/tasks/{id}/subtasks", handleCreateSubtasks(deps))

		r.Post("/subtasks/generate", handleGenerateSubtasks(deps))
	})

	return r
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
