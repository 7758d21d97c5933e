package api

import (
	"encoding/base64"
	"net/http"

	"github.com/kalambet/taskpilot/internal/auth"
	"github.com/kalambet/taskpilot/internal/importer"
	"github.com/kalambet/taskpilot/internal/storage"
)

type importRequest struct {
	Filename string `json:"filename"`
	// Content is the file body, base64 encoded.
	Content  string `json:"content"`
	Priority string `json:"priority"`
}

type importResponse struct {
	Imported int      `json:"imported"`
	IDs      []string `json:"ids"`
}

// handleImportTasks creates one top-level task per checklist line of an
// uploaded text or PDF file. Embeddings are left to the backfill worker.
func handleImportTasks(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if !decodeBody(w, r, maxImportBodySize, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		priority := storage.Priority(req.Priority)
		if req.Priority != "" && !priority.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid priority %q", req.Priority)
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}

		items, err := importer.Parse(req.Filename, data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "could not read checklist: %v", err)
			return
		}

		ids, err := importer.New(deps.Store, priority).Import(r.Context(), auth.UserIDFromContext(r.Context()), items)
		if err != nil {
			logger.Error("importing tasks failed", "imported", len(ids), "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "import stopped after %d tasks", len(ids))
			return
		}
		writeJSON(w, http.StatusCreated, importResponse{Imported: len(ids), IDs: ids})
	}
}
