package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/taskpilot/internal/auth"
	"github.com/kalambet/taskpilot/internal/search"
)

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []search.SearchResult `json:"results"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	logger := deps.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		results, err := deps.Searcher.Search(r.Context(), auth.UserIDFromContext(r.Context()), req.Query)
		switch {
		case errors.Is(err, search.ErrInvalidInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		case errors.Is(err, search.ErrUnauthenticated):
			httpError(w, http.StatusUnauthorized, "authentication_error", "authentication required")
			return
		case errors.Is(err, search.ErrEmbeddingFailure):
			logger.Error("search failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "search is temporarily unavailable")
			return
		case err != nil:
			logger.Error("search failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "search failed")
			return
		}

		if results == nil {
			results = []search.SearchResult{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Results: results})
	}
}
