package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shiva/ridebroker/internal/service"
)

// Searcher finds rides for a passenger request.
type Searcher interface {
	Search(ctx context.Context, req service.SearchRequest) ([]service.SearchResult, error)
}

// SearchResponse lists candidate rides, unordered.
type SearchResponse struct {
	Count   int                    `json:"count"`
	Results []service.SearchResult `json:"results"`
}

// SearchHandler handles ride search HTTP requests.
type SearchHandler struct {
	searcher Searcher
	log      *slog.Logger
}

// NewSearchHandler creates a new handler wired to the matching service.
func NewSearchHandler(searcher Searcher, log *slog.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, log: log}
}

// Search handles POST /api/v1/search
//
// Returns 200 with every ride whose detour area covers both pickup and
// drop-off and whose schedule overlaps the passenger's window. An empty
// list is not an error.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req service.SearchRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	results, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSearch) {
			writeError(w, http.StatusBadRequest, "invalid_search", err.Error())
			return
		}
		internalError(w, h.log, "search", err)
		return
	}
	if results == nil {
		results = []service.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Count: len(results), Results: results})
}
