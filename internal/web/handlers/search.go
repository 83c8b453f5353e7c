package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/search"
)

// Searcher ranks items against a text query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
	Stats() search.Stats
}

// SearchHandler serves semantic search.
type SearchHandler struct {
	index  Searcher
	items  database.ItemQuerier
	logger *slog.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(index Searcher, items database.ItemQuerier, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{index: index, items: items, logger: logger}
}

// SearchHit is a ranked item.
type SearchHit struct {
	database.ItemSummary
	Score float64 `json:"score"`
}

// SearchResponse is the result of a semantic search.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// Search ranks items against the q parameter.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "missing query")
		return
	}
	limit := clamp(queryInt(r, "limit", constants.DefaultSearchLimit), constants.DefaultSearchLimit, constants.MaxItemsPerPage)

	results, err := h.index.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("semantic search failed", "query", sanitizeForLog(query), "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	ids := make([]int64, len(results))
	scores := make(map[int64]float64, len(results))
	for i, res := range results {
		ids[i] = res.ItemID
		scores[res.ItemID] = res.Score
	}
	items, err := h.items.ItemsByID(r.Context(), ids)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}

	hits := make([]SearchHit, 0, len(items))
	for _, it := range items {
		hits = append(hits, SearchHit{ItemSummary: it, Score: scores[it.ID]})
	}
	respondJSON(w, http.StatusOK, SearchResponse{Query: query, Results: hits})
}

// Stats reports the state of the search cache.
func (h *SearchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.index.Stats())
}
