package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
)

// TagsHandler serves manual tag edits.
type TagsHandler struct {
	tags   database.TagStore
	logger *slog.Logger
}

// NewTagsHandler creates a new tags handler.
func NewTagsHandler(tags database.TagStore, logger *slog.Logger) *TagsHandler {
	return &TagsHandler{tags: tags, logger: logger}
}

// Toggle flips a tag's confirmed flag.
func (h *TagsHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	confirmed, err := h.tags.ToggleTagConfirmed(r.Context(), id)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "confirmed": confirmed})
}

// LabelRequest sets a tag's display label; an empty label clears it.
type LabelRequest struct {
	Label string `json:"label"`
}

// SetLabel overrides the label shown for a tag.
func (h *TagsHandler) SetLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	var req LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var label *string
	if trimmed := strings.TrimSpace(req.Label); trimmed != "" {
		label = &trimmed
	}
	if err := h.tags.SetTagLabel(r.Context(), id, label); err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "label": label})
}

// AddTagRequest attaches a manual tag to an item.
type AddTagRequest struct {
	Tag string `json:"tag"`
}

// Add attaches a confirmed manual tag to an item.
func (h *TagsHandler) Add(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req AddTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	label := strings.ToLower(strings.TrimSpace(req.Tag))
	if label == "" {
		respondError(w, http.StatusBadRequest, "tag is required")
		return
	}

	tagID, err := h.tags.AddTag(r.Context(), itemID, database.NewTag{
		Label:     label,
		Score:     1.0,
		Source:    database.SourceManual,
		Confirmed: true,
	})
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, database.Tag{
		ID:        tagID,
		ItemID:    itemID,
		Label:     label,
		Score:     1.0,
		Source:    database.SourceManual,
		Confirmed: true,
	})
}

// Autocomplete returns labels containing q, most used first.
func (h *TagsHandler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondJSON(w, http.StatusOK, []database.LabelCount{})
		return
	}
	limit := clamp(queryInt(r, "limit", constants.DefaultTagSearchLimit), constants.DefaultTagSearchLimit, constants.FilterTagLimit)
	labels, err := h.tags.SearchTagLabels(r.Context(), q, limit)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, labels)
}

// Delete removes a tag.
func (h *TagsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	if err := h.tags.DeleteTag(r.Context(), id); err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
