package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/facematch"
)

// Merger merges identities.
type Merger interface {
	Merge(ctx context.Context, sourceIDs []int64, targetID int64) (*database.MergeResult, error)
}

// IdentitiesHandler serves identity listings, renames and merges.
type IdentitiesHandler struct {
	store  database.IdentityStore
	merger Merger
	logger *slog.Logger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(store database.IdentityStore, merger Merger, logger *slog.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{store: store, merger: merger, logger: logger}
}

// IdentityResponse is an identity with its display label.
type IdentityResponse struct {
	database.Identity
	Label string `json:"label"`
}

func identityResponse(ident database.Identity) IdentityResponse {
	return IdentityResponse{Identity: ident, Label: ident.Label()}
}

// IdentityListResponse is one page of identities.
type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
}

// List returns identities ordered by detection count.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	page := max(queryInt(r, "page", 1), 1)
	perPage := clamp(queryInt(r, "per_page", constants.DefaultIdentitiesPerPage), constants.DefaultIdentitiesPerPage, constants.MaxIdentitiesPerPage)

	idents, total, err := h.store.ListIdentities(r.Context(), page, perPage)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	resp := IdentityListResponse{Identities: make([]IdentityResponse, 0, len(idents)), Total: total, Page: page, PerPage: perPage}
	for _, ident := range idents {
		resp.Identities = append(resp.Identities, identityResponse(ident))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Search returns named identities whose name contains q, ignoring case and diacritics.
func (h *IdentitiesHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if facematch.FoldName(q) == "" {
		respondError(w, http.StatusBadRequest, "missing query")
		return
	}

	named, err := h.store.NamedIdentities(r.Context())
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	matches := make([]IdentityResponse, 0)
	for _, ident := range named {
		if facematch.NameMatches(ident.Label(), q) {
			matches = append(matches, identityResponse(ident))
		}
	}
	respondJSON(w, http.StatusOK, matches)
}

// Get returns one identity.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	ident, err := h.store.GetIdentity(r.Context(), id)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(*ident))
}

// Items returns one page of items containing the identity.
func (h *IdentitiesHandler) Items(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	page := max(queryInt(r, "page", 1), 1)
	perPage := clamp(queryInt(r, "per_page", constants.DefaultItemsPerPage), constants.DefaultItemsPerPage, constants.MaxItemsPerPage)

	items, total, err := h.store.IdentityItems(r.Context(), id, page, perPage)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: total, Page: page, PerPage: perPage})
}

// RenameRequest sets or clears (empty name) an identity's display name.
type RenameRequest struct {
	Name string `json:"name"`
}

// Rename updates the display name.
func (h *IdentitiesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var name *string
	if trimmed := strings.TrimSpace(req.Name); trimmed != "" {
		name = &trimmed
	}
	if err := h.store.RenameIdentity(r.Context(), id, name); err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	ident, err := h.store.GetIdentity(r.Context(), id)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(*ident))
}

// MergeRequest folds source identities into a target.
type MergeRequest struct {
	SourceIDs []int64 `json:"source_ids"`
	TargetID  int64   `json:"target_id"`
}

// Merge folds the source identities into the target.
func (h *IdentitiesHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.TargetID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid target id")
		return
	}

	result, err := h.merger.Merge(r.Context(), req.SourceIDs, req.TargetID)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Crop returns where the identity's first detection is.
func (h *IdentitiesHandler) Crop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	crop, err := h.store.IdentityCrop(r.Context(), id)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	width, height := analysisSize(crop)
	if rel, ok := facematch.RelativeBox(crop.BBox, width, height); ok {
		crop.Relative = &rel
	}
	respondJSON(w, http.StatusOK, crop)
}

// analysisSize returns the dimensions of the image the detector saw. HEIC
// files cannot be decoded locally and are sent unscaled.
func analysisSize(crop *database.CropInfo) (int, int) {
	if strings.EqualFold(path.Ext(crop.Path), ".heic") {
		return crop.Width, crop.Height
	}
	return facematch.FitWithin(crop.Width, crop.Height, constants.MaxImageSize)
}
