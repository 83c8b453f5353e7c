package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
)

// ItemsHandler serves item listings and details.
type ItemsHandler struct {
	items  database.ItemQuerier
	logger *slog.Logger
}

// NewItemsHandler creates a new items handler.
func NewItemsHandler(items database.ItemQuerier, logger *slog.Logger) *ItemsHandler {
	return &ItemsHandler{items: items, logger: logger}
}

// ItemListResponse is one page of items.
type ItemListResponse struct {
	Items   []database.ItemSummary `json:"items"`
	Total   int                    `json:"total"`
	Page    int                    `json:"page"`
	PerPage int                    `json:"per_page"`
}

// parseItemFilter reads listing filters from the query string.
func parseItemFilter(r *http.Request) (database.ItemFilter, string) {
	q := r.URL.Query()
	f := database.ItemFilter{
		Tag:     strings.ToLower(strings.TrimSpace(q.Get("tag"))),
		Source:  database.TagSource(q.Get("source")),
		Camera:  q.Get("camera"),
		Query:   strings.TrimSpace(q.Get("q")),
		HasGPS:  q.Get("has_gps") == "true",
		Sort:    q.Get("sort"),
		Desc:    q.Get("order") != "asc",
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", constants.DefaultItemsPerPage),
	}
	if f.Source != "" && !f.Source.Valid() {
		return f, "invalid source"
	}
	if v := q.Get("identity"); v != "" {
		id := int64(queryInt(r, "identity", 0))
		if id <= 0 {
			return f, "invalid identity"
		}
		f.IdentityID = id
	}
	var err error
	if f.From, err = queryDate(r, "from"); err != nil {
		return f, "invalid from date"
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return f, "invalid to date"
	}
	f.Normalize(constants.DefaultItemsPerPage, constants.MaxItemsPerPage)
	return f, ""
}

// List returns one page of items matching the filters.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, problem := parseItemFilter(r)
	if problem != "" {
		respondError(w, http.StatusBadRequest, problem)
		return
	}

	items, total, err := h.items.SearchItems(r.Context(), filter)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, ItemListResponse{
		Items:   items,
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	})
}

// Get returns one item with its tags and detections.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	detail, err := h.items.GetItemDetail(r.Context(), id)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// Filters returns the values offered by the listing filters.
func (h *ItemsHandler) Filters(w http.ResponseWriter, r *http.Request) {
	opts, err := h.items.FilterOptions(r.Context(), constants.FilterTagLimit)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

// GeoJSON types for the map endpoint.
type geoFeatureCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

type geoFeature struct {
	Type       string         `json:"type"`
	Geometry   geoPoint       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Geo returns geolocated items as a GeoJSON feature collection.
func (h *ItemsHandler) Geo(w http.ResponseWriter, r *http.Request) {
	filter := database.GeoFilter{
		Tag:   strings.ToLower(strings.TrimSpace(r.URL.Query().Get("tag"))),
		Limit: clamp(queryInt(r, "limit", constants.MaxGeoFeatures), constants.MaxGeoFeatures, constants.MaxGeoFeatures),
	}
	var err error
	if filter.From, err = queryDate(r, "from"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	if filter.To, err = queryDate(r, "to"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	items, err := h.items.GeoItems(r.Context(), filter)
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}

	fc := geoFeatureCollection{Type: "FeatureCollection", Features: make([]geoFeature, 0, len(items))}
	for _, it := range items {
		props := map[string]any{
			"id":       it.ID,
			"filename": it.Filename,
		}
		if it.TakenAt != nil {
			props["taken_at"] = it.TakenAt
		}
		if it.CameraModel != "" {
			props["camera_model"] = it.CameraModel
		}
		fc.Features = append(fc.Features, geoFeature{
			Type:       "Feature",
			Geometry:   geoPoint{Type: "Point", Coordinates: [2]float64{it.Longitude, it.Latitude}},
			Properties: props,
		})
	}
	respondJSON(w, http.StatusOK, fc)
}
