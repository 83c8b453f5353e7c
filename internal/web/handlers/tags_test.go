package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

func TestTagsHandler_Toggle(t *testing.T) {
	cat := newTestCatalog(t)
	h := NewTagsHandler(cat, testLogger)

	for _, want := range []bool{true, false} {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest("POST", "/tags/1/toggle", nil), map[string]string{"id": "1"})
		h.Toggle(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp struct {
			Confirmed bool `json:"confirmed"`
		}
		parseJSONResponse(t, recorder, &resp)
		if resp.Confirmed != want {
			t.Errorf("expected confirmed=%v, got %v", want, resp.Confirmed)
		}
	}

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest("POST", "/tags/77/toggle", nil), map[string]string{"id": "77"})
	h.Toggle(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestTagsHandler_SetLabel(t *testing.T) {
	cat := newTestCatalog(t)
	h := NewTagsHandler(cat, testLogger)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(jsonRequest(t, "PUT", "/tags/1/label", LabelRequest{Label: "Seaside"}), map[string]string{"id": "1"})
	h.SetLabel(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)
	if got := cat.TagsOf(beachID)[0].LabelOverride; got == nil || *got != "Seaside" {
		t.Errorf("expected override Seaside, got %v", got)
	}

	recorder = httptest.NewRecorder()
	req = requestWithChiParams(jsonRequest(t, "PUT", "/tags/1/label", LabelRequest{Label: "   "}), map[string]string{"id": "1"})
	h.SetLabel(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)
	if got := cat.TagsOf(beachID)[0].LabelOverride; got != nil {
		t.Errorf("expected override cleared, got %q", *got)
	}
}

func TestTagsHandler_Add(t *testing.T) {
	cat := newTestCatalog(t)
	h := NewTagsHandler(cat, testLogger)

	add := func(item, tag string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(jsonRequest(t, "POST", "/items/"+item+"/tags", AddTagRequest{Tag: tag}), map[string]string{"id": item})
		h.Add(recorder, req)
		return recorder
	}

	recorder := add("3", "  Whiteboard ")
	assertStatusCode(t, recorder, http.StatusCreated)
	var tag database.Tag
	parseJSONResponse(t, recorder, &tag)
	if tag.Label != "whiteboard" || tag.Source != database.SourceManual || !tag.Confirmed || tag.Score != 1.0 {
		t.Errorf("unexpected tag %+v", tag)
	}
	if tags := cat.TagsOf(officeID); len(tags) != 1 || tags[0].Label != "whiteboard" {
		t.Errorf("expected stored manual tag, got %+v", tags)
	}

	t.Run("duplicate conflicts", func(t *testing.T) {
		recorder := add("3", "WHITEBOARD")
		assertStatusCode(t, recorder, http.StatusConflict)
	})

	t.Run("same label from another source is allowed", func(t *testing.T) {
		recorder := add("1", "beach")
		assertStatusCode(t, recorder, http.StatusCreated)
	})

	t.Run("empty tag", func(t *testing.T) {
		recorder := add("3", "  ")
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "tag is required")
	})

	t.Run("unknown item", func(t *testing.T) {
		recorder := add("99", "cat")
		assertStatusCode(t, recorder, http.StatusNotFound)
	})
}

func TestTagsHandler_Autocomplete(t *testing.T) {
	cat := newTestCatalog(t)
	h := NewTagsHandler(cat, testLogger)

	recorder := httptest.NewRecorder()
	h.Autocomplete(recorder, httptest.NewRequest("GET", "/tags/autocomplete?q=OUN", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var labels []database.LabelCount
	parseJSONResponse(t, recorder, &labels)
	if len(labels) != 1 || labels[0].Label != "mountain" || labels[0].Count != 1 {
		t.Errorf("unexpected labels %+v", labels)
	}

	recorder = httptest.NewRecorder()
	h.Autocomplete(recorder, httptest.NewRequest("GET", "/tags/autocomplete", nil))
	parseJSONResponse(t, recorder, &labels)
	if len(labels) != 0 {
		t.Errorf("expected no labels for empty query, got %+v", labels)
	}
}

func TestTagsHandler_Delete(t *testing.T) {
	cat := newTestCatalog(t)
	h := NewTagsHandler(cat, testLogger)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest("DELETE", "/tags/2", nil), map[string]string{"id": "2"})
	h.Delete(recorder, req)
	assertStatusCode(t, recorder, http.StatusNoContent)
	if tags := cat.TagsOf(beachID); len(tags) != 1 || tags[0].Label != "beach" {
		t.Errorf("expected detector tag removed, got %+v", tags)
	}

	recorder = httptest.NewRecorder()
	req = requestWithChiParams(httptest.NewRequest("DELETE", "/tags/2", nil), map[string]string{"id": "2"})
	h.Delete(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
}
