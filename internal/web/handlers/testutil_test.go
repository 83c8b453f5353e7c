package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/database/mock"
	"github.com/kozaktomas/photo-annotator/internal/logging"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest creates a request with a JSON encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

func ptr[T any](v T) *T { return &v }

func day(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

// fixture ids
const (
	beachID    int64 = 1
	mountainID int64 = 2
	officeID   int64 = 3

	aliceID   int64 = 1
	unnamedID int64 = 2
)

// newTestCatalog builds a small annotated catalog:
//
//	beach.jpg    2023-07-01  Pixel 7  geolocated  beach(semantic) person(detector)  Alice + unnamed
//	mountain.jpg 2022-01-15  Canon R6             mountain(semantic)                Alice
//	office.png   no date
func newTestCatalog(t *testing.T) *mock.Catalog {
	t.Helper()
	ctx := context.Background()
	cat := mock.NewCatalog()

	cat.AddItem(database.MediaItem{
		ID: beachID, Path: "2023/beach.jpg", Filename: "beach.jpg", Extension: ".jpg", Size: 3000,
		Width: 4000, Height: 3000,
		TakenAt: day("2023-07-01"), CameraModel: "Pixel 7",
		Latitude: ptr(50.08), Longitude: ptr(14.42),
		MetadataDone: true, TagDone: true, DetectDone: true, FaceDone: true,
	})
	cat.AddItem(database.MediaItem{
		ID: mountainID, Path: "2022/mountain.jpg", Filename: "mountain.jpg", Extension: ".jpg", Size: 2000,
		TakenAt: day("2022-01-15"), CameraModel: "Canon R6",
		MetadataDone: true, TagDone: true, DetectDone: true, FaceDone: true,
	})
	cat.AddItem(database.MediaItem{
		ID: officeID, Path: "misc/office.png", Filename: "office.png", Extension: ".png", Size: 1000,
		MetadataDone: true,
	})

	for _, tc := range []struct {
		item int64
		tag  database.NewTag
	}{
		{beachID, database.NewTag{Label: "beach", Score: 0.8, Source: database.SourceSemantic}},
		{beachID, database.NewTag{Label: "person", Score: 0.9, Source: database.SourceDetector, BBox: &database.BBox{1, 2, 30, 40}}},
		{mountainID, database.NewTag{Label: "mountain", Score: 0.7, Source: database.SourceSemantic}},
	} {
		if _, err := cat.AddTag(ctx, tc.item, tc.tag); err != nil {
			t.Fatalf("seed tag: %v", err)
		}
	}

	if id := cat.AddIdentity([]float32{1, 0}, "Alice Nováková"); id != aliceID {
		t.Fatalf("unexpected identity id %d", id)
	}
	if id := cat.AddIdentity([]float32{0, 1}, ""); id != unnamedID {
		t.Fatalf("unexpected identity id %d", id)
	}
	cat.AddDetectionDirect(database.Detection{ItemID: beachID, IdentityID: aliceID, BBox: database.BBox{10, 10, 50, 50}, Confidence: 0.9})
	cat.AddDetectionDirect(database.Detection{ItemID: mountainID, IdentityID: aliceID, BBox: database.BBox{5, 5, 25, 25}, Confidence: 0.8})
	cat.AddDetectionDirect(database.Detection{ItemID: beachID, IdentityID: unnamedID, BBox: database.BBox{60, 10, 90, 40}, Confidence: 0.7})

	return cat
}

var testLogger = logging.Discard()
