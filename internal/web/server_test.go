package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/photo-annotator/internal/config"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/database/mock"
	"github.com/kozaktomas/photo-annotator/internal/identity"
	"github.com/kozaktomas/photo-annotator/internal/logging"
	"github.com/kozaktomas/photo-annotator/internal/pipeline"
	"github.com/kozaktomas/photo-annotator/internal/search"
	"github.com/kozaktomas/photo-annotator/internal/web/handlers"
)

type nopSearcher struct{}

func (nopSearcher) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return []search.Result{{ItemID: 1, Score: 0.5}}, nil
}

func (nopSearcher) Stats() search.Stats { return search.Stats{} }

type nopAnnotator struct{}

func (nopAnnotator) Annotate(ctx context.Context, observe pipeline.Observer) (*pipeline.Summary, error) {
	return &pipeline.Summary{}, nil
}

func (nopAnnotator) Pending(ctx context.Context) (map[database.Stage]int, error) {
	return map[database.Stage]int{database.StageTag: 0}, nil
}

func (nopAnnotator) Backfill(ctx context.Context, progress func(pipeline.BackfillResult)) (pipeline.BackfillResult, error) {
	return pipeline.BackfillResult{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cat := mock.NewCatalog()
	cat.AddItem(database.MediaItem{ID: 1, Path: "a.jpg", Extension: ".jpg", MetadataDone: true})
	cat.AddIdentity([]float32{1, 0}, "Eva")

	cfg := &config.Config{Web: config.WebConfig{Host: "127.0.0.1", Port: 0}}
	return NewServer(cfg, Dependencies{
		Items:      cat,
		Tags:       cat,
		Identities: cat,
		Merger:     identity.NewResolver(cat, nil, 0),
		Search:     nopSearcher{},
		Annotator:  nopAnnotator{},
		Checks: map[string]handlers.Check{
			"database": func(ctx context.Context) error { return nil },
		},
	}, logging.Discard())
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/api/v1/health", http.StatusOK},
		{"GET", "/api/v1/ready", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/v1/items", http.StatusOK},
		{"GET", "/api/v1/items/1", http.StatusOK},
		{"GET", "/api/v1/items/2", http.StatusNotFound},
		{"GET", "/api/v1/items/filters", http.StatusOK},
		{"GET", "/api/v1/items/geo", http.StatusOK},
		{"GET", "/api/v1/search?q=cat", http.StatusOK},
		{"GET", "/api/v1/search/stats", http.StatusOK},
		{"GET", "/api/v1/identities", http.StatusOK},
		{"GET", "/api/v1/identities/1", http.StatusOK},
		{"GET", "/api/v1/identities/search?q=eva", http.StatusOK},
		{"GET", "/api/v1/tags/autocomplete?q=x", http.StatusOK},
		{"GET", "/api/v1/annotate/pending", http.StatusOK},
		{"GET", "/api/v1/annotate/unknown", http.StatusNotFound},
		{"GET", "/api/v1/nothing-here", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			srv.Router().ServeHTTP(recorder, httptest.NewRequest(tc.method, tc.path, nil))
			if recorder.Code != tc.status {
				t.Errorf("expected %d, got %d\nBody: %s", tc.status, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestRoutes_RenameThroughRouter(t *testing.T) {
	srv := newTestServer(t)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/api/v1/identities/1", strings.NewReader(`{"name":"Eva Svobodová"}`))
	srv.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp handlers.IdentityResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Label != "Eva Svobodová" {
		t.Errorf("expected renamed identity, got %q", resp.Label)
	}
}

func TestServerShutdownWithoutStart(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
