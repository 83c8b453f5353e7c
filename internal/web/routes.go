package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/photo-annotator/internal/web/handlers"
)

// requestTimeout bounds every non-streaming API request.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes(deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Checks)
	itemsHandler := handlers.NewItemsHandler(deps.Items, s.logger)
	tagsHandler := handlers.NewTagsHandler(deps.Tags, s.logger)
	identitiesHandler := handlers.NewIdentitiesHandler(deps.Identities, deps.Merger, s.logger)
	searchHandler := handlers.NewSearchHandler(deps.Search, deps.Items, s.logger)
	annotateHandler := handlers.NewAnnotateHandler(deps.Annotator, s.jobManager, s.logger)

	s.router.Get("/api/v1/health", healthHandler.Live)
	s.router.Get("/api/v1/ready", healthHandler.Ready)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Event streams stay open for the lifetime of a job.
		r.Get("/annotate/{jobId}/events", annotateHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Items
			r.Get("/items", itemsHandler.List)
			r.Get("/items/filters", itemsHandler.Filters)
			r.Get("/items/geo", itemsHandler.Geo)
			r.Get("/items/{id}", itemsHandler.Get)
			r.Post("/items/{id}/tags", tagsHandler.Add)

			// Tags
			r.Get("/tags/autocomplete", tagsHandler.Autocomplete)
			r.Post("/tags/{id}/toggle", tagsHandler.Toggle)
			r.Put("/tags/{id}/label", tagsHandler.SetLabel)
			r.Delete("/tags/{id}", tagsHandler.Delete)

			// Semantic search
			r.Get("/search", searchHandler.Search)
			r.Get("/search/stats", searchHandler.Stats)

			// Identities
			r.Get("/identities", identitiesHandler.List)
			r.Get("/identities/search", identitiesHandler.Search)
			r.Post("/identities/merge", identitiesHandler.Merge)
			r.Get("/identities/{id}", identitiesHandler.Get)
			r.Put("/identities/{id}", identitiesHandler.Rename)
			r.Get("/identities/{id}/items", identitiesHandler.Items)
			r.Get("/identities/{id}/crop", identitiesHandler.Crop)

			// Annotation jobs
			r.Post("/annotate", annotateHandler.Start)
			r.Get("/annotate/pending", annotateHandler.Pending)
			r.Get("/annotate/{jobId}", annotateHandler.Status)
			r.Delete("/annotate/{jobId}", annotateHandler.Cancel)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})
}
