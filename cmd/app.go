package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/photo-annotator/internal/analyzer"
	"github.com/kozaktomas/photo-annotator/internal/config"
	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database/postgres"
	"github.com/kozaktomas/photo-annotator/internal/events"
	"github.com/kozaktomas/photo-annotator/internal/identity"
	"github.com/kozaktomas/photo-annotator/internal/mediastore"
	"github.com/kozaktomas/photo-annotator/internal/pipeline"
	"github.com/kozaktomas/photo-annotator/internal/search"
	"github.com/kozaktomas/photo-annotator/internal/web/handlers"
)

// app holds every long-lived component a command may need.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool       *postgres.Pool
	catalog    *postgres.CatalogRepository
	items      *postgres.ItemRepository
	tags       *postgres.TagRepository
	identities *postgres.IdentityRepository

	media     mediastore.Store
	inference *analyzer.Client
	publisher events.Publisher
	resolver  *identity.Resolver
	index     *search.Index
	service   *pipeline.Service
}

// newApp connects to the database, applies migrations and wires the
// pipeline. runOpts apply to every annotation run. Call close when done.
func newApp(ctx context.Context, runOpts ...pipeline.OrchestratorOption) (*app, error) {
	cfg := config.Load()
	a := &app{cfg: cfg, logger: logger}

	pool, applied, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	for _, name := range applied {
		logger.Info("applied migration", "name", name)
	}

	a.catalog = postgres.NewCatalogRepository(pool)
	a.items = postgres.NewItemRepository(pool)
	a.tags = postgres.NewTagRepository(pool)
	a.identities = postgres.NewIdentityRepository(pool)

	if err := a.wire(ctx, runOpts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, runOpts []pipeline.OrchestratorOption) error {
	cfg := a.cfg

	media, err := mediastore.New(ctx, cfg.Media)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	a.media = media

	publisher, err := events.New(cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		return err
	}
	a.publisher = publisher

	a.inference = analyzer.NewClient(cfg.Inference.URL, cfg.Inference.Timeout)
	tagger, err := analyzer.NewTagger(ctx, cfg, a.inference)
	if err != nil {
		return fmt.Errorf("tagger: %w", err)
	}

	matcher, err := identity.NewMatcher(cfg.Identity.Index)
	if err != nil {
		return err
	}
	a.resolver = identity.NewResolver(a.catalog, matcher, cfg.Identity.Threshold,
		identity.WithLogger(a.logger),
		identity.WithPublisher(publisher),
	)

	a.index = search.NewIndex(a.catalog, a.inference,
		search.WithTTL(cfg.Search.TTL),
		search.WithFloor(cfg.Search.Floor),
		search.WithLogger(a.logger),
	)

	runner := pipeline.NewRunner(a.catalog, pipeline.Analyzers{
		Loader:   analyzer.NewLoader(media, constants.MaxImageSize),
		Tagger:   tagger,
		Detector: a.inference,
		Faces:    a.inference,
		Encoder:  a.inference,
	}, a.resolver,
		pipeline.WithLogger(a.logger),
		pipeline.WithPublisher(publisher),
		pipeline.WithDetectConfidence(cfg.Pipeline.DetectConfidence),
		pipeline.WithInvalidator(a.index),
	)

	opts := append([]pipeline.OrchestratorOption{
		pipeline.WithBatchSizes(cfg.Pipeline.TagBatchSize, cfg.Pipeline.DetectBatchSize, cfg.Pipeline.FaceBatchSize),
		pipeline.WithOrchestratorLogger(a.logger),
	}, runOpts...)
	a.service = pipeline.NewService(runner, a.catalog, opts...)
	return nil
}

// checks returns the readiness probes of every external dependency in use.
func (a *app) checks() map[string]handlers.Check {
	checks := map[string]handlers.Check{
		"database":  a.pool.Ping,
		"inference": a.inference.Health,
	}
	if m, ok := a.media.(*mediastore.MinIO); ok {
		checks["media"] = m.Ping
	}
	if n, ok := a.publisher.(*events.NATS); ok {
		checks["nats"] = func(context.Context) error { return n.Ping() }
	}
	return checks
}

func (a *app) close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}
