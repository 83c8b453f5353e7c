package pipeline

import (
	"context"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
)

// Service bundles a runner with the reader it needs for whole-catalog runs.
type Service struct {
	runner        *Runner
	reader        database.ItemReader
	opts          []OrchestratorOption
	backfillBatch int
}

// NewService creates a service. opts apply to every annotation run.
func NewService(runner *Runner, reader database.ItemReader, opts ...OrchestratorOption) *Service {
	return &Service{
		runner:        runner,
		reader:        reader,
		opts:          opts,
		backfillBatch: constants.DefaultTagBatchSize,
	}
}

// Annotate runs every stage until no work is left, reporting progress to observe.
func (s *Service) Annotate(ctx context.Context, observe Observer) (*Summary, error) {
	opts := append(append([]OrchestratorOption(nil), s.opts...), WithObserver(observe))
	return NewOrchestrator(s.runner, s.reader, opts...).Run(ctx)
}

// Pending returns the per-stage pending counts.
func (s *Service) Pending(ctx context.Context) (map[database.Stage]int, error) {
	return NewOrchestrator(s.runner, s.reader, s.opts...).Pending(ctx)
}

// Backfill computes missing item embeddings.
func (s *Service) Backfill(ctx context.Context, progress func(BackfillResult)) (BackfillResult, error) {
	return s.runner.Backfill(ctx, s.backfillBatch, progress)
}
