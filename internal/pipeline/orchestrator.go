package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/observability"
)

// Progress is a snapshot of a running annotation.
type Progress struct {
	Round     int                    `json:"round"`
	Processed map[database.Stage]int `json:"processed"`
	Pending   map[database.Stage]int `json:"pending"` // at start of the run
	Elapsed   time.Duration          `json:"elapsed"`
	Rate      float64                `json:"rate"` // items per second
}

// Total returns the number of items processed across stages.
func (p Progress) Total() int {
	n := 0
	for _, v := range p.Processed {
		n += v
	}
	return n
}

// TotalPending returns the number of items pending across stages at start.
func (p Progress) TotalPending() int {
	n := 0
	for _, v := range p.Pending {
		n += v
	}
	return n
}

func (p Progress) clone() Progress {
	p.Processed = maps.Clone(p.Processed)
	p.Pending = maps.Clone(p.Pending)
	return p
}

// Summary is the outcome of a run.
type Summary struct {
	Progress
	Stats *database.CatalogStats `json:"stats,omitempty"`
}

// Observer receives a progress snapshot after every round.
type Observer func(Progress)

// BatchRunner runs one batch of a stage.
type BatchRunner interface {
	RunBatch(ctx context.Context, stage database.Stage, batchSize int) (int, error)
}

// Orchestrator runs the stages round-robin until a whole round finds no work.
type Orchestrator struct {
	runner   BatchRunner
	reader   database.ItemReader
	stages   []database.Stage
	batches  map[database.Stage]int
	observer Observer
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBatchSizes overrides the per-stage batch sizes; non-positive values keep the default.
func WithBatchSizes(tag, detect, face int) OrchestratorOption {
	return func(o *Orchestrator) {
		for stage, n := range map[database.Stage]int{
			database.StageTag:    tag,
			database.StageDetect: detect,
			database.StageFace:   face,
		} {
			if n > 0 {
				o.batches[stage] = n
			}
		}
	}
}

// WithObserver sets the progress observer.
func WithObserver(fn Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithStages limits the run to the given stages, kept in pipeline order.
func WithStages(stages ...database.Stage) OrchestratorOption {
	return func(o *Orchestrator) {
		var selected []database.Stage
		for _, s := range database.AnnotationStages {
			for _, want := range stages {
				if s == want {
					selected = append(selected, s)
					break
				}
			}
		}
		o.stages = selected
	}
}

// WithOrchestratorLogger sets the orchestrator logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator over runner.
func NewOrchestrator(runner BatchRunner, reader database.ItemReader, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner: runner,
		reader: reader,
		stages: database.AnnotationStages,
		batches: map[database.Stage]int{
			database.StageTag:    constants.DefaultTagBatchSize,
			database.StageDetect: constants.DefaultDetectBatchSize,
			database.StageFace:   constants.DefaultFaceBatchSize,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pending returns the number of items waiting for each stage.
func (o *Orchestrator) Pending(ctx context.Context) (map[database.Stage]int, error) {
	pending := make(map[database.Stage]int, len(o.stages))
	for _, stage := range o.stages {
		n, err := o.reader.CountPending(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("count pending %s: %w", stage, err)
		}
		pending[stage] = n
	}
	return pending, nil
}

// Run processes every pending item. Cancellation is checked between
// batches; a canceled run returns its partial summary with ctx's error.
// A storage error stops the run.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	pending, err := o.Pending(ctx)
	if err != nil {
		return nil, err
	}
	for stage, n := range pending {
		observability.PendingItems.WithLabelValues(string(stage)).Set(float64(n))
	}

	progress := Progress{
		Processed: make(map[database.Stage]int, len(o.stages)),
		Pending:   pending,
	}
	for _, stage := range o.stages {
		progress.Processed[stage] = 0
	}
	o.logger.Info("annotation started", "pending", pending)

	update := func() {
		progress.Elapsed = time.Since(start)
		if secs := progress.Elapsed.Seconds(); secs > 0 {
			progress.Rate = float64(progress.Total()) / secs
		}
	}

	for {
		roundTotal := 0
		for _, stage := range o.stages {
			if err := ctx.Err(); err != nil {
				update()
				return &Summary{Progress: progress.clone()}, err
			}
			n, err := o.runner.RunBatch(ctx, stage, o.batches[stage])
			if err != nil {
				update()
				return &Summary{Progress: progress.clone()}, fmt.Errorf("run %s batch: %w", stage, err)
			}
			progress.Processed[stage] += n
			roundTotal += n
		}

		progress.Round++
		update()
		if o.observer != nil {
			o.observer(progress.clone())
		}
		if roundTotal == 0 {
			break
		}
	}

	summary := &Summary{Progress: progress.clone()}
	stats, err := o.reader.Stats(ctx)
	if err != nil {
		o.logger.Warn("failed to read catalog stats", "error", err)
	} else {
		summary.Stats = stats
		for stage, n := range stats.Pending {
			observability.PendingItems.WithLabelValues(string(stage)).Set(float64(n))
		}
	}

	o.logger.Info("annotation finished",
		"processed", summary.Total(),
		"rounds", summary.Round,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, nil
}
