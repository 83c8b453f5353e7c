// Package pipeline drives the annotation stages over pending catalog items.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/analyzer"
	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/events"
	"github.com/kozaktomas/photo-annotator/internal/identity"
	"github.com/kozaktomas/photo-annotator/internal/mediastore"
	"github.com/kozaktomas/photo-annotator/internal/observability"
)

// Analyzers groups the capabilities used by the stages.
type Analyzers struct {
	Loader   analyzer.ImageLoader
	Tagger   analyzer.TagClassifier
	Detector analyzer.ObjectDetector
	Faces    analyzer.FaceExtractor
	Encoder  analyzer.ImageEncoder
}

// BatchResult counts the outcomes of one committed batch.
type BatchResult struct {
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Missing    int `json:"missing"`
	Failed     int `json:"failed"`
	Tags       int `json:"tags"`
	Detections int `json:"detections"`
}

func (b *BatchResult) count(outcome string) {
	switch outcome {
	case observability.OutcomeDone:
		b.Succeeded++
	case observability.OutcomeMissing:
		b.Missing++
	case observability.OutcomeFailed:
		b.Failed++
	}
}

// Runner processes one batch of one stage at a time.
type Runner struct {
	catalog          database.Transactor
	analyzers        Analyzers
	resolver         *identity.Resolver
	detectConfidence float64
	publisher        events.Publisher
	logger           *slog.Logger
	invalidator      Invalidator
}

// Invalidator is told when stored item embeddings change.
type Invalidator interface {
	Invalidate()
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithPublisher sets where batch events are published.
func WithPublisher(p events.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithDetectConfidence sets the minimum detector confidence for a tag.
func WithDetectConfidence(c float64) Option {
	return func(r *Runner) { r.detectConfidence = c }
}

// WithInvalidator registers a cache to invalidate after embeddings are backfilled.
func WithInvalidator(i Invalidator) Option {
	return func(r *Runner) { r.invalidator = i }
}

// NewRunner creates a stage runner.
func NewRunner(catalog database.Transactor, analyzers Analyzers, resolver *identity.Resolver, opts ...Option) *Runner {
	r := &Runner{
		catalog:          catalog,
		analyzers:        analyzers,
		resolver:         resolver,
		detectConfidence: constants.DefaultDetectConfidence,
		publisher:        events.Nop{},
		logger:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunBatch processes up to batchSize pending items of stage in one
// transaction and returns the number of items attempted. Zero means the
// stage has no pending work. A storage error rolls the whole batch back.
// Once started, a batch runs to completion even if ctx is canceled.
func (r *Runner) RunBatch(ctx context.Context, stage database.Stage, batchSize int) (int, error) {
	res, err := r.runBatch(ctx, stage, batchSize)
	if err != nil {
		return 0, err
	}
	return res.Attempted, nil
}

func (r *Runner) runBatch(ctx context.Context, stage database.Stage, batchSize int) (BatchResult, error) {
	if err := r.checkStage(stage); err != nil {
		return BatchResult{}, err
	}
	if batchSize <= 0 {
		return BatchResult{}, fmt.Errorf("invalid batch size %d", batchSize)
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	var res BatchResult
	err := r.catalog.WithTx(ctx, func(tx database.Tx) error {
		res = BatchResult{}
		items, err := tx.PendingItems(ctx, stage, batchSize)
		if err != nil {
			return fmt.Errorf("select pending items: %w", err)
		}
		res.Attempted = len(items)

		for i := range items {
			item := &items[i]
			outcome, err := r.processItem(ctx, tx, stage, item, &res)
			if err != nil {
				return fmt.Errorf("%s item %d: %w", stage, item.ID, err)
			}
			if err := tx.MarkStageDone(ctx, item.ID, stage); err != nil {
				return fmt.Errorf("mark item %d %s done: %w", item.ID, stage, err)
			}
			res.count(outcome)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("batch rolled back", "stage", stage, "error", err)
		return BatchResult{}, err
	}
	if res.Attempted == 0 {
		return res, nil
	}

	observability.BatchDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	observability.ItemsProcessed.WithLabelValues(string(stage), observability.OutcomeDone).Add(float64(res.Succeeded))
	observability.ItemsProcessed.WithLabelValues(string(stage), observability.OutcomeMissing).Add(float64(res.Missing))
	observability.ItemsProcessed.WithLabelValues(string(stage), observability.OutcomeFailed).Add(float64(res.Failed))
	if source, ok := stageSource(stage); ok {
		observability.TagsInserted.WithLabelValues(string(source)).Add(float64(res.Tags))
	}

	r.logger.Info("batch committed",
		"stage", stage,
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"missing", res.Missing,
		"failed", res.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	r.publish(ctx, events.BatchCompleted{
		Stage:     string(stage),
		Attempted: res.Attempted,
		Succeeded: res.Succeeded,
		Missing:   res.Missing,
		Failed:    res.Failed,
		At:        time.Now().UTC(),
	})
	return res, nil
}

func (r *Runner) checkStage(stage database.Stage) error {
	switch stage {
	case database.StageTag:
		if r.analyzers.Tagger == nil {
			return errors.New("no tag classifier configured")
		}
	case database.StageDetect:
		if r.analyzers.Detector == nil {
			return errors.New("no object detector configured")
		}
	case database.StageFace:
		if r.analyzers.Faces == nil {
			return errors.New("no face extractor configured")
		}
		if r.resolver == nil {
			return errors.New("no identity resolver configured")
		}
	default:
		return fmt.Errorf("stage %q is not run by the pipeline", stage)
	}
	if r.analyzers.Loader == nil {
		return errors.New("no image loader configured")
	}
	return nil
}

func stageSource(stage database.Stage) (database.TagSource, bool) {
	switch stage {
	case database.StageTag:
		return database.SourceSemantic, true
	case database.StageDetect:
		return database.SourceDetector, true
	}
	return "", false
}

// processItem analyzes one item and stores the results. Analyzer failures
// are logged and reported as an outcome; only storage errors are returned.
func (r *Runner) processItem(ctx context.Context, tx database.StageTx, stage database.Stage, item *database.MediaItem, res *BatchResult) (string, error) {
	log := r.logger.With("stage", stage, "item_id", item.ID, "path", item.Path)

	img, err := r.analyzers.Loader.Load(ctx, item.Path)
	if errors.Is(err, mediastore.ErrNotExist) {
		log.Warn("media file missing")
		return observability.OutcomeMissing, nil
	}
	if err != nil {
		log.Error("failed to load image", "error", err)
		return observability.OutcomeFailed, nil
	}

	start := time.Now()
	defer func() {
		observability.AnalyzerDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	switch stage {
	case database.StageTag:
		return r.tagItem(ctx, tx, item, img, res, log)
	case database.StageDetect:
		return r.detectItem(ctx, tx, item, img, res, log)
	default:
		return r.faceItem(ctx, tx, item, img, res, log)
	}
}

func (r *Runner) tagItem(ctx context.Context, tx database.StageTx, item *database.MediaItem, img *analyzer.Image, res *BatchResult, log *slog.Logger) (string, error) {
	cls, err := r.analyzers.Tagger.Classify(ctx, img)
	if err != nil {
		log.Error("tagging failed", "error", err)
		return observability.OutcomeFailed, nil
	}

	tags := make([]database.NewTag, 0, len(cls.Labels))
	for _, l := range cls.Labels {
		tags = append(tags, database.NewTag{Label: l.Name, Score: l.Score, Source: database.SourceSemantic})
	}
	if len(tags) > 0 {
		n, err := tx.AddTags(ctx, item.ID, tags)
		if err != nil {
			return "", fmt.Errorf("store tags: %w", err)
		}
		res.Tags += n
	}

	if !item.HasEmbedding && len(cls.Embedding) > 0 {
		if err := tx.SetItemEmbedding(ctx, item.ID, cls.Embedding); err != nil {
			return "", fmt.Errorf("store embedding: %w", err)
		}
	}
	return observability.OutcomeDone, nil
}

func (r *Runner) detectItem(ctx context.Context, tx database.StageTx, item *database.MediaItem, img *analyzer.Image, res *BatchResult, log *slog.Logger) (string, error) {
	objects, err := r.analyzers.Detector.Detect(ctx, img)
	if err != nil {
		log.Error("object detection failed", "error", err)
		return observability.OutcomeFailed, nil
	}

	tags := detectionTags(objects, r.detectConfidence)
	if len(tags) > 0 {
		n, err := tx.AddTags(ctx, item.ID, tags)
		if err != nil {
			return "", fmt.Errorf("store detections: %w", err)
		}
		res.Tags += n
	}
	return observability.OutcomeDone, nil
}

// detectionTags keeps the most confident object per label at or above minConfidence.
// Objects whose score or box cannot be stored are dropped.
func detectionTags(objects []analyzer.Object, minConfidence float64) []database.NewTag {
	best := make(map[string]analyzer.Object)
	for _, o := range objects {
		label := strings.ToLower(strings.TrimSpace(o.Label))
		if label == "" || !validScore(o.Confidence) || !bboxFits(o.BBox) || o.Confidence < minConfidence {
			continue
		}
		if cur, ok := best[label]; !ok || o.Confidence > cur.Confidence {
			best[label] = o
		}
	}

	tags := make([]database.NewTag, 0, len(best))
	for label, o := range best {
		bbox := o.BBox
		tags = append(tags, database.NewTag{
			Label:  label,
			Score:  o.Confidence,
			Source: database.SourceDetector,
			BBox:   &bbox,
		})
	}
	slices.SortFunc(tags, func(a, b database.NewTag) int { return cmp.Compare(a.Label, b.Label) })
	return tags
}

func (r *Runner) faceItem(ctx context.Context, tx database.StageTx, item *database.MediaItem, img *analyzer.Image, res *BatchResult, log *slog.Logger) (string, error) {
	faces, err := r.analyzers.Faces.ExtractFaces(ctx, img)
	if err != nil {
		log.Error("face extraction failed", "error", err)
		return observability.OutcomeFailed, nil
	}

	for i, face := range faces {
		if !bboxFits(face.BBox) {
			log.Warn("skipping face with out of range box", "face", i, "bbox", face.BBox)
			continue
		}
		resolution, err := r.resolver.Resolve(ctx, tx, face.Embedding, identity.Attributes{
			Age:    face.Age,
			Gender: face.Gender,
		})
		if errors.Is(err, identity.ErrZeroEmbedding) {
			log.Warn("skipping face without embedding", "face", i)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolve face %d: %w", i, err)
		}

		added, err := tx.AddDetection(ctx, database.Detection{
			ItemID:     item.ID,
			IdentityID: resolution.IdentityID,
			BBox:       face.BBox,
			Confidence: face.Confidence,
		})
		if err != nil {
			return "", fmt.Errorf("store detection: %w", err)
		}
		if added {
			res.Detections++
		}
	}
	return observability.OutcomeDone, nil
}

// validScore reports whether s fits the tag score column, [0, 1].
func validScore(s float64) bool {
	return !math.IsNaN(s) && s >= 0 && s <= 1
}

// bboxFits reports whether every coordinate fits an INTEGER column.
func bboxFits(b database.BBox) bool {
	for _, x := range b {
		if x < math.MinInt32 || x > math.MaxInt32 {
			return false
		}
	}
	return true
}

func (r *Runner) publish(ctx context.Context, e events.Event) {
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.logger.Warn("failed to publish event", "subject", e.Subject(), "error", err)
	}
}
