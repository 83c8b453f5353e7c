// Package identity resolves face embeddings to persistent identities and
// merges identities that turn out to be the same person.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/events"
	"github.com/kozaktomas/photo-annotator/internal/observability"
)

// ErrZeroEmbedding is returned for a face embedding that cannot be normalized.
var ErrZeroEmbedding = errors.New("face embedding has zero norm")

// Attributes are stored on an identity when a face creates it.
type Attributes struct {
	Age      *int
	Gender   *string
	Category string
}

// Resolution is the outcome of resolving one face.
type Resolution struct {
	IdentityID int64
	Created    bool
	Similarity float64
}

// Resolver assigns faces to identities. Resolve runs inside the caller's
// transaction; Merge opens its own.
type Resolver struct {
	catalog   database.Transactor
	matcher   Matcher
	threshold float64
	publisher events.Publisher
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithPublisher sets where merge events are published.
func WithPublisher(p events.Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

// NewResolver creates a resolver. A non-positive threshold selects the default.
func NewResolver(catalog database.Transactor, matcher Matcher, threshold float64, opts ...Option) *Resolver {
	if matcher == nil {
		matcher = NewLinearMatcher()
	}
	if threshold <= 0 {
		threshold = constants.DefaultIdentityThreshold
	}
	r := &Resolver{
		catalog:   catalog,
		matcher:   matcher,
		threshold: threshold,
		publisher: events.Nop{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the minimum similarity for joining an identity.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve returns the identity the face belongs to, creating one when no
// identity reaches the threshold. A new identity keeps the face embedding as
// given; the representative embedding of an existing identity never changes.
func (r *Resolver) Resolve(ctx context.Context, tx database.IdentityTx, embedding []float32, attrs Attributes) (Resolution, error) {
	query, ok := database.Normalize(embedding)
	if !ok {
		return Resolution{}, ErrZeroEmbedding
	}

	match, found, err := r.matcher.Best(ctx, tx, query, r.threshold)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		observability.IdentitiesMatched.Inc()
		return Resolution{IdentityID: match.ID, Similarity: match.Similarity}, nil
	}

	category := attrs.Category
	if category == "" {
		category = database.CategoryPerson
	}
	id, err := tx.CreateIdentity(ctx, database.NewIdentity{
		Embedding:      embedding,
		AgeEstimate:    attrs.Age,
		GenderEstimate: attrs.Gender,
		Category:       category,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create identity: %w", err)
	}
	r.matcher.Added(id, query)
	observability.IdentitiesCreated.Inc()
	r.logger.Debug("created identity", "identity_id", id)

	return Resolution{IdentityID: id, Created: true, Similarity: 1}, nil
}

// Merge folds the source identities into target. Detections of a source on
// an item the target already covers are dropped, the rest are reassigned,
// and the sources are deleted, all in one transaction.
func (r *Resolver) Merge(ctx context.Context, sourceIDs []int64, targetID int64) (*database.MergeResult, error) {
	sources := mergeSources(sourceIDs, targetID)
	if len(sources) == 0 {
		return nil, database.ErrNoMergeSources
	}

	var count int
	err := r.catalog.WithTx(ctx, func(tx database.Tx) error {
		ok, err := tx.IdentityExists(ctx, targetID)
		if err != nil {
			return fmt.Errorf("check target: %w", err)
		}
		if !ok {
			return database.ErrNotFound
		}

		for _, src := range sources {
			if _, err := tx.DeleteOverlappingDetections(ctx, src, targetID); err != nil {
				return fmt.Errorf("drop overlapping detections of %d: %w", src, err)
			}
			if _, err := tx.ReassignDetections(ctx, src, targetID); err != nil {
				return fmt.Errorf("reassign detections of %d: %w", src, err)
			}
		}
		if _, err := tx.DeleteIdentities(ctx, sources); err != nil {
			return fmt.Errorf("delete merged identities: %w", err)
		}

		count, err = tx.CountDetections(ctx, targetID)
		if err != nil {
			return fmt.Errorf("count detections: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.matcher.Removed(sources...)
	observability.IdentitiesMerged.Add(float64(len(sources)))
	r.logger.Info("merged identities", "target_id", targetID, "sources", sources, "detections", count)

	event := events.IdentitiesMerged{
		TargetID:       targetID,
		SourceIDs:      sources,
		DetectionCount: count,
		At:             time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish merge event", "error", err)
	}

	return &database.MergeResult{
		TargetID:       targetID,
		MergedCount:    len(sources),
		DetectionCount: count,
	}, nil
}

// mergeSources returns the distinct source ids other than target, sorted.
func mergeSources(ids []int64, target int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
