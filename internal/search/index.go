// Package search ranks catalog items against free-text queries using the
// items' image embeddings.
package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/photo-annotator/internal/analyzer"
	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/observability"
)

// Result is one ranked item.
type Result struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
}

// Stats describes the cached embeddings.
type Stats struct {
	Items   int           `json:"items"`
	Built   bool          `json:"built"`
	BuiltAt time.Time     `json:"built_at,omitzero"`
	Age     time.Duration `json:"age"`
}

type snapshot struct {
	ids     []int64
	vectors [][]float32
	builtAt time.Time
}

// EmbeddingSource lists item embeddings.
type EmbeddingSource interface {
	ListItemEmbeddings(ctx context.Context) ([]database.ItemEmbedding, error)
}

// Index holds normalized item embeddings in memory and rebuilds them after
// the TTL expires. Concurrent rebuilds collapse into one.
type Index struct {
	source  EmbeddingSource
	encoder analyzer.TextEncoder
	ttl     time.Duration
	floor   float64
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	snap  *snapshot

	// gen counts invalidations; a rebuild started under an older gen is not cached.
	gen uint64
}

// Option configures an Index.
type Option func(*Index)

// WithTTL sets how long a snapshot is served.
func WithTTL(ttl time.Duration) Option {
	return func(ix *Index) { ix.ttl = ttl }
}

// WithFloor sets the score a result must exceed.
func WithFloor(floor float64) Option {
	return func(ix *Index) { ix.floor = floor }
}

// WithLogger sets the index logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// NewIndex creates an empty index; the first search builds it.
func NewIndex(source EmbeddingSource, encoder analyzer.TextEncoder, opts ...Option) *Index {
	ix := &Index{
		source:  source,
		encoder: encoder,
		ttl:     constants.DefaultSearchTTLSeconds * time.Second,
		floor:   constants.DefaultSearchFloor,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Search returns up to limit items scoring above the floor, best first.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	start := time.Now()
	defer func() { observability.SearchDuration.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}

	snap, err := ix.current(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap.ids) == 0 {
		return []Result{}, nil
	}

	raw, err := ix.encoder.EncodeText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	q, ok := database.Normalize(raw)
	if !ok {
		return []Result{}, nil
	}

	results := make([]Result, 0, limit)
	for i, vec := range snap.vectors {
		if len(vec) != len(q) {
			continue
		}
		score := database.Dot(q, vec)
		if score > ix.floor {
			results = append(results, Result{ItemID: snap.ids[i], Score: score})
		}
	}
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Stats reports the cached snapshot without triggering a rebuild.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	snap := ix.snap
	ix.mu.RUnlock()

	if snap == nil {
		return Stats{}
	}
	return Stats{
		Items:   len(snap.ids),
		Built:   true,
		BuiltAt: snap.builtAt,
		Age:     ix.now().Sub(snap.builtAt),
	}
}

// Invalidate makes the next search rebuild the snapshot.
func (ix *Index) Invalidate() {
	ix.mu.Lock()
	ix.snap = nil
	ix.gen++
	ix.mu.Unlock()
}

func (ix *Index) fresh() (*snapshot, uint64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap != nil && ix.now().Sub(ix.snap.builtAt) < ix.ttl {
		return ix.snap, ix.gen
	}
	return nil, ix.gen
}

func (ix *Index) current(ctx context.Context) (*snapshot, error) {
	snap, gen := ix.fresh()
	if snap != nil {
		return snap, nil
	}

	// The rebuild outlives a canceled waiter so the others still get it.
	// Callers arriving after an Invalidate do not join an older rebuild.
	v, err, _ := ix.group.Do(fmt.Sprintf("rebuild-%d", gen), func() (any, error) {
		if snap, _ := ix.fresh(); snap != nil {
			return snap, nil
		}
		return ix.rebuild(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (ix *Index) rebuild(ctx context.Context, gen uint64) (*snapshot, error) {
	embeddings, err := ix.source.ListItemEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load item embeddings: %w", err)
	}

	snap := &snapshot{
		ids:     make([]int64, 0, len(embeddings)),
		vectors: make([][]float32, 0, len(embeddings)),
		builtAt: ix.now(),
	}
	for _, e := range embeddings {
		vec, ok := database.Normalize(e.Embedding)
		if !ok {
			continue
		}
		snap.ids = append(snap.ids, e.ItemID)
		snap.vectors = append(snap.vectors, vec)
	}

	ix.mu.Lock()
	stale := ix.gen != gen
	if !stale {
		ix.snap = snap
	}
	ix.mu.Unlock()
	if stale {
		ix.logger.Debug("discarding search snapshot built before invalidation", "items", len(snap.ids))
		return snap, nil
	}

	observability.SearchRebuilds.Inc()
	observability.SearchCacheSize.Set(float64(len(snap.ids)))
	ix.logger.Info("search index rebuilt", "items", len(snap.ids))
	return snap, nil
}
