package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
)

// Match is the best identity found for a query.
type Match struct {
	ID         int64
	Similarity float64
}

// Matcher finds the identity most similar to a normalized query.
type Matcher interface {
	// Best returns the identity with the highest similarity at or above
	// threshold, preferring the lowest id on ties. ok is false when none qualifies.
	Best(ctx context.Context, tx database.IdentityTx, query []float32, threshold float64) (m Match, ok bool, err error)
	// Added records an identity created inside a transaction that may still roll back.
	Added(id int64, embedding []float32)
	// Removed records identities deleted by a committed merge.
	Removed(ids ...int64)
}

// bestOf scores candidates exactly against query.
func bestOf(candidates []database.IdentityEmbedding, query []float32, threshold float64) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		vec, ok := database.Normalize(c.Embedding)
		if !ok || len(vec) != len(query) {
			continue
		}
		sim := database.Dot(query, vec)
		if sim < threshold {
			continue
		}
		if !found || sim > best.Similarity || (sim == best.Similarity && c.ID < best.ID) {
			best = Match{ID: c.ID, Similarity: sim}
			found = true
		}
	}
	return best, found
}

// LinearMatcher compares the query with every identity.
type LinearMatcher struct{}

// NewLinearMatcher creates the exact, scan-everything matcher.
func NewLinearMatcher() *LinearMatcher {
	return &LinearMatcher{}
}

func (LinearMatcher) Best(ctx context.Context, tx database.IdentityTx, query []float32, threshold float64) (Match, bool, error) {
	all, err := tx.IdentityEmbeddings(ctx, 0)
	if err != nil {
		return Match{}, false, fmt.Errorf("load identities: %w", err)
	}
	m, ok := bestOf(all, query, threshold)
	return m, ok, nil
}

func (LinearMatcher) Added(id int64, embedding []float32) {}
func (LinearMatcher) Removed(ids ...int64)                {}

// HNSWMatcher narrows the search with an HNSW index, then rescores the
// candidates against their stored embeddings. Identities above the index's
// highest id are picked up from the store on every lookup.
type HNSWMatcher struct {
	index       *database.IdentityIndex
	candidates  int
	rebuildTail int

	mu    sync.Mutex
	built bool
}

// NewHNSWMatcher creates an index-backed matcher. The index is built lazily
// from the first transaction that needs it.
func NewHNSWMatcher() *HNSWMatcher {
	return &HNSWMatcher{
		index:       database.NewIdentityIndex(),
		candidates:  constants.IdentityCandidateCount,
		rebuildTail: constants.IdentityIndexRebuildTail,
	}
}

// sync brings the index up to date with identities visible in tx.
func (m *HNSWMatcher) sync(ctx context.Context, tx database.IdentityTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.built {
		all, err := tx.IdentityEmbeddings(ctx, 0)
		if err != nil {
			return fmt.Errorf("load identities: %w", err)
		}
		if err := m.build(all); err != nil {
			return err
		}
		m.built = true
		return nil
	}

	tail, err := tx.IdentityEmbeddings(ctx, m.index.MaxID())
	if err != nil {
		return fmt.Errorf("load new identities: %w", err)
	}
	if len(tail) > m.rebuildTail {
		all, err := tx.IdentityEmbeddings(ctx, 0)
		if err != nil {
			return fmt.Errorf("load identities: %w", err)
		}
		return m.build(all)
	}
	for _, ident := range tail {
		if err := m.index.Add(ident); err != nil && !errors.Is(err, database.ErrDimensionMismatch) {
			return fmt.Errorf("index identity %d: %w", ident.ID, err)
		}
	}
	return nil
}

// build indexes every identity whose dimension matches the first one.
func (m *HNSWMatcher) build(all []database.IdentityEmbedding) error {
	if err := m.index.Build(nil); err != nil {
		return fmt.Errorf("build identity index: %w", err)
	}
	for _, ident := range all {
		if err := m.index.Add(ident); err != nil && !errors.Is(err, database.ErrDimensionMismatch) {
			return fmt.Errorf("index identity %d: %w", ident.ID, err)
		}
	}
	return nil
}

func (m *HNSWMatcher) Best(ctx context.Context, tx database.IdentityTx, query []float32, threshold float64) (Match, bool, error) {
	if err := m.sync(ctx, tx); err != nil {
		return Match{}, false, err
	}
	if m.index.Count() == 0 {
		return Match{}, false, nil
	}

	ids, err := m.index.Search(query, m.candidates)
	if errors.Is(err, database.ErrDimensionMismatch) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, fmt.Errorf("search identity index: %w", err)
	}
	if len(ids) == 0 {
		return Match{}, false, nil
	}

	// Candidates may be stale (rolled back or merged away); use what the store has.
	stored, err := tx.IdentityEmbeddingsByID(ctx, ids)
	if err != nil {
		return Match{}, false, fmt.Errorf("load candidates: %w", err)
	}
	match, ok := bestOf(stored, query, threshold)
	return match, ok, nil
}

func (m *HNSWMatcher) Added(id int64, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.built {
		return
	}
	// A mismatched dimension is skipped here and never matched later.
	_ = m.index.Add(database.IdentityEmbedding{ID: id, Embedding: embedding})
}

func (m *HNSWMatcher) Removed(ids ...int64) {
	m.index.Remove(ids...)
}

// NewMatcher returns the matcher named by kind ("linear" or "hnsw").
func NewMatcher(kind string) (Matcher, error) {
	switch kind {
	case "", "linear":
		return NewLinearMatcher(), nil
	case "hnsw":
		return NewHNSWMatcher(), nil
	default:
		return nil, fmt.Errorf("unknown identity index %q", kind)
	}
}
