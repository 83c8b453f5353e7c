package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/photo-annotator/internal/constants"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// IdentityIndex wraps an HNSW graph over identity representative embeddings.
// Vectors are stored normalized. Deleted identities stay in the graph but are
// dropped from results, since the graph has no true deletion.
type IdentityIndex struct {
	graph *hnsw.Graph[int64]
	live  map[int64]bool
	dim   int
	maxID int64
	mu    sync.RWMutex
}

// NewIdentityIndex creates a new empty index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{
		live: make(map[int64]bool),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.IdentityGraphNeighbors
	g.Ml = 1.0 / float64(constants.IdentityGraphNeighbors)
	g.EfSearch = constants.IdentityGraphEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index content with the given identities.
func (h *IdentityIndex) Build(identities []IdentityEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = newGraph()
	h.live = make(map[int64]bool, len(identities))
	h.dim = 0
	h.maxID = 0

	for _, ident := range identities {
		if err := h.addLocked(ident); err != nil {
			return err
		}
	}
	return nil
}

// Add inserts one identity.
func (h *IdentityIndex) Add(ident IdentityEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newGraph()
	}
	return h.addLocked(ident)
}

func (h *IdentityIndex) addLocked(ident IdentityEmbedding) error {
	vec, ok := Normalize(ident.Embedding)
	if !ok {
		return nil
	}
	if h.dim == 0 {
		h.dim = len(vec)
	} else if len(vec) != h.dim {
		return ErrDimensionMismatch
	}

	h.graph.Add(hnsw.MakeNode(ident.ID, vec))
	h.live[ident.ID] = true
	if ident.ID > h.maxID {
		h.maxID = ident.ID
	}
	return nil
}

// Remove hides identities from future results.
func (h *IdentityIndex) Remove(ids ...int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range ids {
		delete(h.live, id)
	}
}

// Search returns up to k live identity ids nearest to query, closest first.
func (h *IdentityIndex) Search(query []float32, k int) ([]int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || h.graph.Len() == 0 {
		return nil, nil
	}
	vec, ok := Normalize(query)
	if !ok {
		return nil, nil
	}
	if len(vec) != h.dim {
		return nil, ErrDimensionMismatch
	}

	neighbors := h.graph.Search(vec, k*constants.IdentityGraphOversample)
	ids := make([]int64, 0, k)
	for _, n := range neighbors {
		if !h.live[n.Key] {
			continue
		}
		ids = append(ids, n.Key)
		if len(ids) == k {
			break
		}
	}
	return ids, nil
}

// MaxID is the highest identity id ever added; identities above it are not indexed.
func (h *IdentityIndex) MaxID() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxID
}

// Count returns the number of live identities.
func (h *IdentityIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}
