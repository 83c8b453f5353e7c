// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Annotation pipeline constants
const (
	// DefaultTagBatchSize is the number of items pulled per tag batch
	DefaultTagBatchSize = 20

	// DefaultDetectBatchSize is the number of items pulled per object detection batch
	DefaultDetectBatchSize = 20

	// DefaultFaceBatchSize is the number of items pulled per face batch
	DefaultFaceBatchSize = 10

	// MaxImageSize is the maximum dimension (width or height) of images sent to analyzers
	MaxImageSize = 2048

	// JPEGQuality is the quality used when re-encoding scaled images
	JPEGQuality = 90
)

// AnalysableExtensions lists the upper-cased file extensions the pipeline processes.
var AnalysableExtensions = []string{".HEIC", ".JPG", ".JPEG", ".PNG"}

// Tagging constants
const (
	// DefaultTagThreshold is the minimum zero-shot similarity for a semantic tag
	DefaultTagThreshold = 0.20

	// DefaultTagTopK is the maximum number of semantic tags kept per item
	DefaultTagTopK = 10

	// DefaultDetectConfidence is the minimum object detector confidence
	DefaultDetectConfidence = 0.40

	// ManualTagScore is the score assigned to user-created tags
	ManualTagScore = 1.0
)

// Identity resolution constants
const (
	// DefaultIdentityThreshold is the minimum cosine similarity for a face to join an identity
	DefaultIdentityThreshold = 0.45

	// IdentityCandidateCount is the number of ANN candidates rescored exactly per lookup
	IdentityCandidateCount = 16

	// IdentityIndexRebuildTail is the number of un-indexed identities that triggers an ANN rebuild
	IdentityIndexRebuildTail = 256

	// IdentityGraphNeighbors is the HNSW M parameter of the identity index
	IdentityGraphNeighbors = 16

	// IdentityGraphEfSearch is the HNSW search candidate pool of the identity index
	IdentityGraphEfSearch = 100

	// IdentityGraphOversample multiplies k so removed identities can be skipped
	IdentityGraphOversample = 3
)

// Semantic search constants
const (
	// DefaultSearchTTLSeconds is how long the embedding cache is served before a rebuild
	DefaultSearchTTLSeconds = 600

	// DefaultSearchFloor is the minimum score a search hit must exceed
	DefaultSearchFloor = 0.15

	// DefaultSearchLimit is the default number of semantic search results
	DefaultSearchLimit = 50
)

// Normalization tolerance for unit vectors
const UnitNormTolerance = 1e-5
