package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

// Encoder embeds both images and text into one space.
type Encoder interface {
	ImageEncoder
	TextEncoder
}

// ZeroShotClassifier tags images by comparing their embedding with the
// embeddings of every vocabulary label.
type ZeroShotClassifier struct {
	encoder   Encoder
	labels    []string
	threshold float64
	topK      int

	mu      sync.Mutex
	vectors [][]float32 // normalized, parallel to labels; nil until loaded
}

// NewZeroShotClassifier creates a classifier over labels.
func NewZeroShotClassifier(encoder Encoder, labels []string, threshold float64, topK int) *ZeroShotClassifier {
	return &ZeroShotClassifier{
		encoder:   encoder,
		labels:    labels,
		threshold: threshold,
		topK:      topK,
	}
}

// labelVectors encodes the vocabulary once. A failed attempt is not cached
// so the next call retries.
func (c *ZeroShotClassifier) labelVectors(ctx context.Context) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vectors != nil {
		return c.vectors, nil
	}
	if len(c.labels) == 0 {
		return nil, errors.New("tag vocabulary is empty")
	}

	vectors := make([][]float32, len(c.labels))
	for i, label := range c.labels {
		emb, err := c.encoder.EncodeText(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("encode label %q: %w", label, err)
		}
		norm, ok := database.Normalize(emb)
		if !ok {
			return nil, fmt.Errorf("label %q has a zero embedding", label)
		}
		if i > 0 && len(norm) != len(vectors[0]) {
			return nil, fmt.Errorf("label %q embedding dimension %d, want %d", label, len(norm), len(vectors[0]))
		}
		vectors[i] = norm
	}
	c.vectors = vectors
	return vectors, nil
}

// Classify returns the labels scoring at least the threshold, best first,
// at most topK. The raw image embedding is returned alongside.
func (c *ZeroShotClassifier) Classify(ctx context.Context, img *Image) (*Classification, error) {
	vectors, err := c.labelVectors(ctx)
	if err != nil {
		return nil, err
	}

	emb, err := c.encoder.EncodeImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	norm, ok := database.Normalize(emb)
	if !ok {
		return nil, errors.New("image embedding is zero")
	}
	if len(norm) != len(vectors[0]) {
		return nil, fmt.Errorf("image embedding dimension %d, want %d", len(norm), len(vectors[0]))
	}

	var labels []Label
	for i, vec := range vectors {
		score := database.Dot(norm, vec)
		if score >= c.threshold {
			labels = append(labels, Label{Name: c.labels[i], Score: roundScore(score)})
		}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Score > labels[j].Score
	})
	if c.topK > 0 && len(labels) > c.topK {
		labels = labels[:c.topK]
	}

	return &Classification{Labels: labels, Embedding: emb}, nil
}

// roundScore rounds to three decimals and clamps to [0, 1].
func roundScore(s float64) float64 {
	s = math.Round(s*1000) / 1000
	return math.Max(0, math.Min(1, s))
}

var _ TagClassifier = (*ZeroShotClassifier)(nil)
