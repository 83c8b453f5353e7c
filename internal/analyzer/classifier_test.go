package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	mu        sync.Mutex
	text      map[string][]float32
	image     []float32
	textErr   error
	textCalls int
}

func (f *fakeEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.text[text], nil
}

func (f *fakeEncoder) EncodeImage(ctx context.Context, img *Image) ([]float32, error) {
	return f.image, nil
}

func TestZeroShotClassifier_Classify(t *testing.T) {
	enc := &fakeEncoder{
		text: map[string][]float32{
			"beach":    {1, 0, 0},
			"mountain": {0, 1, 0},
			"dog":      {0.8, 0.6, 0},
			"car":      {0, 0, 1},
		},
		// Unnormalized on purpose: scores must not depend on magnitude.
		image: []float32{3, 1.5, 0},
	}
	c := NewZeroShotClassifier(enc, []string{"beach", "mountain", "dog", "car"}, 0.20, 2)

	res, err := c.Classify(context.Background(), &Image{})
	require.NoError(t, err)

	// image direction (0.894, 0.447, 0): dog 0.984, beach 0.894, mountain 0.447, car 0
	require.Len(t, res.Labels, 2)
	assert.Equal(t, "dog", res.Labels[0].Name)
	assert.Equal(t, "beach", res.Labels[1].Name)
	assert.InDelta(t, 0.984, res.Labels[0].Score, 1e-9)
	assert.InDelta(t, 0.894, res.Labels[1].Score, 1e-9)
	assert.Equal(t, []float32{3, 1.5, 0}, res.Embedding)
}

func TestZeroShotClassifier_Threshold(t *testing.T) {
	enc := &fakeEncoder{
		text:  map[string][]float32{"a": {1, 0}, "b": {0, 1}},
		image: []float32{1, 0.1},
	}
	c := NewZeroShotClassifier(enc, []string{"a", "b"}, 0.20, 10)

	res, err := c.Classify(context.Background(), &Image{})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)
	assert.Equal(t, "a", res.Labels[0].Name)
}

func TestZeroShotClassifier_RetriesFailedInit(t *testing.T) {
	enc := &fakeEncoder{
		text:    map[string][]float32{"a": {1, 0}},
		image:   []float32{1, 0},
		textErr: errors.New("service down"),
	}
	c := NewZeroShotClassifier(enc, []string{"a"}, 0.20, 10)

	_, err := c.Classify(context.Background(), &Image{})
	require.Error(t, err)

	enc.mu.Lock()
	enc.textErr = nil
	enc.mu.Unlock()

	res, err := c.Classify(context.Background(), &Image{})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)

	// Vectors are cached after the successful load.
	_, err = c.Classify(context.Background(), &Image{})
	require.NoError(t, err)
	assert.Equal(t, 2, enc.textCalls)
}

func TestZeroShotClassifier_DimensionMismatch(t *testing.T) {
	enc := &fakeEncoder{
		text:  map[string][]float32{"a": {1, 0}},
		image: []float32{1, 0, 0},
	}
	c := NewZeroShotClassifier(enc, []string{"a"}, 0.20, 10)

	_, err := c.Classify(context.Background(), &Image{})
	assert.ErrorContains(t, err, "dimension")
}

func TestZeroShotClassifier_EmptyVocabulary(t *testing.T) {
	c := NewZeroShotClassifier(&fakeEncoder{}, nil, 0.20, 10)
	_, err := c.Classify(context.Background(), &Image{})
	assert.Error(t, err)
}
