package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/photo-annotator/internal/analyzer"
	"github.com/kozaktomas/photo-annotator/internal/mediastore"
)

type fakeLoader struct {
	missing map[string]bool
	broken  map[string]bool
}

func (l *fakeLoader) Load(ctx context.Context, path string) (*analyzer.Image, error) {
	if l.missing[path] {
		return nil, fmt.Errorf("read %s: %w", path, mediastore.ErrNotExist)
	}
	if l.broken[path] {
		return nil, errors.New("corrupt file")
	}
	return &analyzer.Image{Path: path, Data: []byte(path), MIMEType: "image/jpeg"}, nil
}

type fakeTagger struct {
	mu        sync.Mutex
	calls     int
	labels    []analyzer.Label
	embedding []float32
	fail      map[string]bool
}

func (f *fakeTagger) Classify(ctx context.Context, img *analyzer.Image) (*analyzer.Classification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[img.Path] {
		return nil, errors.New("model crashed")
	}
	return &analyzer.Classification{Labels: f.labels, Embedding: f.embedding}, nil
}

type fakeDetector struct {
	objects []analyzer.Object
}

func (f *fakeDetector) Detect(ctx context.Context, img *analyzer.Image) ([]analyzer.Object, error) {
	return f.objects, nil
}

type fakeFaces struct {
	byPath map[string][]analyzer.Face
}

func (f *fakeFaces) ExtractFaces(ctx context.Context, img *analyzer.Image) ([]analyzer.Face, error) {
	return f.byPath[img.Path], nil
}

type fakeEncoder struct {
	vec  []float32
	fail map[string]bool
}

func (f *fakeEncoder) EncodeImage(ctx context.Context, img *analyzer.Image) ([]float32, error) {
	if f.fail[img.Path] {
		return nil, errors.New("encoder failed")
	}
	return f.vec, nil
}

type countingInvalidator struct {
	n int
}

func (c *countingInvalidator) Invalidate() { c.n++ }
