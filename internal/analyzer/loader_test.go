package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-annotator/internal/mediastore"
)

type memStore map[string][]byte

func (s memStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := s[path]
	return ok, nil
}

func (s memStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, ok := s[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, mediastore.ErrNotExist)
	}
	return data, nil
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoader_Load(t *testing.T) {
	store := memStore{
		"big.png":   encodePNG(t, 3000, 1500),
		"small.png": encodePNG(t, 100, 50),
		"a.HEIC":    []byte("heic-bytes"),
		"odd.jpg":   []byte("definitely not an image"),
		"empty.jpg": {},
	}
	loader := NewLoader(store, 0)
	ctx := context.Background()

	t.Run("scales large image", func(t *testing.T) {
		img, err := loader.Load(ctx, "big.png")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", img.MIMEType)
		assert.Equal(t, 2048, img.Width)
		assert.Equal(t, 1024, img.Height)

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(img.Data))
		require.NoError(t, err)
		assert.Equal(t, 2048, cfg.Width)
	})

	t.Run("keeps small image size", func(t *testing.T) {
		img, err := loader.Load(ctx, "small.png")
		require.NoError(t, err)
		assert.Equal(t, 100, img.Width)
		assert.Equal(t, 50, img.Height)
		assert.Equal(t, "image/jpeg", img.MIMEType)
	})

	t.Run("passes HEIC through", func(t *testing.T) {
		img, err := loader.Load(ctx, "a.HEIC")
		require.NoError(t, err)
		assert.Equal(t, "image/heic", img.MIMEType)
		assert.Equal(t, []byte("heic-bytes"), img.Data)
	})

	t.Run("passes unknown format through", func(t *testing.T) {
		img, err := loader.Load(ctx, "odd.jpg")
		require.NoError(t, err)
		assert.Equal(t, []byte("definitely not an image"), img.Data)
		assert.Zero(t, img.Width)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loader.Load(ctx, "gone.jpg")
		assert.True(t, errors.Is(err, mediastore.ErrNotExist))
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := loader.Load(ctx, "empty.jpg")
		require.Error(t, err)
		assert.False(t, errors.Is(err, mediastore.ErrNotExist))
	})
}

func TestResizeImage_Portrait(t *testing.T) {
	data, w, h, err := ResizeImage(encodePNG(t, 400, 1000), 500)
	require.NoError(t, err)
	assert.Equal(t, 200, w)
	assert.Equal(t, 500, h)
	assert.NotEmpty(t, data)
}
