package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/facematch"
	"github.com/kozaktomas/photo-annotator/internal/mediastore"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// passthroughTypes are formats the inference service decodes itself.
var passthroughTypes = map[string]string{
	".HEIC": "image/heic",
	".HEIF": "image/heif",
}

// Loader reads media files and prepares them for analysis.
type Loader struct {
	store   mediastore.Store
	maxSize int
}

// NewLoader creates a loader that scales images to at most maxSize pixels
// on the longer side. A non-positive maxSize uses the default.
func NewLoader(store mediastore.Store, maxSize int) *Loader {
	if maxSize <= 0 {
		maxSize = constants.MaxImageSize
	}
	return &Loader{store: store, maxSize: maxSize}
}

// Load reads and prepares the file at path. A missing file yields an error
// wrapping mediastore.ErrNotExist.
func (l *Loader) Load(ctx context.Context, path string) (*Image, error) {
	data, err := l.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %s", path)
	}

	ext := strings.ToUpper(filepath.Ext(path))
	if mime, ok := passthroughTypes[ext]; ok {
		return &Image{Path: path, Data: data, MIMEType: mime}, nil
	}

	scaled, w, h, err := ResizeImage(data, l.maxSize)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			// Unknown to Go's decoders: let the inference service try.
			return &Image{Path: path, Data: data, MIMEType: http.DetectContentType(data)}, nil
		}
		return nil, fmt.Errorf("prepare %s: %w", path, err)
	}
	return &Image{Path: path, Data: scaled, MIMEType: "image/jpeg", Width: w, Height: h}, nil
}

// ResizeImage decodes data, scales it to fit within maxSize while keeping the
// aspect ratio and re-encodes it as JPEG. It returns the final dimensions.
func ResizeImage(data []byte, maxSize int) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if newWidth, newHeight := facematch.FitWithin(width, height, maxSize); newWidth != width || newHeight != height {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
		width, height = newWidth, newHeight
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), width, height, nil
}
