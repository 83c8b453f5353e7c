// Package analyzer provides the image analysis capabilities used by the
// annotation pipeline: loading, tagging, object detection, face extraction
// and embeddings.
package analyzer

import (
	"context"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

// Image is a loaded media file ready to be sent to an analyzer.
type Image struct {
	Path     string // catalog-relative path of the source file
	Data     []byte
	MIMEType string
	Width    int // zero when the format could not be decoded locally
	Height   int
}

// Label is a semantic tag with its score.
type Label struct {
	Name  string
	Score float64
}

// Classification is the result of tagging one image. Embedding is set when
// the classifier computed an image embedding on the way.
type Classification struct {
	Labels    []Label
	Embedding []float32
}

// Object is one object detection.
type Object struct {
	Label      string
	Confidence float64
	BBox       database.BBox
}

// Face is one detected face with its embedding and estimated attributes.
type Face struct {
	Embedding  []float32
	BBox       database.BBox
	Confidence float64
	Age        *int
	Gender     *string // "M" or "F"
}

// ImageLoader loads an item's backing file for analysis.
type ImageLoader interface {
	Load(ctx context.Context, path string) (*Image, error)
}

// TagClassifier assigns vocabulary labels to an image.
type TagClassifier interface {
	Classify(ctx context.Context, img *Image) (*Classification, error)
}

// ObjectDetector finds objects in an image.
type ObjectDetector interface {
	Detect(ctx context.Context, img *Image) ([]Object, error)
}

// FaceExtractor finds faces in an image.
type FaceExtractor interface {
	ExtractFaces(ctx context.Context, img *Image) ([]Face, error)
}

// TextEncoder embeds a text query into the image embedding space.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// ImageEncoder embeds an image.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img *Image) ([]float32, error)
}
