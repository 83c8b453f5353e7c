package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

const (
	defaultInferenceURL     = "http://localhost:8000"
	defaultInferenceTimeout = 60 * time.Second
)

// Client talks to the inference sidecar that hosts the embedding, detection
// and face models.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new inference client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultInferenceURL
	}
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// embeddingResponse represents the response of the embedding endpoints
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

type faceDetection struct {
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
	Age       *float64  `json:"age"`
	Gender    *string   `json:"gender"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
}

type objectDetection struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type objectResponse struct {
	Objects []objectDetection `json:"objects"`
}

type textEmbeddingRequest struct {
	Text string `json:"text"`
}

// postMultipartImage posts the image as the "file" form field and returns the response body.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, img *Image) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func parseEmbedding(body []byte) ([]float32, error) {
	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return embResp.Embedding, nil
}

// EncodeImage computes the image embedding.
func (c *Client) EncodeImage(ctx context.Context, img *Image) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/image", img)
	if err != nil {
		return nil, err
	}
	return parseEmbedding(body)
}

// EncodeText computes the embedding of a text query.
func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(textEmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/text", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return parseEmbedding(body)
}

// ExtractFaces detects faces and computes their embeddings.
func (c *Client) ExtractFaces(ctx context.Context, img *Image) ([]Face, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", img)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for i, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d has no embedding", i)
		}
		bbox, err := toBBox(f.BBox)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		face := Face{
			Embedding:  f.Embedding,
			BBox:       bbox,
			Confidence: f.DetScore,
		}
		if f.Age != nil {
			age := int(math.Round(*f.Age))
			face.Age = &age
		}
		if g := normalizeGender(f.Gender); g != "" {
			face.Gender = &g
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// Detect runs the object detector.
func (c *Client) Detect(ctx context.Context, img *Image) ([]Object, error) {
	body, err := c.postMultipartImage(ctx, "/detect/objects", img)
	if err != nil {
		return nil, err
	}

	var objResp objectResponse
	if err := json.Unmarshal(body, &objResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	objects := make([]Object, 0, len(objResp.Objects))
	for _, o := range objResp.Objects {
		if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
			return nil, fmt.Errorf("object %q: confidence %v out of range", o.Label, o.Confidence)
		}
		bbox, err := toBBox(o.BBox)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", o.Label, err)
		}
		objects = append(objects, Object{
			Label:      strings.ToLower(strings.TrimSpace(o.Label)),
			Confidence: o.Confidence,
			BBox:       bbox,
		})
	}
	return objects, nil
}

// Health checks that the inference service is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("inference health: %w", err)
	}
	return nil
}

func toBBox(v []float64) (database.BBox, error) {
	if len(v) != 4 {
		return database.BBox{}, fmt.Errorf("bbox has %d coordinates, want 4", len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt32 {
			return database.BBox{}, fmt.Errorf("bbox coordinate %d out of range: %v", i, x)
		}
	}
	return database.BBox{int(v[0]), int(v[1]), int(v[2]), int(v[3])}, nil
}

// normalizeGender maps service gender encodings to "M" / "F".
func normalizeGender(g *string) string {
	if g == nil {
		return ""
	}
	switch strings.ToUpper(strings.TrimSpace(*g)) {
	case "M", "MALE", "1":
		return "M"
	case "F", "FEMALE", "0":
		return "F"
	}
	return ""
}

var (
	_ ImageEncoder   = (*Client)(nil)
	_ TextEncoder    = (*Client)(nil)
	_ FaceExtractor  = (*Client)(nil)
	_ ObjectDetector = (*Client)(nil)
)
