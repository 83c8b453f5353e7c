package analyzer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

func newInferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	readUpload := func(w http.ResponseWriter, r *http.Request) bool {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return false
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "img-bytes" || header.Header.Get("Content-Type") != "image/jpeg" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return false
		}
		return true
	}

	mux.HandleFunc("POST /embed/image", func(w http.ResponseWriter, r *http.Request) {
		if !readUpload(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"dim": 3, "embedding": []float32{1, 2, 3}})
	})
	mux.HandleFunc("POST /embed/text", func(w http.ResponseWriter, r *http.Request) {
		var req textEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Text == "empty" {
			json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"dim": 2, "embedding": []float32{0.5, 0.5}})
	})
	mux.HandleFunc("POST /embed/face", func(w http.ResponseWriter, r *http.Request) {
		if !readUpload(w, r) {
			return
		}
		w.Write([]byte(`{"faces_count": 2, "faces": [
			{"embedding": [1, 0], "bbox": [10.4, 20.6, 110, 220], "det_score": 0.91, "age": 33.6, "gender": "male"},
			{"embedding": [0, 1], "bbox": [1, 2, 3, 4], "det_score": 0.7}
		]}`))
	})
	mux.HandleFunc("POST /detect/objects", func(w http.ResponseWriter, r *http.Request) {
		if !readUpload(w, r) {
			return
		}
		w.Write([]byte(`{"objects": [{"label": " Dog", "confidence": 0.8, "bbox": [0, 0, 50, 60]}]}`))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testImage() *Image {
	return &Image{Path: "a.jpg", Data: []byte("img-bytes"), MIMEType: "image/jpeg"}
}

func TestClient_EncodeImage(t *testing.T) {
	srv := newInferenceServer(t)
	c := NewClient(srv.URL+"/", 0)

	emb, err := c.EncodeImage(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, emb)
}

func TestClient_EncodeText(t *testing.T) {
	srv := newInferenceServer(t)
	c := NewClient(srv.URL, 0)

	emb, err := c.EncodeText(context.Background(), "a dog on a beach")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, emb)

	_, err = c.EncodeText(context.Background(), "empty")
	assert.ErrorContains(t, err, "empty embedding")
}

func TestClient_ExtractFaces(t *testing.T) {
	srv := newInferenceServer(t)
	c := NewClient(srv.URL, 0)

	faces, err := c.ExtractFaces(context.Background(), testImage())
	require.NoError(t, err)
	require.Len(t, faces, 2)

	assert.Equal(t, database.BBox{10, 20, 110, 220}, faces[0].BBox)
	assert.InDelta(t, 0.91, faces[0].Confidence, 1e-9)
	require.NotNil(t, faces[0].Age)
	assert.Equal(t, 34, *faces[0].Age)
	require.NotNil(t, faces[0].Gender)
	assert.Equal(t, "M", *faces[0].Gender)

	assert.Nil(t, faces[1].Age)
	assert.Nil(t, faces[1].Gender)
}

func TestClient_Detect(t *testing.T) {
	srv := newInferenceServer(t)
	c := NewClient(srv.URL, 0)

	objects, err := c.Detect(context.Background(), testImage())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "dog", objects[0].Label)
	assert.Equal(t, database.BBox{0, 0, 50, 60}, objects[0].BBox)
}

func TestClient_DetectRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"confidence above one", `{"objects": [{"label": "dog", "confidence": 1.7, "bbox": [0, 0, 5, 5]}]}`, "confidence"},
		{"negative confidence", `{"objects": [{"label": "dog", "confidence": -0.1, "bbox": [0, 0, 5, 5]}]}`, "confidence"},
		{"huge coordinate", `{"objects": [{"label": "dog", "confidence": 0.5, "bbox": [0, 0, 1e12, 5]}]}`, "bbox coordinate 2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, 0).Detect(context.Background(), testImage())
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	ctx := context.Background()

	_, err := c.EncodeImage(ctx, testImage())
	assert.ErrorContains(t, err, "status 503")
	assert.ErrorContains(t, err, "model not loaded")

	assert.Error(t, c.Health(ctx))
}

func TestClient_Health(t *testing.T) {
	srv := newInferenceServer(t)
	assert.NoError(t, NewClient(srv.URL, 0).Health(context.Background()))
}

func TestNormalizeGender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"M", "M"},
		{"female", "F"},
		{"1", "M"},
		{"0", "F"},
		{"x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			in := tt.in
			assert.Equal(t, tt.want, normalizeGender(&in))
		})
	}
	assert.Equal(t, "", normalizeGender(nil))
}
