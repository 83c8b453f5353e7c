package facematch

import (
	"math"
	"testing"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxSize       int
		wantW, wantH  int
	}{
		{"small image unchanged", 800, 600, 2048, 800, 600},
		{"exact fit unchanged", 2048, 1024, 2048, 2048, 1024},
		{"landscape", 4000, 3000, 2048, 2048, 1536},
		{"portrait", 3000, 4000, 2048, 1536, 2048},
		{"square", 5000, 5000, 1000, 1000, 1000},
		{"extreme panorama keeps one pixel", 100000, 10, 1000, 1000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.width, tt.height, tt.maxSize)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitWithin(%d, %d, %d) = %dx%d, want %dx%d",
					tt.width, tt.height, tt.maxSize, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRelativeBox(t *testing.T) {
	tests := []struct {
		name          string
		box           database.BBox
		width, height int
		want          [4]float64
		wantOK        bool
	}{
		{
			name: "inside", box: database.BBox{100, 50, 300, 250}, width: 1000, height: 500,
			want: [4]float64{0.1, 0.1, 0.2, 0.4}, wantOK: true,
		},
		{
			name: "full image", box: database.BBox{0, 0, 640, 480}, width: 640, height: 480,
			want: [4]float64{0, 0, 1, 1}, wantOK: true,
		},
		{
			name: "clamped to image", box: database.BBox{-20, -10, 700, 300}, width: 640, height: 480,
			want: [4]float64{0, 0, 1, 0.625}, wantOK: true,
		},
		{name: "unknown width", box: database.BBox{1, 1, 2, 2}, width: 0, height: 480},
		{name: "unknown height", box: database.BBox{1, 1, 2, 2}, width: 640, height: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RelativeBox(tt.box, tt.width, tt.height)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("RelativeBox() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
