package facematch

import "github.com/kozaktomas/photo-annotator/internal/database"

// FitWithin returns the dimensions of a width x height image scaled down to
// fit in a maxSize square, keeping the aspect ratio. Smaller images keep
// their size.
func FitWithin(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}

// RelativeBox converts a pixel box [x1, y1, x2, y2] measured on a
// width x height image to relative [x, y, w, h] in 0-1, clamped to the
// image. It reports false when the dimensions are unknown.
func RelativeBox(b database.BBox, width, height int) ([4]float64, bool) {
	if width <= 0 || height <= 0 {
		return [4]float64{}, false
	}
	clamp := func(v, limit int) float64 {
		return float64(min(max(v, 0), limit))
	}
	x1, y1 := clamp(b[0], width)/float64(width), clamp(b[1], height)/float64(height)
	x2, y2 := clamp(b[2], width)/float64(width), clamp(b[3], height)/float64(height)
	return [4]float64{x1, y1, x2 - x1, y2 - y1}, true
}
