package database

import "time"

// Sort keys accepted by ItemFilter.
const (
	SortTakenAt  = "taken_at"
	SortFilename = "filename"
	SortSize     = "size"
	SortID       = "id"
)

// ItemFilter selects items for a search listing. Zero values mean "no filter".
type ItemFilter struct {
	Tag        string
	Source     TagSource
	From       *time.Time
	To         *time.Time // inclusive, whole day
	Camera     string
	IdentityID int64
	Query      string // filename substring
	HasGPS     bool
	Sort       string
	Desc       bool
	Page       int
	PerPage    int
}

// Normalize applies defaults and clamps paging and sorting to allowed values.
func (f *ItemFilter) Normalize(defaultPerPage, maxPerPage int) {
	switch f.Sort {
	case SortTakenAt, SortFilename, SortSize, SortID:
	default:
		f.Sort = SortTakenAt
		f.Desc = true
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
}

// Offset returns the row offset of the current page.
func (f *ItemFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// ItemSummary is a listing row.
type ItemSummary struct {
	ID          int64      `json:"id"`
	Filename    string     `json:"filename"`
	Path        string     `json:"path"`
	Extension   string     `json:"extension"`
	Size        int64      `json:"size"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Tags        []Tag      `json:"tags"`
	FaceCount   int        `json:"face_count"`
}

// DetectionView is a detection joined with its identity.
type DetectionView struct {
	IdentityID     int64   `json:"identity_id"`
	Label          string  `json:"label"`
	AgeEstimate    *int    `json:"age,omitempty"`
	GenderEstimate *string `json:"gender,omitempty"`
	Category       *string `json:"category,omitempty"`
	BBox           BBox    `json:"bbox"`
	Confidence     float64 `json:"confidence"`
}

// ItemDetail is a full item with tags and detections.
type ItemDetail struct {
	Item       MediaItem       `json:"item"`
	Tags       []Tag           `json:"tags"`
	Detections []DetectionView `json:"detections"`
}

// LabelCount is a tag label with its usage count.
type LabelCount struct {
	Label string `json:"tag"`
	Count int    `json:"count"`
}

// CameraCount is a camera model with its item count.
type CameraCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// FilterOptions lists values offered by search filters.
type FilterOptions struct {
	Cameras         []CameraCount              `json:"cameras"`
	Tags            map[TagSource][]LabelCount `json:"tags"`
	Years           []int                      `json:"years"`
	TotalItems      int                        `json:"total_items"`
	TotalGeolocated int                        `json:"total_geolocated"`
	TotalWithFaces  int                        `json:"total_with_faces"`
}

// GeoFilter selects geolocated items.
type GeoFilter struct {
	Tag   string
	From  *time.Time
	To    *time.Time
	Limit int
}

// GeoItem is a geolocated item.
type GeoItem struct {
	ID          int64
	Filename    string
	Latitude    float64
	Longitude   float64
	TakenAt     *time.Time
	CameraModel string
}

// CropInfo locates the first detection of an identity.
type CropInfo struct {
	ItemID int64  `json:"item_id"`
	Path   string `json:"path"`
	BBox   BBox   `json:"bbox"`
	Width  int    `json:"width"`  // of the original item
	Height int    `json:"height"` // of the original item

	// Relative is [x, y, w, h] in 0-1, set when the item dimensions are known.
	Relative *[4]float64 `json:"relative,omitempty"`
}
