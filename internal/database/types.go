package database

import (
	"fmt"
	"time"
)

// Stage identifies one analysis stage of the annotation pipeline.
type Stage string

const (
	StageMetadata Stage = "metadata"
	StageTag      Stage = "tag"
	StageDetect   Stage = "detect"
	StageFace     Stage = "face"
)

// AnnotationStages are the stages driven by the pipeline, in round-robin order.
var AnnotationStages = []Stage{StageTag, StageDetect, StageFace}

// Column returns the media_item flag column backing the stage.
func (s Stage) Column() (string, error) {
	switch s {
	case StageMetadata:
		return "metadata_done", nil
	case StageTag:
		return "tag_done", nil
	case StageDetect:
		return "detect_done", nil
	case StageFace:
		return "face_done", nil
	}
	return "", fmt.Errorf("unknown stage %q", string(s))
}

// Prerequisite returns the stage that must be complete before s can run,
// or an empty stage for metadata extraction.
func (s Stage) Prerequisite() Stage {
	switch s {
	case StageTag, StageDetect, StageFace:
		return StageMetadata
	}
	return ""
}

// TagSource records which producer created a tag.
type TagSource string

const (
	SourceSemantic TagSource = "semantic"
	SourceDetector TagSource = "detector"
	SourceManual   TagSource = "manual"
)

// Valid reports whether s is one of the known tag sources.
func (s TagSource) Valid() bool {
	switch s {
	case SourceSemantic, SourceDetector, SourceManual:
		return true
	}
	return false
}

// BBox is an axis-aligned box [x1, y1, x2, y2] in analysis-image pixels.
type BBox [4]int

// MediaItem is one file of the catalog with its capture attributes and stage flags.
type MediaItem struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"` // relative to the media root
	Filename  string    `json:"filename"`
	Extension string    `json:"extension"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`

	TakenAt      *time.Time `json:"taken_at,omitempty"`
	CameraMake   string     `json:"camera_make,omitempty"`
	CameraModel  string     `json:"camera_model,omitempty"`
	LensModel    string     `json:"lens_model,omitempty"`
	FocalLength  *float64   `json:"focal_length,omitempty"`
	Aperture     *float64   `json:"aperture,omitempty"`
	ShutterSpeed string     `json:"shutter_speed,omitempty"`
	ISO          *int       `json:"iso,omitempty"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Altitude     *float64   `json:"altitude,omitempty"`

	MetadataDone bool `json:"metadata_done"`
	TagDone      bool `json:"tag_done"`
	DetectDone   bool `json:"detect_done"`
	FaceDone     bool `json:"face_done"`

	HasEmbedding bool `json:"has_embedding"`
}

// Done reports the flag of the given stage.
func (m *MediaItem) Done(stage Stage) bool {
	switch stage {
	case StageMetadata:
		return m.MetadataDone
	case StageTag:
		return m.TagDone
	case StageDetect:
		return m.DetectDone
	case StageFace:
		return m.FaceDone
	}
	return false
}

// Tag is a label attached to an item by a tagger, detector or user.
type Tag struct {
	ID            int64     `json:"id"`
	ItemID        int64     `json:"item_id"`
	Label         string    `json:"tag"`
	Score         float64   `json:"score"`
	Source        TagSource `json:"source"`
	Confirmed     bool      `json:"confirmed"`
	LabelOverride *string   `json:"label"`
	BBox          *BBox     `json:"bbox"`
}

// NewTag is a tag to be inserted; duplicates on (item, label, source) are ignored.
type NewTag struct {
	Label     string
	Score     float64
	Source    TagSource
	Confirmed bool
	Override  *string
	BBox      *BBox
}

// Identity category values.
const (
	CategoryPerson = "person"
	CategoryAnimal = "animal"
	CategoryObject = "object"
)

// Identity is a resolved face cluster.
type Identity struct {
	ID             int64     `json:"id"`
	DisplayName    *string   `json:"display_name"`
	AgeEstimate    *int      `json:"age_estimate"`
	GenderEstimate *string   `json:"gender_estimate"`
	Category       *string   `json:"category"`
	DetectionCount int       `json:"detection_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Label returns the display name or a numbered fallback.
func (i *Identity) Label() string {
	if i.DisplayName != nil && *i.DisplayName != "" {
		return *i.DisplayName
	}
	return fmt.Sprintf("Person #%d", i.ID)
}

// NewIdentity holds the attributes of an identity created by the resolver.
type NewIdentity struct {
	Embedding      []float32
	AgeEstimate    *int
	GenderEstimate *string
	Category       string
}

// IdentityEmbedding is an identity's representative vector as stored.
type IdentityEmbedding struct {
	ID        int64
	Embedding []float32
}

// Detection links one item to one identity.
type Detection struct {
	ID         int64
	ItemID     int64
	IdentityID int64
	BBox       BBox
	Confidence float64
}

// ItemEmbedding is an item's stored image embedding.
type ItemEmbedding struct {
	ItemID    int64
	Embedding []float32
}

// MergeResult summarises an identity merge.
type MergeResult struct {
	TargetID       int64 `json:"target_id"`
	MergedCount    int   `json:"merged_count"`
	DetectionCount int   `json:"detection_count"`
}

// CatalogStats summarises catalog content and pending work.
type CatalogStats struct {
	Items          int
	TagsBySource   map[TagSource]int
	Identities     int
	Detections     int
	WithEmbeddings int
	Pending        map[Stage]int
}
