package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/lib/pq"
)

// itemColumns is the column list read by scanItem.
const itemColumns = `id, path, filename, extension, size, mtime,
	taken_at, camera_make, camera_model, lens_model, focal_length, aperture,
	shutter_speed, iso, width, height, latitude, longitude, altitude,
	metadata_done, tag_done, detect_done, face_done, embedding IS NOT NULL`

// tagColumns is the column list read by scanTag.
const tagColumns = `id, item_id, label, score, source, confirmed, label_override,
	bbox_x1, bbox_y1, bbox_x2, bbox_y2`

// analysableExtensions is the bind value for `upper(extension) = ANY($n)`.
func analysableExtensions() any {
	return pq.Array(constants.AnalysableExtensions)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (database.MediaItem, error) {
	var item database.MediaItem
	var mtime, takenAt sql.NullTime
	var cameraMake, cameraModel, lensModel, shutter sql.NullString
	var focal, aperture, lat, lon, alt sql.NullFloat64
	var iso, width, height sql.NullInt64

	err := row.Scan(
		&item.ID, &item.Path, &item.Filename, &item.Extension, &item.Size, &mtime,
		&takenAt, &cameraMake, &cameraModel, &lensModel, &focal, &aperture,
		&shutter, &iso, &width, &height, &lat, &lon, &alt,
		&item.MetadataDone, &item.TagDone, &item.DetectDone, &item.FaceDone, &item.HasEmbedding,
	)
	if err != nil {
		return item, fmt.Errorf("scan item: %w", err)
	}

	if mtime.Valid {
		item.ModTime = mtime.Time
	}
	item.TakenAt = timePtr(takenAt)
	item.CameraMake = cameraMake.String
	item.CameraModel = cameraModel.String
	item.LensModel = lensModel.String
	item.ShutterSpeed = shutter.String
	item.FocalLength = floatPtr(focal)
	item.Aperture = floatPtr(aperture)
	item.Latitude = floatPtr(lat)
	item.Longitude = floatPtr(lon)
	item.Altitude = floatPtr(alt)
	if iso.Valid {
		v := int(iso.Int64)
		item.ISO = &v
	}
	item.Width = int(width.Int64)
	item.Height = int(height.Int64)

	return item, nil
}

func scanItems(rows *sql.Rows) ([]database.MediaItem, error) {
	defer rows.Close()

	var items []database.MediaItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func scanTag(row scanner) (database.Tag, error) {
	var tag database.Tag
	var source string
	var override sql.NullString
	var x1, y1, x2, y2 sql.NullInt64

	if err := row.Scan(
		&tag.ID, &tag.ItemID, &tag.Label, &tag.Score, &source, &tag.Confirmed, &override,
		&x1, &y1, &x2, &y2,
	); err != nil {
		return tag, fmt.Errorf("scan tag: %w", err)
	}

	tag.Source = database.TagSource(source)
	if override.Valid {
		tag.LabelOverride = &override.String
	}
	if x1.Valid && y1.Valid && x2.Valid && y2.Valid {
		tag.BBox = &database.BBox{int(x1.Int64), int(y1.Int64), int(x2.Int64), int(y2.Int64)}
	}
	return tag, nil
}

// bboxArgs expands an optional box into four nullable bind values.
func bboxArgs(b *database.BBox) []any {
	if b == nil {
		return []any{nil, nil, nil, nil}
	}
	return []any{b[0], b[1], b[2], b[3]}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// nullString maps empty or nil strings to SQL NULL.
func nullString(s *string) any {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}

// likePattern escapes LIKE wildcards and wraps q for substring matching.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
