package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/lib/pq"
)

// ItemRepository serves item listings and details.
type ItemRepository struct {
	pool *Pool
}

// NewItemRepository creates a new PostgreSQL item repository.
func NewItemRepository(pool *Pool) *ItemRepository {
	return &ItemRepository{pool: pool}
}

const summaryColumns = `m.id, m.filename, m.path, m.extension, m.size, m.taken_at,
	m.camera_model, m.width, m.height, m.latitude, m.longitude`

var sortColumns = map[string]string{
	database.SortTakenAt:  "m.taken_at",
	database.SortFilename: "m.filename",
	database.SortSize:     "m.size",
	database.SortID:       "m.id",
}

// whereBuilder accumulates conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

// add appends a condition; each "?" in cond is replaced by the next placeholder.
func (w *whereBuilder) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func itemFilterWhere(f database.ItemFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.Tag != "" {
		tag := strings.ToLower(strings.TrimSpace(f.Tag))
		if f.Source != "" {
			w.add(`EXISTS (SELECT 1 FROM tag t WHERE t.item_id = m.id
				AND (t.label = ? OR lower(t.label_override) = ?) AND t.source = ?)`, tag, tag, string(f.Source))
		} else {
			w.add(`EXISTS (SELECT 1 FROM tag t WHERE t.item_id = m.id
				AND (t.label = ? OR lower(t.label_override) = ?))`, tag, tag)
		}
	}
	if f.From != nil {
		w.add("m.taken_at >= ?", *f.From)
	}
	if f.To != nil {
		w.add("m.taken_at < ?", f.To.AddDate(0, 0, 1))
	}
	if f.Camera != "" {
		w.add("m.camera_model = ?", f.Camera)
	}
	if f.IdentityID > 0 {
		w.add("EXISTS (SELECT 1 FROM detection d WHERE d.item_id = m.id AND d.identity_id = ?)", f.IdentityID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add(`m.filename ILIKE ? ESCAPE '\'`, likePattern(q))
	}
	if f.HasGPS {
		w.add("m.latitude IS NOT NULL AND m.longitude IS NOT NULL")
	}
	return w
}

func orderBy(f database.ItemFilter) string {
	col, ok := sortColumns[f.Sort]
	if !ok {
		col = sortColumns[database.SortTakenAt]
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, m.id %s", col, dir, dir)
}

// SearchItems returns one page of matching items and the total count.
func (r *ItemRepository) SearchItems(ctx context.Context, filter database.ItemFilter) ([]database.ItemSummary, int, error) {
	var items []database.ItemSummary
	var total int

	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		w := itemFilterWhere(filter)
		where := w.sql()

		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_item m"+where, w.args...).Scan(&total); err != nil {
			return fmt.Errorf("count items: %w", err)
		}

		args := append(w.args, filter.PerPage, filter.Offset())
		query := fmt.Sprintf("SELECT %s FROM media_item m%s%s LIMIT $%d OFFSET $%d",
			summaryColumns, where, orderBy(filter), len(args)-1, len(args))

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query items: %w", err)
		}
		items, err = scanSummaries(rows)
		if err != nil {
			return err
		}
		return attachTagsAndFaces(ctx, tx, items)
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ItemsByID returns summaries in the order of ids; unknown ids are skipped.
func (r *ItemRepository) ItemsByID(ctx context.Context, ids []int64) ([]database.ItemSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var ordered []database.ItemSummary
	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT "+summaryColumns+" FROM media_item m WHERE m.id = ANY($1)", pq.Array(ids))
		if err != nil {
			return fmt.Errorf("query items by id: %w", err)
		}
		items, err := scanSummaries(rows)
		if err != nil {
			return err
		}
		if err := attachTagsAndFaces(ctx, tx, items); err != nil {
			return err
		}

		byID := make(map[int64]database.ItemSummary, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		ordered = make([]database.ItemSummary, 0, len(items))
		for _, id := range ids {
			if it, ok := byID[id]; ok {
				ordered = append(ordered, it)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// GetItemDetail returns the item with all tags and detections.
func (r *ItemRepository) GetItemDetail(ctx context.Context, id int64) (*database.ItemDetail, error) {
	detail := &database.ItemDetail{
		Tags:       []database.Tag{},
		Detections: []database.DetectionView{},
	}

	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx,
			"SELECT "+itemColumns+" FROM media_item WHERE id = $1", id))
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		if err != nil {
			return err
		}
		detail.Item = item

		rows, err := tx.QueryContext(ctx,
			"SELECT "+tagColumns+" FROM tag WHERE item_id = $1 ORDER BY source, score DESC, id", id)
		if err != nil {
			return fmt.Errorf("query tags: %w", err)
		}
		tags, err := scanTags(rows)
		if err != nil {
			return err
		}
		detail.Tags = append(detail.Tags, tags...)

		rows, err = tx.QueryContext(ctx, `
			SELECT d.identity_id, i.display_name, i.age_estimate, i.gender_estimate, i.category,
			       d.bbox_x1, d.bbox_y1, d.bbox_x2, d.bbox_y2, d.confidence
			FROM detection d
			JOIN identity i ON i.id = d.identity_id
			WHERE d.item_id = $1
			ORDER BY d.id
		`, id)
		if err != nil {
			return fmt.Errorf("query detections: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var dv database.DetectionView
			var name, gender, category sql.NullString
			var age sql.NullInt64
			if err := rows.Scan(&dv.IdentityID, &name, &age, &gender, &category,
				&dv.BBox[0], &dv.BBox[1], &dv.BBox[2], &dv.BBox[3], &dv.Confidence); err != nil {
				return fmt.Errorf("scan detection: %w", err)
			}
			ident := database.Identity{ID: dv.IdentityID, DisplayName: stringPtr(name)}
			dv.Label = ident.Label()
			dv.AgeEstimate = intPtr(age)
			dv.GenderEstimate = stringPtr(gender)
			dv.Category = stringPtr(category)
			detail.Detections = append(detail.Detections, dv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// FilterOptions returns cameras, tag labels per source, years and totals.
func (r *ItemRepository) FilterOptions(ctx context.Context, tagLimit int) (*database.FilterOptions, error) {
	opts := &database.FilterOptions{
		Cameras: []database.CameraCount{},
		Tags:    make(map[database.TagSource][]database.LabelCount),
		Years:   []int{},
	}

	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT camera_model, COUNT(*) FROM media_item
			WHERE camera_model IS NOT NULL AND camera_model <> ''
			GROUP BY camera_model ORDER BY COUNT(*) DESC, camera_model
		`)
		if err != nil {
			return fmt.Errorf("query cameras: %w", err)
		}
		for rows.Next() {
			var c database.CameraCount
			if err := rows.Scan(&c.Model, &c.Count); err != nil {
				rows.Close()
				return fmt.Errorf("scan camera: %w", err)
			}
			opts.Cameras = append(opts.Cameras, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate cameras: %w", err)
		}

		rows, err = tx.QueryContext(ctx, `
			SELECT source, label, cnt FROM (
				SELECT source, label, COUNT(*) AS cnt,
				       ROW_NUMBER() OVER (PARTITION BY source ORDER BY COUNT(*) DESC, label) AS rn
				FROM tag GROUP BY source, label
			) ranked
			WHERE rn <= $1
			ORDER BY source, cnt DESC, label
		`, tagLimit)
		if err != nil {
			return fmt.Errorf("query tag labels: %w", err)
		}
		for rows.Next() {
			var source string
			var lc database.LabelCount
			if err := rows.Scan(&source, &lc.Label, &lc.Count); err != nil {
				rows.Close()
				return fmt.Errorf("scan tag label: %w", err)
			}
			s := database.TagSource(source)
			opts.Tags[s] = append(opts.Tags[s], lc)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate tag labels: %w", err)
		}

		rows, err = tx.QueryContext(ctx, `
			SELECT DISTINCT EXTRACT(YEAR FROM taken_at)::int AS y
			FROM media_item WHERE taken_at IS NOT NULL ORDER BY y DESC
		`)
		if err != nil {
			return fmt.Errorf("query years: %w", err)
		}
		for rows.Next() {
			var y int
			if err := rows.Scan(&y); err != nil {
				rows.Close()
				return fmt.Errorf("scan year: %w", err)
			}
			opts.Years = append(opts.Years, y)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate years: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM media_item),
				(SELECT COUNT(*) FROM media_item WHERE latitude IS NOT NULL AND longitude IS NOT NULL),
				(SELECT COUNT(DISTINCT item_id) FROM detection)
		`).Scan(&opts.TotalItems, &opts.TotalGeolocated, &opts.TotalWithFaces)
		if err != nil {
			return fmt.Errorf("query totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opts, nil
}

// GeoItems returns geolocated items, newest first.
func (r *ItemRepository) GeoItems(ctx context.Context, filter database.GeoFilter) ([]database.GeoItem, error) {
	w := &whereBuilder{}
	w.add("m.latitude IS NOT NULL AND m.longitude IS NOT NULL")
	if filter.Tag != "" {
		tag := strings.ToLower(strings.TrimSpace(filter.Tag))
		w.add(`EXISTS (SELECT 1 FROM tag t WHERE t.item_id = m.id
			AND (t.label = ? OR lower(t.label_override) = ?))`, tag, tag)
	}
	if filter.From != nil {
		w.add("m.taken_at >= ?", *filter.From)
	}
	if filter.To != nil {
		w.add("m.taken_at < ?", filter.To.AddDate(0, 0, 1))
	}
	args := append(w.args, filter.Limit)

	rows, err := r.pool.DB().QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.filename, m.latitude, m.longitude, m.taken_at, m.camera_model
		FROM media_item m%s
		ORDER BY m.taken_at DESC NULLS LAST, m.id DESC
		LIMIT $%d`, w.sql(), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("query geo items: %w", err)
	}
	defer rows.Close()

	items := []database.GeoItem{}
	for rows.Next() {
		var g database.GeoItem
		var takenAt sql.NullTime
		var camera sql.NullString
		if err := rows.Scan(&g.ID, &g.Filename, &g.Latitude, &g.Longitude, &takenAt, &camera); err != nil {
			return nil, fmt.Errorf("scan geo item: %w", err)
		}
		g.TakenAt = timePtr(takenAt)
		g.CameraModel = camera.String
		items = append(items, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate geo items: %w", err)
	}
	return items, nil
}

func scanSummaries(rows *sql.Rows) ([]database.ItemSummary, error) {
	defer rows.Close()

	items := []database.ItemSummary{}
	for rows.Next() {
		var s database.ItemSummary
		var takenAt sql.NullTime
		var camera sql.NullString
		var width, height sql.NullInt64
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.Filename, &s.Path, &s.Extension, &s.Size, &takenAt,
			&camera, &width, &height, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan item summary: %w", err)
		}
		s.TakenAt = timePtr(takenAt)
		s.CameraModel = camera.String
		s.Width = int(width.Int64)
		s.Height = int(height.Int64)
		s.Latitude = floatPtr(lat)
		s.Longitude = floatPtr(lon)
		s.Tags = []database.Tag{}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item summaries: %w", err)
	}
	return items, nil
}

func scanTags(rows *sql.Rows) ([]database.Tag, error) {
	defer rows.Close()

	var tags []database.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// attachTagsAndFaces loads tags and face counts for a page of items in two queries.
func attachTagsAndFaces(ctx context.Context, q querier, items []database.ItemSummary) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]int64, len(items))
	index := make(map[int64]int, len(items))
	for i, it := range items {
		ids[i] = it.ID
		index[it.ID] = i
	}

	rows, err := q.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tag WHERE item_id = ANY($1) ORDER BY item_id, score DESC, id",
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query page tags: %w", err)
	}
	tags, err := scanTags(rows)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		i := index[tag.ItemID]
		items[i].Tags = append(items[i].Tags, tag)
	}

	rows, err = q.QueryContext(ctx,
		"SELECT item_id, COUNT(*) FROM detection WHERE item_id = ANY($1) GROUP BY item_id",
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query page face counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var itemID int64
		var count int
		if err := rows.Scan(&itemID, &count); err != nil {
			return fmt.Errorf("scan face count: %w", err)
		}
		items[index[itemID]].FaceCount = count
	}
	return rows.Err()
}

var _ database.ItemQuerier = (*ItemRepository)(nil)
