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

// foreignKeyViolation is the PostgreSQL SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// TagRepository provides tag mutations.
type TagRepository struct {
	pool *Pool
}

// NewTagRepository creates a new PostgreSQL tag repository.
func NewTagRepository(pool *Pool) *TagRepository {
	return &TagRepository{pool: pool}
}

func (r *TagRepository) ToggleTagConfirmed(ctx context.Context, tagID int64) (bool, error) {
	var confirmed bool
	err := r.pool.DB().QueryRowContext(ctx,
		"UPDATE tag SET confirmed = NOT confirmed WHERE id = $1 RETURNING confirmed", tagID,
	).Scan(&confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, database.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle tag %d: %w", tagID, err)
	}
	return confirmed, nil
}

func (r *TagRepository) SetTagLabel(ctx context.Context, tagID int64, label *string) error {
	res, err := r.pool.DB().ExecContext(ctx,
		"UPDATE tag SET label_override = $1 WHERE id = $2", nullString(label), tagID)
	if err != nil {
		return fmt.Errorf("set label of tag %d: %w", tagID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// AddTag inserts a tag. It returns ErrTagExists when the item already has
// the label from the same source and ErrNotFound when the item is unknown.
func (r *TagRepository) AddTag(ctx context.Context, itemID int64, tag database.NewTag) (int64, error) {
	label := strings.ToLower(strings.TrimSpace(tag.Label))
	args := []any{itemID, label, tag.Score, string(tag.Source), tag.Confirmed, nullString(tag.Override)}
	args = append(args, bboxArgs(tag.BBox)...)

	var id int64
	err := r.pool.DB().QueryRowContext(ctx, `
		INSERT INTO tag (item_id, label, score, source, confirmed, label_override,
		                 bbox_x1, bbox_y1, bbox_x2, bbox_y2)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (item_id, label, source) DO NOTHING
		RETURNING id
	`, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, database.ErrTagExists
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == foreignKeyViolation {
		return 0, database.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("insert tag %q for item %d: %w", label, itemID, err)
	}
	return id, nil
}

func (r *TagRepository) SearchTagLabels(ctx context.Context, q string, limit int) ([]database.LabelCount, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT label, COUNT(*) FROM tag
		WHERE label ILIKE $1 ESCAPE '\'
		GROUP BY label
		ORDER BY COUNT(*) DESC, label
		LIMIT $2
	`, likePattern(strings.TrimSpace(q)), limit)
	if err != nil {
		return nil, fmt.Errorf("search tag labels: %w", err)
	}
	defer rows.Close()

	labels := []database.LabelCount{}
	for rows.Next() {
		var lc database.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("scan tag label: %w", err)
		}
		labels = append(labels, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag labels: %w", err)
	}
	return labels, nil
}

func (r *TagRepository) DeleteTag(ctx context.Context, tagID int64) error {
	res, err := r.pool.DB().ExecContext(ctx, "DELETE FROM tag WHERE id = $1", tagID)
	if err != nil {
		return fmt.Errorf("delete tag %d: %w", tagID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

var _ database.TagStore = (*TagRepository)(nil)
