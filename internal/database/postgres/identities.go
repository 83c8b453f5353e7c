package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-annotator/internal/database"
)

// IdentityRepository provides identity reads and renames.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `i.id, i.display_name, i.age_estimate, i.gender_estimate, i.category, i.created_at,
	(SELECT COUNT(*) FROM detection d WHERE d.identity_id = i.id)`

func scanIdentity(row scanner) (database.Identity, error) {
	var ident database.Identity
	var name, gender, category sql.NullString
	var age sql.NullInt64
	if err := row.Scan(&ident.ID, &name, &age, &gender, &category, &ident.CreatedAt, &ident.DetectionCount); err != nil {
		return ident, fmt.Errorf("scan identity: %w", err)
	}
	ident.DisplayName = stringPtr(name)
	ident.AgeEstimate = intPtr(age)
	ident.GenderEstimate = stringPtr(gender)
	ident.Category = stringPtr(category)
	return ident, nil
}

func scanIdentities(rows *sql.Rows) ([]database.Identity, error) {
	defer rows.Close()

	out := []database.Identity{}
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// ListIdentities returns a page of identities, most detected first.
func (r *IdentityRepository) ListIdentities(ctx context.Context, page, perPage int) ([]database.Identity, int, error) {
	var out []database.Identity
	var total int

	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM identity").Scan(&total); err != nil {
			return fmt.Errorf("count identities: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT `+identityColumns+` AS cnt
			FROM identity i
			ORDER BY cnt DESC, i.id
			LIMIT $1 OFFSET $2
		`, perPage, (page-1)*perPage)
		if err != nil {
			return fmt.Errorf("query identities: %w", err)
		}
		out, err = scanIdentities(rows)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *IdentityRepository) NamedIdentities(ctx context.Context) ([]database.Identity, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		"SELECT "+identityColumns+" FROM identity i WHERE i.display_name IS NOT NULL AND i.display_name <> '' ORDER BY i.id")
	if err != nil {
		return nil, fmt.Errorf("query named identities: %w", err)
	}
	return scanIdentities(rows)
}

func (r *IdentityRepository) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	ident, err := scanIdentity(r.pool.DB().QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identity i WHERE i.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// IdentityItems returns a page of items showing the identity, newest first.
func (r *IdentityRepository) IdentityItems(ctx context.Context, id int64, page, perPage int) ([]database.ItemSummary, int, error) {
	filter := database.ItemFilter{
		IdentityID: id,
		Sort:       database.SortTakenAt,
		Desc:       true,
		Page:       page,
		PerPage:    perPage,
	}
	return NewItemRepository(r.pool).SearchItems(ctx, filter)
}

func (r *IdentityRepository) RenameIdentity(ctx context.Context, id int64, name *string) error {
	res, err := r.pool.DB().ExecContext(ctx,
		"UPDATE identity SET display_name = $1 WHERE id = $2", nullString(name), id)
	if err != nil {
		return fmt.Errorf("rename identity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *IdentityRepository) IdentityCrop(ctx context.Context, id int64) (*database.CropInfo, error) {
	var crop database.CropInfo
	err := r.pool.DB().QueryRowContext(ctx, `
		SELECT d.item_id, m.path, COALESCE(m.width, 0), COALESCE(m.height, 0),
			d.bbox_x1, d.bbox_y1, d.bbox_x2, d.bbox_y2
		FROM detection d
		JOIN media_item m ON m.id = d.item_id
		WHERE d.identity_id = $1
		ORDER BY d.id
		LIMIT 1
	`, id).Scan(&crop.ItemID, &crop.Path, &crop.Width, &crop.Height, &crop.BBox[0], &crop.BBox[1], &crop.BBox[2], &crop.BBox[3])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query crop of identity %d: %w", id, err)
	}
	return &crop, nil
}

var _ database.IdentityStore = (*IdentityRepository)(nil)
