package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// CatalogRepository provides the pipeline-facing catalog: item reads and
// batch transactions.
type CatalogRepository struct {
	pool *Pool
}

// NewCatalogRepository creates a new PostgreSQL catalog repository.
func NewCatalogRepository(pool *Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// WithTx runs fn in one transaction spanning every call made through tx.
func (r *CatalogRepository) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	return r.pool.WithTx(ctx, nil, func(tx *sql.Tx) error {
		return fn(&catalogTx{tx: tx})
	})
}

// GetItem retrieves an item by id.
func (r *CatalogRepository) GetItem(ctx context.Context, id int64) (*database.MediaItem, error) {
	row := r.pool.DB().QueryRowContext(ctx, "SELECT "+itemColumns+" FROM media_item WHERE id = $1", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CountPending returns the number of analysable items waiting for stage.
func (r *CatalogRepository) CountPending(ctx context.Context, stage database.Stage) (int, error) {
	where, err := pendingCondition(stage)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.pool.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_item WHERE "+where, analysableExtensions(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending %s: %w", stage, err)
	}
	return count, nil
}

// ListItemEmbeddings returns every stored item embedding.
func (r *CatalogRepository) ListItemEmbeddings(ctx context.Context) ([]database.ItemEmbedding, error) {
	var out []database.ItemEmbedding
	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, embedding FROM media_item WHERE embedding IS NOT NULL ORDER BY id")
		if err != nil {
			return fmt.Errorf("query item embeddings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e database.ItemEmbedding
			var vec pgvector.Vector
			if err := rows.Scan(&e.ItemID, &vec); err != nil {
				return fmt.Errorf("scan item embedding: %w", err)
			}
			e.Embedding = vec.Slice()
			if len(e.Embedding) == 0 {
				continue
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns catalog-wide counters.
func (r *CatalogRepository) Stats(ctx context.Context) (*database.CatalogStats, error) {
	stats := &database.CatalogStats{
		TagsBySource: make(map[database.TagSource]int),
		Pending:      make(map[database.Stage]int),
	}

	err := r.pool.WithReadTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM media_item),
				(SELECT COUNT(*) FROM media_item WHERE embedding IS NOT NULL),
				(SELECT COUNT(*) FROM identity),
				(SELECT COUNT(*) FROM detection)
		`).Scan(&stats.Items, &stats.WithEmbeddings, &stats.Identities, &stats.Detections)
		if err != nil {
			return fmt.Errorf("query catalog counts: %w", err)
		}

		rows, err := tx.QueryContext(ctx, "SELECT source, COUNT(*) FROM tag GROUP BY source")
		if err != nil {
			return fmt.Errorf("query tag counts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var source string
			var count int
			if err := rows.Scan(&source, &count); err != nil {
				return fmt.Errorf("scan tag count: %w", err)
			}
			stats.TagsBySource[database.TagSource(source)] = count
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate tag counts: %w", err)
		}

		for _, stage := range database.AnnotationStages {
			where, err := pendingCondition(stage)
			if err != nil {
				return err
			}
			var n int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM media_item WHERE "+where, analysableExtensions(),
			).Scan(&n); err != nil {
				return fmt.Errorf("count pending %s: %w", stage, err)
			}
			stats.Pending[stage] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// pendingCondition builds the WHERE clause selecting items waiting for stage.
// $1 binds the analysable extensions.
func pendingCondition(stage database.Stage) (string, error) {
	col, err := stage.Column()
	if err != nil {
		return "", err
	}
	prereq := stage.Prerequisite()
	if prereq == "" {
		return "", fmt.Errorf("stage %s is not driven by the pipeline", stage)
	}
	prereqCol, err := prereq.Column()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s AND NOT %s AND upper(extension) = ANY($1)", prereqCol, col), nil
}

// catalogTx implements database.Tx over one *sql.Tx.
type catalogTx struct {
	tx *sql.Tx
}

// PendingItems locks and returns the next batch for stage. Rows locked by a
// concurrent batch are skipped.
func (t *catalogTx) PendingItems(ctx context.Context, stage database.Stage, limit int) ([]database.MediaItem, error) {
	where, err := pendingCondition(stage)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM media_item WHERE "+where+
			" ORDER BY id LIMIT $2 FOR UPDATE SKIP LOCKED",
		analysableExtensions(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending %s: %w", stage, err)
	}
	return scanItems(rows)
}

func (t *catalogTx) AddTags(ctx context.Context, itemID int64, tags []database.NewTag) (int, error) {
	inserted := 0
	for _, tag := range tags {
		args := []any{itemID, tag.Label, tag.Score, string(tag.Source), tag.Confirmed, nullString(tag.Override)}
		args = append(args, bboxArgs(tag.BBox)...)

		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO tag (item_id, label, score, source, confirmed, label_override,
			                 bbox_x1, bbox_y1, bbox_x2, bbox_y2)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (item_id, label, source) DO NOTHING
		`, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert tag %q for item %d: %w", tag.Label, itemID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

func (t *catalogTx) SetItemEmbedding(ctx context.Context, itemID int64, embedding []float32) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE media_item SET embedding = $1, embedding_failed = FALSE, updated_at = NOW() WHERE id = $2",
		pgvector.NewVector(embedding), itemID,
	)
	if err != nil {
		return fmt.Errorf("set embedding for item %d: %w", itemID, err)
	}
	return nil
}

func (t *catalogTx) MarkStageDone(ctx context.Context, itemID int64, stage database.Stage) error {
	col, err := stage.Column()
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		"UPDATE media_item SET "+col+" = TRUE, updated_at = NOW() WHERE id = $1", itemID)
	if err != nil {
		return fmt.Errorf("mark %s done for item %d: %w", stage, itemID, err)
	}
	return nil
}

func (t *catalogTx) PendingEmbeddings(ctx context.Context, limit int) ([]database.MediaItem, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+itemColumns+` FROM media_item
		WHERE tag_done AND embedding IS NULL AND NOT embedding_failed AND upper(extension) = ANY($1)
		ORDER BY id LIMIT $2 FOR UPDATE SKIP LOCKED`,
		analysableExtensions(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending embeddings: %w", err)
	}
	return scanItems(rows)
}

func (t *catalogTx) MarkEmbeddingFailed(ctx context.Context, itemID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE media_item SET embedding_failed = TRUE, updated_at = NOW() WHERE id = $1", itemID)
	if err != nil {
		return fmt.Errorf("mark embedding failed for item %d: %w", itemID, err)
	}
	return nil
}

func (t *catalogTx) IdentityEmbeddings(ctx context.Context, afterID int64) ([]database.IdentityEmbedding, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT id, representative_embedding FROM identity WHERE id > $1 ORDER BY id", afterID)
	if err != nil {
		return nil, fmt.Errorf("query identity embeddings: %w", err)
	}
	return scanIdentityEmbeddings(rows)
}

func (t *catalogTx) IdentityEmbeddingsByID(ctx context.Context, ids []int64) ([]database.IdentityEmbedding, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		"SELECT id, representative_embedding FROM identity WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query identity embeddings by id: %w", err)
	}
	return scanIdentityEmbeddings(rows)
}

func scanIdentityEmbeddings(rows *sql.Rows) ([]database.IdentityEmbedding, error) {
	defer rows.Close()

	var out []database.IdentityEmbedding
	for rows.Next() {
		var e database.IdentityEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &vec); err != nil {
			return nil, fmt.Errorf("scan identity embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity embeddings: %w", err)
	}
	return out, nil
}

func (t *catalogTx) CreateIdentity(ctx context.Context, ident database.NewIdentity) (int64, error) {
	var category any
	if ident.Category != "" {
		category = ident.Category
	}

	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO identity (representative_embedding, age_estimate, gender_estimate, category)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, pgvector.NewVector(ident.Embedding), ident.AgeEstimate, ident.GenderEstimate, category).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert identity: %w", err)
	}
	return id, nil
}

func (t *catalogTx) AddDetection(ctx context.Context, det database.Detection) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO detection (item_id, identity_id, bbox_x1, bbox_y1, bbox_x2, bbox_y2, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (item_id, identity_id) DO NOTHING
	`, det.ItemID, det.IdentityID, det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3], det.Confidence)
	if err != nil {
		return false, fmt.Errorf("insert detection item %d identity %d: %w", det.ItemID, det.IdentityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("detection rows affected: %w", err)
	}
	return n > 0, nil
}

// IdentityExists also locks the identity row for the rest of the transaction.
func (t *catalogTx) IdentityExists(ctx context.Context, id int64) (bool, error) {
	var found int64
	err := t.tx.QueryRowContext(ctx, "SELECT id FROM identity WHERE id = $1 FOR UPDATE", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check identity %d: %w", id, err)
	}
	return true, nil
}

func (t *catalogTx) DeleteOverlappingDetections(ctx context.Context, sourceID, targetID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM detection
		WHERE identity_id = $1 AND item_id IN (
			SELECT item_id FROM detection WHERE identity_id = $2
		)
	`, sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("delete overlapping detections of %d: %w", sourceID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *catalogTx) ReassignDetections(ctx context.Context, sourceID, targetID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE detection SET identity_id = $2 WHERE identity_id = $1", sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("reassign detections %d -> %d: %w", sourceID, targetID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *catalogTx) DeleteIdentities(ctx context.Context, ids []int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM identity WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete identities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *catalogTx) CountDetections(ctx context.Context, identityID int64) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM detection WHERE identity_id = $1", identityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count detections of %d: %w", identityID, err)
	}
	return count, nil
}

// Interface compliance checks.
var (
	_ database.Catalog = (*CatalogRepository)(nil)
	_ database.Tx      = (*catalogTx)(nil)
)
