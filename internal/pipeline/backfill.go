package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/events"
	"github.com/kozaktomas/photo-annotator/internal/mediastore"
)

// BackfillResult counts the outcomes of embedding backfill.
type BackfillResult struct {
	Attempted int `json:"attempted"`
	Stored    int `json:"stored"`
	Failed    int `json:"failed"`
}

func (b *BackfillResult) add(o BackfillResult) {
	b.Attempted += o.Attempted
	b.Stored += o.Stored
	b.Failed += o.Failed
}

// BackfillBatch computes image embeddings for up to batchSize tagged items
// that have none. Items whose file is missing or whose embedding cannot be
// computed are marked failed and not retried.
func (r *Runner) BackfillBatch(ctx context.Context, batchSize int) (BackfillResult, error) {
	if r.analyzers.Encoder == nil || r.analyzers.Loader == nil {
		return BackfillResult{}, errors.New("no image encoder configured")
	}
	if batchSize <= 0 {
		return BackfillResult{}, fmt.Errorf("invalid batch size %d", batchSize)
	}
	ctx = context.WithoutCancel(ctx)

	var res BackfillResult
	err := r.catalog.WithTx(ctx, func(tx database.Tx) error {
		res = BackfillResult{}
		items, err := tx.PendingEmbeddings(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("select items without embedding: %w", err)
		}
		res.Attempted = len(items)

		for _, item := range items {
			emb, ok := r.embed(ctx, item)
			if !ok {
				if err := tx.MarkEmbeddingFailed(ctx, item.ID); err != nil {
					return fmt.Errorf("mark item %d embedding failed: %w", item.ID, err)
				}
				res.Failed++
				continue
			}
			if err := tx.SetItemEmbedding(ctx, item.ID, emb); err != nil {
				return fmt.Errorf("store item %d embedding: %w", item.ID, err)
			}
			res.Stored++
		}
		return nil
	})
	if err != nil {
		return BackfillResult{}, err
	}

	if res.Attempted > 0 {
		r.logger.Info("embeddings backfilled", "stored", res.Stored, "failed", res.Failed)
		r.publish(ctx, events.EmbeddingsBackfilled{Stored: res.Stored, Failed: res.Failed, At: time.Now().UTC()})
	}
	return res, nil
}

func (r *Runner) embed(ctx context.Context, item database.MediaItem) ([]float32, bool) {
	log := r.logger.With("item_id", item.ID, "path", item.Path)

	img, err := r.analyzers.Loader.Load(ctx, item.Path)
	if errors.Is(err, mediastore.ErrNotExist) {
		log.Warn("media file missing")
		return nil, false
	}
	if err != nil {
		log.Error("failed to load image", "error", err)
		return nil, false
	}

	emb, err := r.analyzers.Encoder.EncodeImage(ctx, img)
	if err != nil {
		log.Error("image embedding failed", "error", err)
		return nil, false
	}
	if _, ok := database.Normalize(emb); !ok {
		log.Warn("image embedding is empty")
		return nil, false
	}
	return emb, true
}

// Backfill runs backfill batches until none is left or ctx is canceled
// between batches. progress, when set, receives the running totals after
// every batch. The invalidator is notified once if anything was stored.
func (r *Runner) Backfill(ctx context.Context, batchSize int, progress func(BackfillResult)) (BackfillResult, error) {
	var total BackfillResult
	defer func() {
		if total.Stored > 0 && r.invalidator != nil {
			r.invalidator.Invalidate()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := r.BackfillBatch(ctx, batchSize)
		if err != nil {
			return total, err
		}
		if res.Attempted == 0 {
			return total, nil
		}
		total.add(res)
		if progress != nil {
			progress(total)
		}
	}
}
