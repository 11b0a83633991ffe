package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

// BatchRepository stores syncId claims and their results in sync_batches.
type BatchRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewBatchRepository(pool *pgxpool.Pool, log *slog.Logger) *BatchRepository {
	return &BatchRepository{
		pool: pool,
		log:  log.With("component", "batch_repository"),
	}
}

// Claim inserts the claim or takes over a pending one older than lease.
func (r *BatchRepository) Claim(ctx context.Context, source entity.Origin, syncID string, lease time.Duration) (*sync.StoredBatch, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO sync_batches (source, sync_id)
		VALUES ($1, $2)
		ON CONFLICT (source, sync_id) DO UPDATE SET
			created_at = now(),
			completed = FALSE,
			result = NULL
		WHERE sync_batches.completed = FALSE
		  AND $3::float8 > 0
		  AND sync_batches.created_at <= now() - make_interval(secs => $3::float8)`,
		string(source), syncID, lease.Seconds())
	if err != nil {
		r.log.Error("failed to claim sync id", "sync_id", syncID, "error", err)
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	b := &sync.StoredBatch{Source: source, SyncID: syncID}
	var raw []byte
	err = r.pool.QueryRow(ctx, `
		SELECT completed, result, created_at
		FROM sync_batches
		WHERE source = $1 AND sync_id = $2`, string(source), syncID).Scan(&b.Completed, &raw, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if len(raw) > 0 {
		var res sync.BatchResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode batch result: %w", err)
		}
		b.Result = &res
	}
	return b, nil
}

func (r *BatchRepository) Complete(ctx context.Context, source entity.Origin, syncID string, result *sync.BatchResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode batch result: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_batches
		SET completed = TRUE, result = $3
		WHERE source = $1 AND sync_id = $2`, string(source), syncID, raw)
	if err != nil {
		r.log.Error("failed to complete batch", "sync_id", syncID, "error", err)
		return fmt.Errorf("complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sync.ErrNotFound
	}
	return nil
}

func (r *BatchRepository) Release(ctx context.Context, source entity.Origin, syncID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sync_batches WHERE source = $1 AND sync_id = $2`, string(source), syncID)
	if err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}
