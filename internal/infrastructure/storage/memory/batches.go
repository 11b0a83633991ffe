package memory

import (
	"context"
	gosync "sync"
	"time"

	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/sync"
)

type batchKey struct {
	source entity.Origin
	syncID string
}

// BatchRepository is the in-memory idempotency table.
type BatchRepository struct {
	mu      gosync.Mutex
	batches map[batchKey]*sync.StoredBatch
	now     func() time.Time
}

func NewBatchRepository() *BatchRepository {
	return &BatchRepository{
		batches: make(map[batchKey]*sync.StoredBatch),
		now:     time.Now,
	}
}

// Claim takes over a pending claim once it is older than lease.
func (r *BatchRepository) Claim(_ context.Context, source entity.Origin, syncID string, lease time.Duration) (*sync.StoredBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	k := batchKey{source, syncID}
	if b, ok := r.batches[k]; ok {
		stale := !b.Completed && lease > 0 && now.Sub(b.CreatedAt) >= lease
		if !stale {
			c := *b
			return &c, nil
		}
	}
	r.batches[k] = &sync.StoredBatch{
		Source:    source,
		SyncID:    syncID,
		CreatedAt: now,
	}
	return nil, nil
}

func (r *BatchRepository) Complete(_ context.Context, source entity.Origin, syncID string, result *sync.BatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchKey{source, syncID}]
	if !ok {
		return sync.ErrNotFound
	}
	b.Completed = true
	b.Result = result
	return nil
}

func (r *BatchRepository) Release(_ context.Context, source entity.Origin, syncID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.batches, batchKey{source, syncID})
	return nil
}
