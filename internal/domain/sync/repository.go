package sync

import (
	"context"
	"time"

	"portalsync/internal/domain/entity"
)

// RecordRepository stores replicated entities. Tombstoned rows are invisible
// to Get, Update, Delete and FindBy, and Insert may overwrite them.
//
// A write with a zero Updated (or a Delete with a zero at) is stamped by the
// store when it is written, later than the row's previous change. Insert and
// Update copy the assigned times back into rec.
type RecordRepository interface {
	// Get returns the live record or ErrNotFound.
	Get(ctx context.Context, model entity.Model, id string) (*entity.Record, error)
	// Insert stores a new record or returns ErrConflict when a live one exists.
	Insert(ctx context.Context, rec *entity.Record) error
	// Update replaces the fields of a live record or returns ErrNotFound.
	Update(ctx context.Context, rec *entity.Record) error
	// Delete tombstones a live record at the given time or returns ErrNotFound.
	Delete(ctx context.Context, model entity.Model, id string, at time.Time) error
	// Changes returns one page of the change stream plus the number of rows
	// in the whole query window.
	Changes(ctx context.Context, q ChangeQuery) ([]*entity.Record, int, error)
	// FindBy lists live records of model whose string field equals value.
	FindBy(ctx context.Context, model entity.Model, field, value string) ([]*entity.Record, error)
}

// IdempotencyRepository remembers batches by (source, syncId).
type IdempotencyRepository interface {
	// Claim registers a pending batch. It returns nil when the claim is new or
	// took over a pending claim older than lease, otherwise the existing record.
	Claim(ctx context.Context, source entity.Origin, syncID string, lease time.Duration) (*StoredBatch, error)
	Complete(ctx context.Context, source entity.Origin, syncID string, result *BatchResult) error
	Release(ctx context.Context, source entity.Origin, syncID string) error
}
