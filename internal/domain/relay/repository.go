package relay

import (
	"context"
	"time"

	"portalsync/internal/domain/entity"
)

// Repository is the retry ledger.
type Repository interface {
	// Create returns ErrAlreadySubmitted when the (form, member) pair already
	// has a submission, and ErrMaxEntries when maxEntries is positive and the
	// form already holds that many. Both checks are atomic with the insert.
	Create(ctx context.Context, s *Submission, maxEntries int) error
	Get(ctx context.Context, id string) (*Submission, error)
	Exists(ctx context.Context, formID, memberID string) (bool, error)
	MarkAttempting(ctx context.Context, id string) error
	// ClaimRetries moves up to limit submissions to ATTEMPTING and returns
	// them oldest first: every FAILED one, and CREATED or ATTEMPTING ones last
	// touched before staleBefore. A submission is handed to one caller only.
	ClaimRetries(ctx context.Context, staleBefore time.Time, limit int) ([]*Submission, error)
	// MarkDelivered and MarkFailed add attempts to the running count.
	MarkDelivered(ctx context.Context, id string, attempts int, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error
	List(ctx context.Context, f ListFilter) ([]*Submission, error)
}

// RecordStore is the subset of the sync record store the relay reads forms,
// members and profiles from and writes submissions to.
type RecordStore interface {
	Get(ctx context.Context, model entity.Model, id string) (*entity.Record, error)
	Insert(ctx context.Context, rec *entity.Record) error
}
