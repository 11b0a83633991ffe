package sync

import "errors"

var (
	ErrInvalidBatch  = errors.New("invalid batch")
	ErrInvalidDelta  = errors.New("invalid delta request")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrBatchInFlight = errors.New("batch with this syncId is still being applied")

	// Repository sentinels.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Per-item failure reasons reported in results.
const (
	reasonNotFound      = "not found"
	reasonAlreadyExists = "already exists"
)
