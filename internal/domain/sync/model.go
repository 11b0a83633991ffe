package sync

import (
	"slices"
	"strings"
	"time"

	"portalsync/internal/domain/entity"
)

// Operation is the mutation an item asks for.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpUpsert Operation = "UPSERT"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpUpsert:
		return true
	}
	return false
}

// BatchKind selects the limits a batch is validated against.
type BatchKind int

const (
	KindMutation BatchKind = iota
	KindBulletin
)

const (
	MaxMutationItems = 1000
	MaxBulletinItems = 100

	DefaultDeltaLimit = 100
	MaxDeltaLimit     = 1000
)

func (k BatchKind) MaxItems() int {
	if k == KindBulletin {
		return MaxBulletinItems
	}
	return MaxMutationItems
}

func (k BatchKind) String() string {
	if k == KindBulletin {
		return "bulletin"
	}
	return "mutation"
}

// ChangeQuery selects a page of the change stream ordered by
// (updated, model, id). Without From it starts at the first row updated at
// or after After; with From it starts strictly after that position. Rows
// changed less than Settle ago by the store clock are held back.
type ChangeQuery struct {
	After  time.Time
	From   *Cursor
	Models []entity.Model
	Limit  int
	Settle time.Duration
}

// Includes reports whether rec falls inside the query window, ignoring Limit.
func (q ChangeQuery) Includes(rec *entity.Record) bool {
	if len(q.Models) > 0 && !slices.Contains(q.Models, rec.Model) {
		return false
	}
	if q.From == nil {
		return !rec.Updated.Before(q.After)
	}
	return CompareChange(rec, *q.From) > 0
}

// CompareChange orders rec against a stream position by (updated, model, id).
func CompareChange(rec *entity.Record, c Cursor) int {
	if d := rec.Updated.Compare(c.After); d != 0 {
		return d
	}
	if d := strings.Compare(string(rec.Model), string(c.Model)); d != 0 {
		return d
	}
	return strings.Compare(rec.ID, c.ID)
}

// StoredBatch is the idempotency record of a syncId.
type StoredBatch struct {
	Source    entity.Origin
	SyncID    string
	Completed bool
	Result    *BatchResult
	CreatedAt time.Time
}
