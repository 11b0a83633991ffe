package memory

import (
	"context"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/sync"
)

type recordKey struct {
	model entity.Model
	id    string
}

// RecordRepository keeps replicated entities in a map. Tombstones stay in the
// map so they keep showing up in the change stream.
//
// Writes that carry no Updated time are stamped under the write lock, after
// every change already visible, so a reader's cursor never passes a row that
// has not been written yet.
type RecordRepository struct {
	mu   gosync.RWMutex
	rows map[recordKey]*entity.Record
	last time.Time
	now  func() time.Time
}

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{
		rows: make(map[recordKey]*entity.Record),
		now:  time.Now,
	}
}

// stamp returns the next change time, after both floor and every earlier
// stamp. Callers hold the write lock.
func (r *RecordRepository) stamp(floor time.Time) time.Time {
	t := r.now().UTC().Truncate(time.Microsecond)
	if r.last.After(floor) {
		floor = r.last
	}
	if !t.After(floor) {
		t = floor.Add(time.Microsecond)
	}
	r.last = t
	return t
}

// observe keeps explicit timestamps from seeding and imports in the floor.
func (r *RecordRepository) observe(t time.Time) {
	if t.After(r.last) {
		r.last = t
	}
}

func (r *RecordRepository) Get(_ context.Context, model entity.Model, id string) (*entity.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.rows[recordKey{model, id}]
	if !ok || rec.Deleted() {
		return nil, sync.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *RecordRepository) Insert(_ context.Context, rec *entity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{rec.Model, rec.ID}
	cur, ok := r.rows[k]
	if ok && !cur.Deleted() {
		return sync.ErrConflict
	}
	if rec.Updated.IsZero() {
		var floor time.Time
		if ok {
			floor = cur.Updated
		}
		rec.Updated = r.stamp(floor)
	} else {
		r.observe(rec.Updated)
	}
	if rec.Created.IsZero() {
		rec.Created = rec.Updated
	}
	r.rows[k] = rec.Clone()
	return nil
}

func (r *RecordRepository) Update(_ context.Context, rec *entity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{rec.Model, rec.ID}
	cur, ok := r.rows[k]
	if !ok || cur.Deleted() {
		return sync.ErrNotFound
	}
	if rec.Updated.IsZero() {
		rec.Updated = r.stamp(cur.Updated)
	} else {
		r.observe(rec.Updated)
	}
	next := rec.Clone()
	next.Created = cur.Created
	r.rows[k] = next
	return nil
}

func (r *RecordRepository) Delete(_ context.Context, model entity.Model, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{model, id}
	cur, ok := r.rows[k]
	if !ok || cur.Deleted() {
		return sync.ErrNotFound
	}
	switch {
	case at.IsZero():
		at = r.stamp(cur.Updated)
	case !at.After(cur.Updated):
		at = cur.Updated.Add(time.Microsecond)
		r.observe(at)
	default:
		r.observe(at)
	}
	tomb := cur.Clone()
	tomb.DeletedAt = &at
	tomb.Updated = at
	r.rows[k] = tomb
	return nil
}

func (r *RecordRepository) Changes(_ context.Context, q sync.ChangeQuery) ([]*entity.Record, int, error) {
	r.mu.RLock()
	var horizon time.Time
	if q.Settle > 0 {
		horizon = r.now().UTC().Add(-q.Settle)
	}
	matched := make([]*entity.Record, 0)
	for _, rec := range r.rows {
		if !horizon.IsZero() && rec.Updated.After(horizon) {
			continue
		}
		if q.Includes(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *entity.Record) int {
		return sync.CompareChange(a, sync.CursorOf(b))
	})

	total := len(matched)
	page := matched
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
	}
	return page, total, nil
}

func (r *RecordRepository) FindBy(_ context.Context, model entity.Model, field, value string) ([]*entity.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.Record
	for k, rec := range r.rows {
		if k.model != model || rec.Deleted() {
			continue
		}
		if rec.String(field) == value {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *entity.Record) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Len counts stored rows including tombstones.
func (r *RecordRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
