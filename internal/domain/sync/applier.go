package sync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"portalsync/internal/domain/authority"
	"portalsync/internal/domain/entity"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Applier runs batch items against the record store one at a time, in order,
// without a surrounding transaction.
type Applier struct {
	repo     RecordRepository
	resolver *authority.Resolver
	log      *slog.Logger
	newID    func() string
}

func NewApplier(repo RecordRepository, resolver *authority.Resolver, log *slog.Logger) *Applier {
	return &Applier{
		repo:     repo,
		resolver: resolver,
		log:      log.With(slog.String("component", "batch_applier")),
		newID:    func() string { return uuid.NewString() },
	}
}

// Apply executes every item of a validated batch. The result always holds
// one entry per item and processed+failed equals len(b.Items).
func (a *Applier) Apply(ctx context.Context, b *Batch) *BatchResult {
	res := &BatchResult{
		SyncID:  b.SyncID,
		Results: make([]ItemResult, 0, len(b.Items)),
		Errors:  []ItemError{},
	}

	for i := range b.Items {
		it := b.Items[i]
		r := a.applyItem(ctx, b.Source, it)
		r.Index = i
		res.Results = append(res.Results, r)

		if r.Success {
			res.Processed++
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, ItemError{Index: i, Error: r.Error, Item: &it})
	}

	a.log.Debug("batch applied",
		slog.String("source", string(b.Source)),
		slog.String("sync_id", b.SyncID),
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (a *Applier) applyItem(ctx context.Context, source entity.Origin, it Item) ItemResult {
	if err := ctx.Err(); err != nil {
		return ItemResult{ID: it.ID, Error: err.Error()}
	}

	var (
		r   ItemResult
		err error
	)
	switch it.Operation {
	case OpCreate:
		r, err = a.create(ctx, source, it)
	case OpUpdate:
		r, err = a.update(ctx, source, it)
	case OpDelete:
		r, err = a.delete(ctx, source, it)
	case OpUpsert:
		r, err = a.upsert(ctx, source, it)
	default:
		err = fmt.Errorf("unknown operation %q", it.Operation)
	}

	if err != nil {
		r.Success = false
		r.Error = itemReason(err)
		if r.ID == "" {
			r.ID = it.ID
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) && !errors.Is(err, errAuthority) {
			a.log.Error("item failed",
				slog.String("operation", string(it.Operation)),
				slog.String("model", string(it.Model)),
				slog.String("id", r.ID),
				slog.String("error", err.Error()),
			)
		}
		return r
	}

	r.Success = true
	return r
}

var errAuthority = errors.New("authority violation")

func itemReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return reasonNotFound
	case errors.Is(err, ErrConflict):
		return reasonAlreadyExists
	default:
		return err.Error()
	}
}

func (a *Applier) create(ctx context.Context, source entity.Origin, it Item) (ItemResult, error) {
	if !a.resolver.CanCreate(it.Model, source) {
		return ItemResult{ID: it.ID}, fmt.Errorf("%w: %s cannot create %s", errAuthority, source, it.Model)
	}

	id := it.ID
	if id == "" {
		id = a.newID()
	}
	fields, dropped := a.resolver.FilterWritableFields(it.Model, source, it.Data)
	r := ItemResult{ID: id, Dropped: dropped}

	// The store stamps created and updated.
	err := a.repo.Insert(ctx, &entity.Record{
		Model:  it.Model,
		ID:     id,
		Origin: source,
		Fields: fields,
	})
	return r, err
}

func (a *Applier) update(ctx context.Context, source entity.Origin, it Item) (ItemResult, error) {
	fields, dropped := a.resolver.FilterWritableFields(it.Model, source, it.Data)
	r := ItemResult{ID: it.ID, Dropped: dropped}

	cur, err := a.repo.Get(ctx, it.Model, it.ID)
	if err != nil {
		return r, err
	}
	return r, a.merge(ctx, cur, fields)
}

func (a *Applier) merge(ctx context.Context, cur *entity.Record, fields map[string]any) error {
	next := cur.Clone()
	maps.Copy(next.Fields, fields)
	next.Updated = time.Time{}
	return a.repo.Update(ctx, next)
}

func (a *Applier) delete(ctx context.Context, source entity.Origin, it Item) (ItemResult, error) {
	r := ItemResult{ID: it.ID}
	if !a.resolver.CanCreate(it.Model, source) {
		return r, fmt.Errorf("%w: %s cannot delete %s", errAuthority, source, it.Model)
	}
	return r, a.repo.Delete(ctx, it.Model, it.ID, time.Time{})
}

func (a *Applier) upsert(ctx context.Context, source entity.Origin, it Item) (ItemResult, error) {
	if it.ID == "" {
		return a.create(ctx, source, it)
	}

	cur, err := a.repo.Get(ctx, it.Model, it.ID)
	switch {
	case err == nil:
		fields, dropped := a.resolver.FilterWritableFields(it.Model, source, it.Data)
		return ItemResult{ID: it.ID, Dropped: dropped}, a.merge(ctx, cur, fields)
	case errors.Is(err, ErrNotFound):
		r, err := a.create(ctx, source, it)
		if errors.Is(err, ErrConflict) {
			// Created concurrently since the lookup; apply as an update.
			return a.update(ctx, source, it)
		}
		return r, err
	default:
		return ItemResult{ID: it.ID}, err
	}
}
