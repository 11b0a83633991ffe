package sync

import (
	"context"
	"fmt"
	"time"

	"portalsync/internal/domain/entity"

	"golang.org/x/exp/slog"
)

// DeltaEngine pages through the change stream ordered by (updated, model, id).
type DeltaEngine struct {
	repo   RecordRepository
	settle time.Duration
	log    *slog.Logger
}

func NewDeltaEngine(repo RecordRepository, log *slog.Logger) *DeltaEngine {
	return &DeltaEngine{
		repo: repo,
		log:  log.With(slog.String("component", "delta_engine")),
	}
}

// WithSettleLag holds back rows changed less than lag ago, so writes that were
// stamped but not yet committed land before a cursor can pass them.
func (d *DeltaEngine) WithSettleLag(lag time.Duration) *DeltaEngine {
	if lag > 0 {
		d.settle = lag
	}
	return d
}

// Pull returns the next page. Empty results are not an error: the caller is
// caught up.
func (d *DeltaEngine) Pull(ctx context.Context, req DeltaRequest) (*DeltaResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultDeltaLimit
	}
	if limit > MaxDeltaLimit {
		limit = MaxDeltaLimit
	}

	q := ChangeQuery{After: req.Since.UTC(), Models: req.Models, Limit: limit, Settle: d.settle}
	if req.Cursor != "" {
		c, err := DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		q.From = &c
	}

	rows, total, err := d.repo.Changes(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load changes: %w", err)
	}

	// total counts every row past the start position, so the page offset
	// within it is always zero.
	resp := &DeltaResponse{
		Items:      make([]DeltaItem, 0, len(rows)),
		NextCursor: req.Cursor,
		HasMore:    len(rows) < total,
	}
	for _, rec := range rows {
		resp.Items = append(resp.Items, toDeltaItem(rec))
	}
	if len(rows) > 0 {
		resp.NextCursor = EncodeCursor(CursorOf(rows[len(rows)-1]))
	}

	d.log.Debug("delta served",
		slog.Time("after", q.After),
		slog.Bool("from_cursor", q.From != nil),
		slog.Int("returned", len(rows)),
		slog.Int("total", total),
	)
	return resp, nil
}

func toDeltaItem(rec *entity.Record) DeltaItem {
	item := DeltaItem{
		Model:   rec.Model,
		ID:      rec.ID,
		Origin:  rec.Origin,
		Created: rec.Created,
		Updated: rec.Updated,
		Deleted: rec.Deleted(),
	}
	if !item.Deleted {
		item.Data = rec.Fields
	}
	return item
}

// MaxUpdated is the newest timestamp in items, or zero.
func MaxUpdated(items []DeltaItem) time.Time {
	var newest time.Time
	for _, it := range items {
		if it.Updated.After(newest) {
			newest = it.Updated
		}
	}
	return newest
}
