package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portalsync/internal/domain/entity"

	"golang.org/x/exp/slog"
)

type CascadeMode string

const (
	CascadeNone     CascadeMode = "none"
	CascadeBarcodes CascadeMode = "barcodes"
)

func ParseCascadeMode(s string) (CascadeMode, error) {
	switch CascadeMode(s) {
	case "", CascadeNone:
		return CascadeNone, nil
	case CascadeBarcodes:
		return CascadeBarcodes, nil
	}
	return "", fmt.Errorf("unknown cascade mode %q", s)
}

// CascadePolicy runs explicit cross-entity rules after a batch was applied.
// With CascadeBarcodes, deleting a member or marking it deceased deactivates
// the barcodes assigned to it.
type CascadePolicy struct {
	mode CascadeMode
	repo RecordRepository
	log  *slog.Logger
}

func NewCascadePolicy(mode CascadeMode, repo RecordRepository, log *slog.Logger) *CascadePolicy {
	return &CascadePolicy{
		mode: mode,
		repo: repo,
		log:  log.With(slog.String("component", "cascade")),
	}
}

func (p *CascadePolicy) Mode() CascadeMode {
	return p.mode
}

// Run inspects the successful items of b and returns the follow-up changes
// it made. Failures are logged and skipped; they never affect the batch.
func (p *CascadePolicy) Run(ctx context.Context, b *Batch, res *BatchResult) []CascadeChange {
	if p == nil || p.mode != CascadeBarcodes {
		return nil
	}

	var changes []CascadeChange
	for _, r := range res.Results {
		if !r.Success || r.Index >= len(b.Items) {
			continue
		}
		it := b.Items[r.Index]
		if it.Model != entity.ModelMember {
			continue
		}

		var reason string
		switch {
		case it.Operation == OpDelete:
			reason = "member deleted"
		case deceasedWritten(it, r):
			reason = "member deceased"
		default:
			continue
		}

		changes = append(changes, p.deactivateBarcodes(ctx, r.ID, reason)...)
	}
	return changes
}

func deceasedWritten(it Item, r ItemResult) bool {
	if v, ok := it.Data["deceased"].(bool); !ok || !v {
		return false
	}
	for _, f := range r.Dropped {
		if f == "deceased" {
			return false
		}
	}
	return true
}

func (p *CascadePolicy) deactivateBarcodes(ctx context.Context, memberID, reason string) []CascadeChange {
	barcodes, err := p.repo.FindBy(ctx, entity.ModelBarcode, "member_id", memberID)
	if err != nil {
		p.log.Error("lookup barcodes failed", slog.String("member_id", memberID), slog.String("error", err.Error()))
		return nil
	}

	var changes []CascadeChange
	for _, bc := range barcodes {
		if active, ok := bc.Fields["active"].(bool); ok && !active {
			continue
		}

		next := bc.Clone()
		next.Fields["active"] = false
		next.Updated = time.Time{}

		if err := p.repo.Update(ctx, next); err != nil {
			if !errors.Is(err, ErrNotFound) {
				p.log.Error("deactivate barcode failed", slog.String("barcode_id", bc.ID), slog.String("error", err.Error()))
			}
			continue
		}
		changes = append(changes, CascadeChange{Model: entity.ModelBarcode, ID: bc.ID, Reason: reason})
	}
	return changes
}
