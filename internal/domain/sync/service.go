package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// Servicer is the sync API used by the HTTP layer.
type Servicer interface {
	// ApplyBatch validates and applies a pushed batch.
	ApplyBatch(ctx context.Context, b *Batch, kind BatchKind) (*BatchResult, error)
	// Pull returns the next page of changes.
	Pull(ctx context.Context, req DeltaRequest) (*DeltaResponse, error)
}

// DefaultClaimLease is how long a pending syncId claim blocks resends before
// another request may take it over.
const DefaultClaimLease = 5 * time.Minute

type Service struct {
	codec      *Codec
	applier    *Applier
	delta      *DeltaEngine
	cascade    *CascadePolicy
	batches    IdempotencyRepository
	claimLease time.Duration
	log        *slog.Logger
}

func NewService(
	codec *Codec,
	applier *Applier,
	delta *DeltaEngine,
	cascade *CascadePolicy,
	batches IdempotencyRepository,
	log *slog.Logger,
) *Service {
	return &Service{
		codec:      codec,
		applier:    applier,
		delta:      delta,
		cascade:    cascade,
		batches:    batches,
		claimLease: DefaultClaimLease,
		log:        log.With(slog.String("component", "sync_service")),
	}
}

// WithClaimLease overrides DefaultClaimLease. Non-positive values are ignored.
func (s *Service) WithClaimLease(d time.Duration) *Service {
	if d > 0 {
		s.claimLease = d
	}
	return s
}

// ApplyBatch rejects an invalid envelope before touching the store. A batch
// carrying a syncId that was already applied returns the stored result with
// Replayed set; one still being applied returns ErrBatchInFlight until its
// claim lease runs out. A batch interrupted by ctx is released rather than
// recorded, so a resend applies it again.
func (s *Service) ApplyBatch(ctx context.Context, b *Batch, kind BatchKind) (*BatchResult, error) {
	if err := s.codec.ValidateBatch(b, kind); err != nil {
		return nil, err
	}

	if b.SyncID == "" {
		return s.apply(ctx, b), nil
	}

	prior, err := s.batches.Claim(ctx, b.Source, b.SyncID, s.claimLease)
	if err != nil {
		return nil, fmt.Errorf("claim sync id: %w", err)
	}
	if prior != nil {
		if !prior.Completed || prior.Result == nil {
			return nil, ErrBatchInFlight
		}
		replay := *prior.Result
		replay.Replayed = true
		s.log.Info("batch replayed",
			slog.String("source", string(b.Source)),
			slog.String("sync_id", b.SyncID),
		)
		return &replay, nil
	}

	res := s.apply(ctx, b)

	// The claim must be settled even if the caller went away.
	bg := context.WithoutCancel(ctx)
	if cerr := ctx.Err(); cerr != nil {
		s.log.Warn("batch interrupted, releasing sync id",
			slog.String("sync_id", b.SyncID),
			slog.String("error", cerr.Error()),
		)
		s.release(bg, b)
		return res, nil
	}
	if err := s.batches.Complete(bg, b.Source, b.SyncID, res); err != nil {
		s.log.Error("store batch result failed",
			slog.String("sync_id", b.SyncID),
			slog.String("error", err.Error()),
		)
		s.release(bg, b)
	}
	return res, nil
}

func (s *Service) release(ctx context.Context, b *Batch) {
	if err := s.batches.Release(ctx, b.Source, b.SyncID); err != nil {
		s.log.Error("release sync id failed", slog.String("sync_id", b.SyncID), slog.String("error", err.Error()))
	}
}

func (s *Service) apply(ctx context.Context, b *Batch) *BatchResult {
	res := s.applier.Apply(ctx, b)
	res.Cascaded = s.cascade.Run(ctx, b, res)

	s.log.Info("batch processed",
		slog.String("source", string(b.Source)),
		slog.Int("items", len(b.Items)),
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
		slog.Int("cascaded", len(res.Cascaded)),
	)
	return res
}

func (s *Service) Pull(ctx context.Context, req DeltaRequest) (*DeltaResponse, error) {
	for _, m := range req.Models {
		if !m.Valid() {
			return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidDelta, m)
		}
	}
	if req.Limit < 0 || req.Limit > MaxDeltaLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidDelta, MaxDeltaLimit)
	}
	return s.delta.Pull(ctx, req)
}
