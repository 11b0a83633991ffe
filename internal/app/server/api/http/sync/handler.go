package sync

import (
	"context"
	"errors"
	"fmt"

	"portalsync/internal/app/server/api/http/envelope"
	"portalsync/internal/domain/sync"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

type Handler struct {
	service      sync.Servicer
	log          *slog.Logger
	middleware   huma.Middlewares
	maxBodyBytes int64
}

func NewHandler(service sync.Servicer, log *slog.Logger, mws huma.Middlewares, maxBodyBytes int64) *Handler {
	return &Handler{
		service:      service,
		log:          log,
		middleware:   mws,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.batchOp(), h.batch)
	huma.Register(api, h.bulletinsOp(), h.bulletins)
	huma.Register(api, h.deltaOp(), h.delta)
}

func (h *Handler) batch(ctx context.Context, input *batchInput) (*batchOutput, error) {
	return h.apply(ctx, &input.Body, sync.KindMutation)
}

func (h *Handler) bulletins(ctx context.Context, input *batchInput) (*batchOutput, error) {
	return h.apply(ctx, &input.Body, sync.KindBulletin)
}

func (h *Handler) apply(ctx context.Context, b *sync.Batch, kind sync.BatchKind) (*batchOutput, error) {
	res, err := h.service.ApplyBatch(ctx, b, kind)
	if err != nil {
		return nil, h.mapError(err)
	}

	msg := fmt.Sprintf("Processed %d of %d items", res.Processed, res.Processed+res.Failed)
	if res.Replayed {
		msg = "Batch already applied; returning the stored result"
	}
	return &batchOutput{
		Body: batchResponse{
			Meta:        envelope.OK(msg),
			BatchResult: *res,
		},
	}, nil
}

func (h *Handler) delta(ctx context.Context, input *deltaInput) (*deltaOutput, error) {
	req, err := sync.ParseDeltaQuery(input.Since, input.Models, input.Limit, input.Cursor)
	if err != nil {
		return nil, h.mapError(err)
	}

	resp, err := h.service.Pull(ctx, req)
	if err != nil {
		return nil, h.mapError(err)
	}

	return &deltaOutput{
		Body: deltaResponse{
			Meta:          envelope.OK(fmt.Sprintf("%d changes", len(resp.Items))),
			DeltaResponse: *resp,
		},
	}, nil
}

func (h *Handler) mapError(err error) error {
	switch {
	case errors.Is(err, sync.ErrInvalidBatch),
		errors.Is(err, sync.ErrInvalidDelta),
		errors.Is(err, sync.ErrInvalidCursor):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, sync.ErrBatchInFlight):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, context.Canceled):
		return huma.Error503ServiceUnavailable("request cancelled")
	default:
		h.log.Error("sync request failed", slog.String("error", err.Error()))
		return huma.Error500InternalServerError("internal error")
	}
}
