package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portalsync/internal/app/server/api/http/envelope"
	"portalsync/internal/app/server/api/http/middleware/apikey"
	"portalsync/internal/domain/relay"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

type Handler struct {
	service    relay.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service relay.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.submitOp(), h.submit)
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.ackOp(), h.ack)
	huma.Register(api, h.retryOp(), h.retry)
}

func (h *Handler) submit(ctx context.Context, input *submitInput) (*submitOutput, error) {
	res, err := h.service.Submit(ctx, input.FormID, apikey.ClientIP(ctx), input.Body)
	if err != nil {
		return nil, h.mapError(err)
	}

	msg := "Submission received and relayed"
	if !res.WebhookSynced {
		msg = "Submission received; relay will be retried"
	}
	return &submitOutput{
		Body: submitResponse{
			Meta:         envelope.OK(msg),
			SubmitResult: *res,
		},
	}, nil
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	var since time.Time
	if s := strings.TrimSpace(input.Since); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, huma.Error400BadRequest("since must be an ISO 8601 timestamp")
		}
		since = t
	}

	views, err := h.service.ListSubmissions(ctx, strings.TrimSpace(input.FormID), since)
	if err != nil {
		return nil, h.mapError(err)
	}
	if views == nil {
		views = []relay.SubmissionView{}
	}

	return &listOutput{
		Body: listResponse{
			Meta:        envelope.OK(fmt.Sprintf("%d submissions", len(views))),
			Submissions: views,
			Count:       len(views),
		},
	}, nil
}

func (h *Handler) ack(ctx context.Context, input *ackInput) (*ackOutput, error) {
	view, err := h.service.Acknowledge(ctx, input.ID)
	if err != nil {
		return nil, h.mapError(err)
	}
	return &ackOutput{
		Body: ackResponse{
			Meta:       envelope.OK("Submission marked as synced"),
			Submission: *view,
		},
	}, nil
}

func (h *Handler) retry(ctx context.Context, input *retryInput) (*retryOutput, error) {
	report, err := h.service.RetryPending(ctx, input.Limit)
	if err != nil {
		return nil, h.mapError(err)
	}
	return &retryOutput{
		Body: retryResponse{
			Meta:        envelope.OK(fmt.Sprintf("Delivered %d of %d", report.Delivered, report.Attempted)),
			RetryReport: *report,
		},
	}, nil
}

func (h *Handler) mapError(err error) error {
	var blocked *relay.BlockedError
	switch {
	case errors.As(err, &blocked):
		return envelope.TooManyRequests(
			"Too many failed attempts. Please try again later.",
			blocked.RetryAfterSeconds(),
		)
	case errors.Is(err, relay.ErrFormNotFound),
		errors.Is(err, relay.ErrMemberNotFound),
		errors.Is(err, relay.ErrSubmissionNotFound):
		return huma.Error404NotFound(err.Error())
	case relay.IsRejection(err):
		return huma.Error400BadRequest(err.Error())
	default:
		h.log.Error("forms request failed", slog.String("error", err.Error()))
		return huma.Error500InternalServerError("internal error")
	}
}
