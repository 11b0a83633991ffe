package health

import (
	"context"

	"portalsync/internal/app/server/api/http/envelope"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	storage    string
	pinger     Pinger
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(storage string, pinger Pinger, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		storage:    storage,
		pinger:     pinger,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			h.log.Error("storage ping failed", slog.String("error", err.Error()))
			return nil, huma.Error503ServiceUnavailable("storage unavailable")
		}
	}

	return &Output{
		Body: Response{
			Meta:    envelope.OK(""),
			Status:  "OK",
			Storage: h.storage,
		},
	}, nil
}
