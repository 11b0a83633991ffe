// GET  /api/v1/health                         # liveness and storage ping (public)
// POST /api/v1/sync/batch                     # push mutations (api key)
// POST /api/v1/sync/bulletins                 # push bulletins (api key)
// GET  /api/v1/sync/delta                     # pull changes (api key)
// POST /api/v1/forms/{formId}/submit          # submit a form (api key)
// GET  /api/v1/forms/submissions              # reconciliation listing (api key)
// POST /api/v1/forms/submissions/{id}/ack     # mark as synced (api key)
// POST /api/v1/forms/relay/retry              # re-deliver pending relays (api key)

package api

import (
	"portalsync/internal/app/server/api/http/envelope"
	formsAPI "portalsync/internal/app/server/api/http/forms"
	healthAPI "portalsync/internal/app/server/api/http/health"
	"portalsync/internal/app/server/api/http/middleware"
	"portalsync/internal/app/server/api/http/middleware/apikey"
	"portalsync/internal/app/server/api/http/middleware/logger"
	syncAPI "portalsync/internal/app/server/api/http/sync"
	"portalsync/internal/domain/relay"
	"portalsync/internal/domain/sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"
)

// Deps are the services the HTTP layer is built from.
type Deps struct {
	Sync         sync.Servicer
	Relay        relay.Servicer
	Gate         apikey.Checker
	Limiter      apikey.Limiter
	Pinger       healthAPI.Pinger
	StorageName  string
	MaxBodyBytes int64
}

type Handlers struct {
	Health *healthAPI.Handler
	Sync   *syncAPI.Handler
	Forms  *formsAPI.Handler
}

// New creates a *chi.Mux with every operation registered through huma.
func New(deps Deps, log *slog.Logger) *chi.Mux {
	envelope.Install()

	mux := chi.NewMux()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)

	config := huma.DefaultConfig("Portal Sync API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"apiKey": {Type: "apiKey", In: "header", Name: "x-api-key"},
	}

	API := humachi.New(mux, config)

	h := handlers(API, deps, log)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)
	h.Forms.SetupRoutes(API)

	return mux
}

func handlers(api huma.API, deps Deps, log *slog.Logger) *Handlers {
	keyMW := apikey.New(api, deps.Gate, deps.Limiter, log)
	loggerMW := logger.New(log)
	public := middleware.NewChain(loggerMW.Middleware())
	guarded := public.Extend(keyMW.Middleware())

	healthHandler := healthAPI.NewHandler(deps.StorageName, deps.Pinger, log, public.With())
	syncHandler := syncAPI.NewHandler(deps.Sync, log, guarded.With(), deps.MaxBodyBytes)
	formsHandler := formsAPI.NewHandler(deps.Relay, log, guarded.With())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
		Forms:  formsHandler,
	}
}
