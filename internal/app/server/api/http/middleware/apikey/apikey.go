package apikey

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"portalsync/internal/domain/access"
	"portalsync/internal/domain/lockout"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Checker is the access gate.
type Checker interface {
	Check(ctx context.Context, req access.Request) access.Result
}

// Limiter is the lockout guard.
type Limiter interface {
	Check(ctx context.Context, id string, t lockout.Type) (lockout.Status, error)
	Record(ctx context.Context, id string, t lockout.Type, success bool) error
}

type APIKey struct {
	api     huma.API
	gate    Checker
	limiter Limiter
	log     *slog.Logger
}

func New(api huma.API, gate Checker, limiter Limiter, log *slog.Logger) *APIKey {
	return &APIKey{
		api:     api,
		gate:    gate,
		limiter: limiter,
		log:     log.With(slog.String("component", "apikey_middleware")),
	}
}

type contextKey string

const clientIPKey contextKey = "clientIP"

// Middleware rejects calls without a valid x-api-key. Failed attempts are
// counted per client IP; a blocked IP gets 429 before the key is looked at.
func (a *APIKey) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		ip := access.ClientIP(ctx.Header("X-Forwarded-For"), ctx.Header("X-Real-IP"), ctx.RemoteAddr())

		if a.limiter != nil {
			st, err := a.limiter.Check(ctx.Context(), ip, lockout.TypeAPI)
			if err != nil {
				a.log.Error("lockout check failed", slog.String("ip", ip), slog.String("error", err.Error()))
			} else if !st.Allowed {
				secs := int(math.Ceil(st.ResetIn.Seconds()))
				if secs < 1 {
					secs = 1
				}
				ctx.SetHeader("Retry-After", strconv.Itoa(secs))
				_ = huma.WriteErr(a.api, ctx, http.StatusTooManyRequests, "Too many failed attempts, try again later")
				return
			}
		}

		action := ""
		if op := ctx.Operation(); op != nil {
			action = op.OperationID
		}
		res := a.gate.Check(ctx.Context(), access.Request{
			APIKey:       ctx.Header(access.HeaderAPIKey),
			ForwardedFor: ctx.Header("X-Forwarded-For"),
			RealIP:       ctx.Header("X-Real-IP"),
			RemoteAddr:   ctx.RemoteAddr(),
			Action:       action,
			Detail:       map[string]any{"method": ctx.Method(), "path": ctx.URL().Path},
		})

		if !res.Valid {
			// A server without keys is not the caller's fault.
			if a.limiter != nil && !errors.Is(res.Err, access.ErrMisconfigured) {
				if err := a.limiter.Record(ctx.Context(), ip, lockout.TypeAPI, false); err != nil {
					a.log.Error("lockout record failed", slog.String("ip", ip), slog.String("error", err.Error()))
				}
			}
			_ = huma.WriteErr(a.api, ctx, http.StatusUnauthorized, res.Error())
			return
		}

		if a.limiter != nil {
			if err := a.limiter.Record(ctx.Context(), ip, lockout.TypeAPI, true); err != nil {
				a.log.Error("lockout record failed", slog.String("ip", ip), slog.String("error", err.Error()))
			}
		}

		next(huma.WithValue(ctx, clientIPKey, res.IP))
	}
}

// ClientIP returns the caller address resolved by the middleware.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
