package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"portalsync/internal/domain/access"
	"portalsync/internal/domain/audit"
	"portalsync/internal/domain/authority"
	"portalsync/internal/domain/lockout"
	"portalsync/internal/domain/relay"
	"portalsync/internal/domain/sync"
	"portalsync/internal/infrastructure/storage/memory"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newTestMux(t *testing.T) *chi.Mux {
	t.Helper()
	log := slog.Default()
	records := memory.NewRecordRepository()
	codec, err := sync.NewCodec()
	require.NoError(t, err)

	guard := lockout.NewGuard(lockout.NewMemoryStore(), lockout.DefaultPolicies(), log)
	return New(Deps{
		Sync: sync.NewService(
			codec,
			sync.NewApplier(records, authority.NewResolver(authority.DefaultPolicy()), log),
			sync.NewDeltaEngine(records, log),
			sync.NewCascadePolicy(sync.CascadeNone, records, log),
			memory.NewBatchRepository(),
			log,
		),
		Relay:       relay.NewService(memory.NewSubmissionRepository(), records, relay.NewWebhookClient(relay.WebhookOptions{}, log), guard, log),
		Gate:        access.NewGate(access.NewKeySet([]string{"k1"}), audit.NewSlogSink(log), log),
		Limiter:     guard,
		StorageName: "memory",
	}, log)
}

func TestNew_Routes(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name       string
		method     string
		path       string
		key        string
		body       string
		wantStatus int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{"delta needs a key", http.MethodGet, "/api/v1/sync/delta", "", "", http.StatusUnauthorized},
		{"delta with key", http.MethodGet, "/api/v1/sync/delta", "k1", "", http.StatusOK},
		{"submissions need a key", http.MethodGet, "/api/v1/forms/submissions", "bad", "", http.StatusUnauthorized},
		{
			"batch with key", http.MethodPost, "/api/v1/sync/batch", "k1",
			`{"timestamp":"2025-01-01T00:00:00Z","source":"PORTAL","items":[{"operation":"CREATE","model":"profile","data":{"email":"a@b.c"}}]}`,
			http.StatusOK,
		},
		{"unknown form", http.MethodPost, "/api/v1/forms/nope/submit", "k1", `{"memberId":"m1","responses":{}}`, http.StatusNotFound},
		{"openapi document", http.MethodGet, "/openapi.json", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.key != "" {
				req.Header.Set("x-api-key", tt.key)
			}
			rec := httptest.NewRecorder()

			// Act
			mux.ServeHTTP(rec, req)

			// Assert
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if strings.HasPrefix(tt.path, "/api/") {
				assert.Contains(t, rec.Body.String(), `"timestamp"`)
			}
		})
	}
}

func TestNew_OpenAPIDeclaresAPIKey(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"x-api-key"`)
	assert.Contains(t, rec.Body.String(), `"/api/v1/sync/delta"`)
}
