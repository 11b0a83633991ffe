package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testPayload() Payload {
	return Payload{
		SubmissionID: "sub-1",
		FormID:       "form-1",
		FormTitle:    "Housing",
		Submitter:    Submitter{MemberID: "m1", Name: "Ann Lee"},
		Responses:    map[string]any{"q1": "yes"},
		SubmittedAt:  time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func noSleep(calls *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*calls = append(*calls, d)
		return nil
	}
}

func TestWebhookClient_Deliver_Success(t *testing.T) {
	// Arrange
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "sub-1", r.Header.Get("X-Submission-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewWebhookClient(WebhookOptions{URL: srv.URL, APIKey: "secret"}, slog.Default())

	// Act
	attempts, err := c.Deliver(context.Background(), testPayload())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "form-1", got.FormID)
	assert.Equal(t, "Ann Lee", got.Submitter.Name)
}

func TestWebhookClient_Deliver_NotConfigured(t *testing.T) {
	c := NewWebhookClient(WebhookOptions{URL: "  "}, slog.Default())

	attempts, err := c.Deliver(context.Background(), testPayload())

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, 1, attempts)
}

func TestWebhookClient_Deliver_SingleAttemptByDefault(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWebhookClient(WebhookOptions{URL: srv.URL}, slog.Default())

	attempts, err := c.Deliver(context.Background(), testPayload())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestWebhookClient_Deliver_RetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		retryAfter   string
		wantAttempts int
		wantErr      bool
		wantDelays   []time.Duration
	}{
		{
			name:         "5xx then success",
			statuses:     []int{500, 502, 200},
			wantAttempts: 3,
			wantDelays:   []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name:         "429 honours retry-after",
			statuses:     []int{429, 200},
			retryAfter:   "1",
			wantAttempts: 2,
			wantDelays:   []time.Duration{time.Second},
		},
		{
			name:         "4xx is not retried",
			statuses:     []int{400},
			wantAttempts: 1,
			wantErr:      true,
		},
		{
			name:         "gives up after max retries",
			statuses:     []int{500, 500, 500, 500},
			wantAttempts: 4,
			wantErr:      true,
			wantDelays:   []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := atomic.AddInt32(&hits, 1) - 1
				status := tt.statuses[len(tt.statuses)-1]
				if int(i) < len(tt.statuses) {
					status = tt.statuses[i]
				}
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c := NewWebhookClient(WebhookOptions{
				URL:        srv.URL,
				MaxRetries: 3,
				BaseDelay:  100 * time.Millisecond,
				MaxDelay:   2 * time.Second,
			}, slog.Default())
			var delays []time.Duration
			c.sleep = noSleep(&delays)

			// Act
			attempts, err := c.Deliver(context.Background(), testPayload())

			// Assert
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantDelays, delays)
		})
	}
}

func TestWebhookClient_Deliver_StopsOnCancelledWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWebhookClient(WebhookOptions{URL: srv.URL, MaxRetries: 5}, slog.Default())
	c.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	attempts, err := c.Deliver(context.Background(), testPayload())

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWebhookClient_RetryDelayIsCapped(t *testing.T) {
	c := NewWebhookClient(WebhookOptions{BaseDelay: time.Second, MaxDelay: 3 * time.Second}, slog.Default())

	assert.Equal(t, time.Second, c.retryDelay(1, ""))
	assert.Equal(t, 2*time.Second, c.retryDelay(2, ""))
	assert.Equal(t, 3*time.Second, c.retryDelay(3, ""))
	assert.Equal(t, 3*time.Second, c.retryDelay(1, "120"))
}

func TestParseRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfterSeconds(" 2 "))
	assert.Zero(t, parseRetryAfterSeconds(""))
	assert.Zero(t, parseRetryAfterSeconds("-1"))
	assert.Zero(t, parseRetryAfterSeconds("Wed, 21 Oct 2015 07:28:00 GMT"))
}
