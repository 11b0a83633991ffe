package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"portalsync/internal/app/client/config"
	"portalsync/internal/domain/relay"
	"portalsync/internal/domain/sync"

	"golang.org/x/exp/slog"
)

const userAgent = "portalsync-cli/1.0"

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status     int
	Message    string
	Details    []string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

type HTTPClient struct {
	client  *http.Client
	log     *slog.Logger
	baseURL string
	apiKey  string
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		log:     log.With(slog.String("component", "http_client")),
		baseURL: cfg.BaseURL(),
		apiKey:  cfg.APIKey,
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// Health calls the public health endpoint and returns the storage driver name.
func (h *HTTPClient) Health(ctx context.Context) (string, error) {
	var out healthResponse
	if err := h.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Storage, nil
}

// PushBatch sends a batch to the mutation or bulletin endpoint.
func (h *HTTPClient) PushBatch(ctx context.Context, b *sync.Batch, kind sync.BatchKind) (*sync.BatchResult, error) {
	path := "/api/v1/sync/batch"
	if kind == sync.KindBulletin {
		path = "/api/v1/sync/bulletins"
	}
	var out sync.BatchResult
	if err := h.do(ctx, http.MethodPost, path, nil, b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type DeltaParams struct {
	Since  time.Time
	Models []string
	Limit  int
	Cursor string
}

func (h *HTTPClient) Delta(ctx context.Context, p DeltaParams) (*sync.DeltaResponse, error) {
	q := url.Values{}
	if !p.Since.IsZero() {
		q.Set("since", p.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(p.Models) > 0 {
		q.Set("models", strings.Join(p.Models, ","))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Cursor != "" {
		q.Set("cursor", p.Cursor)
	}

	var out sync.DeltaResponse
	if err := h.do(ctx, http.MethodGet, "/api/v1/sync/delta", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) Submit(ctx context.Context, formID string, req relay.SubmitRequest) (*relay.SubmitResult, error) {
	var out relay.SubmitResult
	path := "/api/v1/forms/" + url.PathEscape(formID) + "/submit"
	if err := h.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) Submissions(ctx context.Context, formID string, since time.Time) ([]relay.SubmissionView, error) {
	q := url.Values{}
	if formID != "" {
		q.Set("formId", formID)
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var out struct {
		Submissions []relay.SubmissionView `json:"submissions"`
	}
	if err := h.do(ctx, http.MethodGet, "/api/v1/forms/submissions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Submissions, nil
}

func (h *HTTPClient) Ack(ctx context.Context, id string) (*relay.SubmissionView, error) {
	var out struct {
		Submission relay.SubmissionView `json:"submission"`
	}
	path := "/api/v1/forms/submissions/" + url.PathEscape(id) + "/ack"
	if err := h.do(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Submission, nil
}

func (h *HTTPClient) Retry(ctx context.Context, limit int) (*relay.RetryReport, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out relay.RetryReport
	if err := h.do(ctx, http.MethodPost, "/api/v1/forms/relay/retry", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.apiKey != "" {
		req.Header.Set("x-api-key", h.apiKey)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	h.log.Debug("request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, data []byte) error {
	var env struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, &env); err == nil && env.Error != "" {
		apiErr.Message = env.Error
		apiErr.Details = env.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
