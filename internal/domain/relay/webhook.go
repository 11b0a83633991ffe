package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"
)

// Deliverer pushes one payload and reports how many HTTP attempts it made.
type Deliverer interface {
	Deliver(ctx context.Context, p Payload) (attempts int, err error)
}

type WebhookOptions struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
}

// WebhookClient posts payloads to the external communications system. With
// MaxRetries zero it makes exactly one attempt.
type WebhookClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewWebhookClient(opts WebhookOptions, log *slog.Logger) *WebhookClient {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &WebhookClient{
		url:        strings.TrimSpace(opts.URL),
		apiKey:     opts.APIKey,
		httpClient: hc,
		maxRetries: retries,
		baseDelay:  base,
		maxDelay:   maxDelay,
		log:        log.With(slog.String("component", "webhook")),
		sleep:      sleepContext,
	}
}

func (c *WebhookClient) Deliver(ctx context.Context, p Payload) (int, error) {
	if c.url == "" {
		return 1, ErrNotConfigured
	}

	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	for attempt := 0; ; attempt++ {
		retryAfter, err := c.post(ctx, body, p.SubmissionID)
		if err == nil {
			return attempt + 1, nil
		}

		var re *retryableError
		if !errors.As(err, &re) || attempt >= c.maxRetries {
			c.log.Warn("webhook delivery failed",
				slog.String("submission_id", p.SubmissionID),
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			return attempt + 1, err
		}

		if werr := c.sleep(ctx, c.retryDelay(attempt+1, retryAfter)); werr != nil {
			return attempt + 1, err
		}
	}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// post makes one attempt. Network errors, 429 and 5xx are retryable.
func (c *WebhookClient) post(ctx context.Context, body []byte, submissionID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Submission-Id", submissionID)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("webhook request: %w", err)}
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return "", nil
	}

	msg := strings.TrimSpace(string(respBody))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return resp.Header.Get("Retry-After"), &retryableError{err: err}
	}
	return "", err
}

func (c *WebhookClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
