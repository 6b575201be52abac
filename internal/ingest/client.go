package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the per-request retry loop. Delays double on every
// attempt with no jitter, so a policy of 3 attempts at 5ms sleeps exactly
// 5ms then 10ms before giving up.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy suits a worker on loopback: brief outages during
// worker restart are survived, a dead worker fails in under two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// HTTPError is a non-2xx worker response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker returned %d", e.Status)
	}
	return fmt.Sprintf("worker returned %d: %s", e.Status, e.Body)
}

// Client posts ingestion traffic to the worker.
type Client struct {
	baseURL string
	policy  RetryPolicy
	httpc   *http.Client
}

// NewClient builds a client for the worker at baseURL. A zero-valued policy
// falls back to DefaultRetryPolicy.
func NewClient(baseURL string, policy RetryPolicy) *Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	return &Client{
		baseURL: baseURL,
		policy:  policy,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// PostJSON posts body to path and decodes the response into out when out is
// non-nil. Network errors and 408/425/429/5xx responses are retried under
// the client's policy; any other failure surfaces immediately.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err // network errors retry
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			herr := &HTTPError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
			if statusRetryable(resp.StatusCode) {
				return herr
			}
			return backoff.Permanent(herr)
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	retries := uint64(c.policy.MaxAttempts - 1)
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
}

func statusRetryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
