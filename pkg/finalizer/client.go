// Package finalizer is a client for the external finalize-stage-results
// endpoint, which recomputes leaderboards and notifies riders once stage
// results are official.
package finalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/keo-sports/stage-engine/internal/resilience"
)

// Client finalizes a batch of stage results.
type Client interface {
	Finalize(ctx context.Context, req Request) error
}

// Request is the body sent to the finalizer.
type Request struct {
	StageID string          `json:"stage_id"`
	Results []ResultPayload `json:"results"`
}

// ResultPayload is one published stage result.
type ResultPayload struct {
	ResultID            string `json:"result_id"`
	OfficialTimeSeconds int    `json:"official_time_seconds"`
	MountainPoints      int    `json:"mountain_points"`
	Status              string `json:"status"`
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing calls per second. Zero or less disables it.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
	}
}

type httpClient struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a finalizer client posting to url.
func NewClient(url, apiKey string, opts ...Option) Client {
	c := &httpClient{
		url:     url,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Finalize posts the batch. 408, 429 and 5xx responses come back as
// resilience.TransientError so callers can retry them.
func (c *httpClient) Finalize(ctx context.Context, req Request) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "finalizer: rate limit wait")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "finalizer: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "finalizer: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "finalizer: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrap(err, "finalizer: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := eris.Errorf("finalizer: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	var result response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return eris.Wrap(err, "finalizer: unmarshal response")
	}
	if !result.Success {
		return eris.Errorf("finalizer: rejected: %s", result.Error)
	}
	return nil
}
