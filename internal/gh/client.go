// Package gh is a rate-limit-aware GitHub REST client. It owns the wire
// protocol for the ingestion pipeline: authenticated GETs, the retry
// decision table for transient failures, and capped exponential backoff
// with Retry-After override.
package gh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public GitHub API endpoint.
	DefaultBaseURL = "https://api.github.com"

	// apiVersion pins the REST API version on every request.
	apiVersion = "2022-11-28"

	headerRateRemaining = "X-RateLimit-Remaining"
	headerRetryAfter    = "Retry-After"

	bodySnippetLen = 200
)

// Client performs authenticated GET requests against the GitHub API with
// automatic retry on transient failures. One client issues requests
// strictly sequentially; it blocks the caller during backoff sleeps.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger

	// sleep is swapped out in tests to observe backoff values.
	sleep func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRetryPolicy sets the retry budget and backoff bounds.
func WithRetryPolicy(maxRetries int, initial, max time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLimiter adds a proactive token-bucket throttle applied before every
// attempt, on top of the reactive backoff. Nil (the default) disables it.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a Client authenticated with the given token.
// The token is carried by an oauth2 transport so every request gets a
// bearer header.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = 30 * time.Second

	c := &Client{
		httpClient:     hc,
		baseURL:        DefaultBaseURL,
		maxRetries:     5,
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
		logger:         logger.With("component", "github"),
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs a GET against the given endpoint path (e.g. "/user/repos")
// and returns the raw JSON body. Transient failures (transport errors,
// 429/5xx, secondary rate limiting) are retried with backoff up to the
// configured budget; any other non-2xx status is returned immediately as
// an *HTTPError.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	u := c.fullURL(endpoint, params)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		c.logger.Debug("GET", "url", u, "attempt", attempt+1, "max_attempts", c.maxRetries+1)

		body, retryAfter, err := c.doOnce(ctx, u)
		if err == nil {
			return body, nil
		}

		httpErr, isHTTP := err.(*HTTPError)
		if isHTTP && !retryableStatus(httpErr.StatusCode, httpErr.rateRemaining) {
			return nil, httpErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == c.maxRetries {
			break
		}

		backoff := c.backoff(attempt, retryAfter)
		c.logger.Warn("Retrying request", "url", u, "backoff", backoff, "error", err)
		c.sleep(backoff)
	}

	return nil, fmt.Errorf("github: request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// doOnce performs a single attempt. On a non-2xx status it returns an
// *HTTPError and, when present, the parsed Retry-After duration.
func (c *Client) doOnce(ctx context.Context, u string) (json.RawMessage, *time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !json.Valid(body) {
			return nil, nil, fmt.Errorf("github: GET %s returned invalid JSON", u)
		}
		return body, nil, nil
	}

	httpErr := &HTTPError{
		StatusCode:    resp.StatusCode,
		URL:           u,
		Body:          snippet(body),
		rateRemaining: resp.Header.Get(headerRateRemaining),
	}
	return nil, parseRetryAfter(resp.Header.Get(headerRetryAfter)), httpErr
}

func (c *Client) fullURL(endpoint string, params url.Values) string {
	path := endpoint
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// backoff computes the sleep before the next attempt. A parseable
// Retry-After wins, capped at the ceiling; otherwise exponential from the
// initial backoff, attempt indexed from 0.
func (c *Client) backoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return min(*retryAfter, c.maxBackoff)
	}
	// Large retry budgets would overflow the shift into a negative
	// duration; the ceiling is reached long before 32 doublings.
	if attempt > 32 {
		attempt = 32
	}
	return min(c.initialBackoff<<attempt, c.maxBackoff)
}

// retryableStatus reports whether a response status warrants a retry:
// 429 and the transient 5xx family always do, a 403 only when the
// rate-limit-remaining header says the quota is exhausted (secondary or
// primary rate limiting). Everything else is a terminal API error.
func retryableStatus(status int, rateRemaining string) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		return rateRemaining == "0"
	}
	return false
}

func parseRetryAfter(v string) *time.Duration {
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	d := time.Duration(secs * float64(time.Second))
	return &d
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > bodySnippetLen {
		s = s[:bodySnippetLen]
	}
	return s
}
