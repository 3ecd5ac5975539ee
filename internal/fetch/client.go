// Package fetch is the HTTP layer shared by the registry adapters, the OSV client and the
// manifest and lockfile tiers: per-request timeout, per-host rate limiting, a cap on concurrent
// requests and at most one retry on transient failure.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ortelius/pdvd-depscan/model"
)

const maxBodyBytes = 64 << 20

// Observer receives one call per HTTP attempt.
type Observer interface {
	ObserveRequest(host, outcome string, elapsed time.Duration)
}

// Options configures a Client. Zero values take the defaults noted per field.
type Options struct {
	Timeout       time.Duration // per request, default 15s
	UserAgent     string
	RatePerSecond float64 // per host, default 10; negative disables limiting
	Burst         int     // default 5
	MaxConcurrent int64   // in-flight requests across hosts, default 10
	MaxRetries    uint64  // default 1
	RetryWait     time.Duration
	Logger        *zap.Logger
	Observer      Observer
	Transport     http.RoundTripper
}

// Client performs rate-limited, retried HTTP requests.
type Client struct {
	http       *http.Client
	userAgent  string
	rate       rate.Limit
	burst      int
	sem        *semaphore.Weighted
	maxRetries uint64
	retryWait  time.Duration
	logger     *zap.Logger
	observer   Observer

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	return fmt.Sprintf("%s %s: HTTP %d", method, e.URL, e.StatusCode)
}

// Is lets errors.Is(err, model.ErrNotFound) match a 404.
func (e *StatusError) Is(target error) bool {
	return target == model.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Transient reports whether the status is worth one more try.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pdvd-depscan"
	}
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limit := rate.Limit(opts.RatePerSecond)
	if opts.RatePerSecond < 0 {
		limit = rate.Inf
	}

	return &Client{
		http:       &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		userAgent:  opts.UserAgent,
		rate:       limit,
		burst:      opts.Burst,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		maxRetries: opts.MaxRetries,
		retryWait:  opts.RetryWait,
		logger:     opts.Logger,
		observer:   opts.Observer,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Request describes one call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Do performs the request, retrying once on network errors, 429 and 5xx. Other 4xx responses and
// context cancellation are returned without retry.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", req.URL, err)
	}

	var body []byte
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		b, err := c.attempt(ctx, u.Host, req)
		if err == nil {
			body = b
			return nil
		}
		var se *StatusError
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
			return backoff.Permanent(err)
		case errors.As(err, &se) && !se.Transient():
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryWait
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Sugar().Debugf("retrying %s %s in %s: %v", req.Method, req.URL, wait, err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, host string, req Request) ([]byte, error) {
	if err := c.limiter(host).Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	var reader io.Reader
	if req.Body != nil {
		reader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = vs
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(host, "error", start)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe(host, "error", start)
		return nil, fmt.Errorf("read body from %s: %w", req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(host, fmt.Sprintf("%dxx", resp.StatusCode/100), start)
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode, Body: snippet}
	}
	c.observe(host, "ok", start)
	return data, nil
}

func (c *Client) observe(host, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(host, outcome, time.Since(start))
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.rate, c.burst)
		c.limiters[host] = l
	}
	return l
}

// Get fetches a URL.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// GetJSON fetches a URL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	data, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// PostJSON encodes in as the request body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request for %s: %w", rawURL, err)
	}
	data, err := c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: payload})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
