// Package registry implements the three logical operations the core
// engine needs against a package index: search, versions, and fetch. The
// wire framing is a thin JSON envelope (see types.go); this package does
// not prescribe anything beyond that envelope.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/cppkg/cppkg/internal/errs"
)

// Config holds caller-supplied connection and retry policy.
type Config struct {
	BaseURL string

	// ConnectTimeout bounds a single request's dial+round-trip.
	ConnectTimeout time.Duration
	// TotalDeadline bounds the whole logical operation, including every
	// retry attempt.
	TotalDeadline time.Duration

	// MaxRetries is the number of retries the transport performs on
	// connection errors and 5xx responses before giving up (idempotent
	// GETs only); the outer TotalDeadline can still cut this short.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TotalDeadline == 0 {
		c.TotalDeadline = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
	return c
}

// Client is the registry facade the version resolver and source store
// depend on.
type Client struct {
	cfg  Config
	http *retryablehttp.Client
}

// New builds a Client. The underlying transport retries transport errors
// and 5xx responses with bounded exponential backoff and jitter; 4xx
// responses are never retried.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	h := retryablehttp.NewClient()
	h.RetryMax = cfg.MaxRetries
	h.RetryWaitMin = 10 * time.Millisecond
	h.RetryWaitMax = 100 * time.Millisecond
	h.Logger = nil
	h.HTTPClient.Timeout = cfg.ConnectTimeout
	h.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil && resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return &Client{cfg: cfg, http: h}
}

// Search looks up packages by name or description substring.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&limit=%d", c.cfg.BaseURL, url.QueryEscape(query), limit)
	var out envelope
	if err := c.getJSON(ctx, "search", endpoint, &out); err != nil {
		return nil, err
	}
	return out.Data.Results, nil
}

// Versions returns every version known to the registry for name.
func (c *Client) Versions(ctx context.Context, name string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/packages/%s/versions", c.cfg.BaseURL, url.PathEscape(name))
	var out versionsEnvelope
	if err := c.getJSON(ctx, "versions", endpoint, &out); err != nil {
		return nil, err
	}
	if len(out.Data.Versions) == 0 {
		return nil, &errs.PackageNotFound{Name: name}
	}
	return out.Data.Versions, nil
}

// Fetch downloads the source archive for an exact (name, version).
func (c *Client) Fetch(ctx context.Context, name, version string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/packages/%s/%s/archive", c.cfg.BaseURL, url.PathEscape(name), url.PathEscape(version))
	var body []byte
	err := c.withTotalDeadline(ctx, "fetch", endpoint, func(ctx context.Context) error {
		resp, err := c.do(ctx, endpoint)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	return c.withTotalDeadline(ctx, op, endpoint, func(ctx context.Context) error {
		resp, err := c.do(ctx, endpoint)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &errs.RegistryError{Op: op, Endpoint: endpoint, Err: err}
		}
		return nil
	})
}

// do issues one GET, translating a non-2xx response into a RegistryError;
// 4xx errors are marked permanent so the outer backoff does not retry
// them, per the spec's "4xx responses are surfaced as non-retryable".
func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err // transport error: retryable
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		resp.Body.Close()
		return nil, backoff.Permanent(&errs.RegistryError{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("client error")})
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, &errs.RegistryError{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("server error")}
	}
	return resp, nil
}

// withTotalDeadline wraps op with an outer bounded-elapsed-time retry on
// top of the transport's own per-request backoff, so a sequence of
// individually-successful-but-ultimately-too-slow retries cannot exceed
// the caller's total deadline.
func (c *Client) withTotalDeadline(ctx context.Context, op, endpoint string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalDeadline)
	defer cancel()

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error { return fn(ctx) }, bo)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if pe, ok := asPermanent(err); ok {
		perm = pe
	}
	if perm != nil {
		return perm.Err
	}
	if re, ok := err.(*errs.RegistryError); ok {
		return re
	}
	return &errs.RegistryError{Op: op, Endpoint: endpoint, Err: err}
}

func asPermanent(err error) (*backoff.PermanentError, bool) {
	pe, ok := err.(*backoff.PermanentError)
	return pe, ok
}
