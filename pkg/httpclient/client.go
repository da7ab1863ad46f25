// Package httpclient is the outbound HTTP stack: a pooled client that
// retries transient failures, a circuit breaker in front of it, and the
// mapping from error responses to AppErrors.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Doer sends one logical request.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds HTTP client configuration.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 16,
	}
}

// Client sends requests over a pooled transport and retries network errors
// and 5xx responses other than 501 with jittered exponential backoff. Only
// idempotent methods are retried: a POST the server may already have
// applied is sent once.
type Client struct {
	hc  *http.Client
	cfg Config
}

var _ Doer = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &Client{
		hc: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
				MaxConnsPerHost:     cfg.MaxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		cfg: cfg,
	}
}

// Do sends req, retrying idempotent methods up to MaxRetries times. A body
// is replayed through req.GetBody; a request whose body cannot be replayed
// is sent once. The last 5xx response is returned as is once retries are
// exhausted.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	hasBody := req.Body != nil && req.Body != http.NoBody
	tries := c.cfg.MaxRetries + 1
	if !idempotent(req.Method) || (hasBody && req.GetBody == nil) {
		tries = 1
	}

	attempt := 0
	send := func() (*http.Response, error) {
		attempt++
		if attempt > 1 && hasBody {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("rewind request body: %w", err))
			}
			req.Body = body
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if retryableStatus(resp.StatusCode) && attempt < tries {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, send,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(tries)),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("http request failed after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryWaitMin
	b.MaxInterval = c.cfg.RetryWaitMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	return b
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code >= 500 && code != http.StatusNotImplemented
}

// NewJSONRequest builds a request whose body, if any, can be replayed on retry.
func NewJSONRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
