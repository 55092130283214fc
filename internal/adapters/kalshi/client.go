package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	source = "kalshi"

	defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// Basic tier allows 20 reads/s; stay at half.
	defaultRatePerSec = 10

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the Kalshi trade API client with rate limiting and retries.
type Client struct {
	http      *http.Client
	base      string
	limiter   *rate.Limiter
	signer    Signer
	retryWait time.Duration
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSigner authenticates every request with s.
func WithSigner(s Signer) Option { return func(c *Client) { c.signer = s } }

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRate sets the request rate limit in requests per second.
func WithRate(perSec float64) Option {
	return func(c *Client) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), int(math.Max(1, perSec/2)))
		}
	}
}

// WithRetryWait sets the base backoff between retries.
func WithRetryWait(d time.Duration) Option { return func(c *Client) { c.retryWait = d } }

// NewClient creates a Client for baseURL, which must include the
// /trade-api/v2 prefix. An empty baseURL uses production.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		base:      baseURL,
		limiter:   rate.NewLimiter(defaultRatePerSec, 5),
		retryWait: baseRetryWait,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// get does a GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if err := c.sign(req); err != nil {
			return nil, err
		}
		return c.http.Do(req)
	}, out)
}

// post does a JSON POST with rate limiting and retries.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, http.MethodPost, path, body, out)
}

// send does a request with an optional JSON body. The body is encoded once,
// so every retry carries the same client_order_id.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var b []byte
	if body != nil {
		var err error
		if b, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		var rd io.Reader
		if b != nil {
			rd = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return nil, err
		}
		if b != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if err := c.sign(req); err != nil {
			return nil, err
		}
		return c.http.Do(req)
	}, out)
}

func (c *Client) sign(req *http.Request) error {
	if c.signer == nil {
		return nil
	}
	headers, err := c.signer.Sign(req.Method, req.URL.Path, c.now())
	if err != nil {
		return &ports.SourceError{Source: source, Kind: ports.KindUnknown, Err: fmt.Errorf("sign request: %w", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

// doWithRetry runs fn with exponential backoff. Every failure is returned as
// a *ports.SourceError.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.fail(ports.KindTimeout, 0, fmt.Errorf("rate limiter: %w", err))
		}

		resp, err := fn()
		if err != nil {
			var se *ports.SourceError
			if errors.As(err, &se) {
				return err
			}
			if ctx.Err() != nil {
				return c.fail(ports.KindTimeout, 0, err)
			}
			last = c.fail(classify(err), 0, err)
			if attempt == maxRetries {
				return last
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("kalshi: rate limited", "attempt", attempt+1)
			last = c.fail(ports.KindRateLimited, resp.StatusCode, errors.New("too many requests"))
			if attempt == maxRetries {
				return last
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			last = c.fail(ports.KindHTTPStatus, resp.StatusCode, errors.New("server error"))
			if attempt == maxRetries {
				return last
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			kind := ports.KindHTTPStatus
			if resp.StatusCode == http.StatusNotFound {
				kind = ports.KindNotFound
			}
			return c.fail(kind, resp.StatusCode, fmt.Errorf("client error: %s", string(body)))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return c.fail(ports.KindMalformed, 0, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	return last
}

func (c *Client) fail(kind ports.ErrorKind, status int, err error) error {
	return &ports.SourceError{Source: source, Kind: kind, Status: status, Err: err}
}

func classify(err error) ports.ErrorKind {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return ports.KindTimeout
	}
	return ports.KindUnavailable
}

// sleep waits with exponential backoff, honoring the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
