// Package fetch provides the outbound HTTP client used for feed and
// article fetching: per-host rate limiting, retry with jittered backoff,
// conditional requests, and robots.txt enforcement.
package fetch

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps feed/article payloads at 10 MiB.
const maxBodyBytes = 10 << 20

// Options configures the fetch client.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	HostRate   rate.Limit // requests per second per host
	HostBurst  int
	RobotsTTL  time.Duration
}

// Result is the outcome of a conditional fetch.
type Result struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// Client fetches URLs with per-host rate limits and robots enforcement.
type Client struct {
	http   *http.Client
	opts   Options
	robots *robotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a fetch client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "placesync/1.0"
	}
	if opts.HostRate == 0 {
		opts.HostRate = 2
	}
	if opts.HostBurst == 0 {
		opts.HostBurst = 4
	}
	if opts.RobotsTTL == 0 {
		opts.RobotsTTL = time.Hour
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	c.robots = newRobotsCache(c, opts.RobotsTTL)
	return c
}

// limiterFor returns (lazily creating) the limiter for a URL's host.
func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(c.opts.HostRate, c.opts.HostBurst)
		c.limiters[host] = lim
	}
	return lim
}

// Get fetches a URL after checking robots policy. A robots-disallowed URL
// returns ErrRobotsDisallowed and is never requested.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.robots.Check(ctx, rawURL); err != nil {
		return nil, err
	}
	res, err := c.get(ctx, rawURL, "", "")
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// GetConditional fetches a URL with If-None-Match / If-Modified-Since
// replay. On 304 the result carries NotModified=true and the prior
// validators. Robots policy is checked first.
func (c *Client) GetConditional(ctx context.Context, rawURL, etag, lastModified string) (*Result, error) {
	if err := c.robots.Check(ctx, rawURL); err != nil {
		return nil, err
	}
	return c.get(ctx, rawURL, etag, lastModified)
}

// get performs the rate-limited, retried request. Used bare (without the
// robots check) only for robots.txt itself.
func (c *Client) get(ctx context.Context, rawURL, etag, lastModified string) (*Result, error) {
	lim := c.limiterFor(rawURL)

	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: create request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("fetch: request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotModified:
			_ = resp.Body.Close()
			return &Result{NotModified: true, ETag: etag, LastModified: lastModified}, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL)
			zap.L().Warn("fetch: retryable status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue

		case resp.StatusCode != http.StatusOK:
			_ = resp.Body.Close()
			return nil, eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: read body from %s", rawURL)
		}

		return &Result{
			Body:         body,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, nil
	}

	return nil, eris.Wrap(lastErr, "fetch: all retries exhausted")
}

// backoff sleeps exponentially with jitter, capped at 30s.
func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
