// Package instagram wraps the third-party scraping APIs behind typed,
// retry-aware adapters. Every call carries a per-request deadline and goes
// through a per-host adaptive rate limiter.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/resilience"
)

// Config holds credentials and host routing for the scraper APIs.
type Config struct {
	APIKey        string
	Host          string // profile, listing, and detail endpoints
	SimilarHost   string // similar-profiles endpoint
	SecondaryHost string // fallback profile endpoint
	AltHost       string // bulk-reels provider

	Timeout        time.Duration // default 30s
	SimilarTimeout time.Duration // default 45s

	// BaseURL overrides the scheme+authority for all requests; used by tests.
	// When empty, requests go to https://{host}.
	BaseURL string

	// Retry overrides the adapter retry policy; zero value uses
	// resilience.AdapterRetry.
	Retry resilience.RetryConfig

	HTTPClient *http.Client
}

// Client is the shared scraper API client.
type Client struct {
	cfg      Config
	http     *http.Client
	limiters map[string]*AdaptiveLimiter
}

// New creates a Client with per-host adaptive rate limiters.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SimilarTimeout <= 0 {
		cfg.SimilarTimeout = 45 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limiters := make(map[string]*AdaptiveLimiter)
	for _, host := range []string{cfg.Host, cfg.SimilarHost, cfg.SecondaryHost, cfg.AltHost} {
		if host != "" {
			limiters[host] = NewAdaptiveLimiter(5, 10)
		}
	}
	return &Client{cfg: cfg, http: httpClient, limiters: limiters}
}

func (c *Client) retryConfig() resilience.RetryConfig {
	if c.cfg.Retry.MaxAttempts > 0 {
		return c.cfg.Retry
	}
	return resilience.AdapterRetry()
}

// get performs one rate-limited GET against a RapidAPI host and decodes the
// JSON body into out. Status and parse failures are tagged with error kinds;
// callers wrap with the retry helper.
func (c *Client) get(ctx context.Context, host, path string, query url.Values, timeout time.Duration, out any) error {
	if host == "" {
		return resilience.Wrap(resilience.KindFatal, eris.New("instagram: host not configured"))
	}
	if lim, ok := c.limiters[host]; ok {
		if err := lim.Wait(ctx); err != nil {
			return eris.Wrap(err, "instagram: rate limiter")
		}
	}

	base := c.cfg.BaseURL
	if base == "" {
		base = "https://" + host
	}
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "instagram: build request")
	}
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("x-rapidapi-host", host)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.Wrap(resilience.KindTransient, eris.Wrap(err, "instagram: request"))
	}
	defer resp.Body.Close()

	lim := c.limiters[host]
	if resp.StatusCode == http.StatusTooManyRequests && lim != nil {
		lim.OnRateLimit()
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.WrapStatus(resp.StatusCode,
			eris.New(fmt.Sprintf("instagram: %s %s: %s", host, path, string(body))))
	}
	if lim != nil {
		lim.OnSuccess()
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Parse errors at the adapter boundary are retryable: partial reads
		// and provider hiccups produce truncated bodies.
		return resilience.Wrap(resilience.KindTransient, eris.Wrap(err, "instagram: decode response"))
	}
	return nil
}

// getRetried wraps get with the adapter retry policy.
func (c *Client) getRetried(ctx context.Context, host, path string, query url.Values, timeout time.Duration, out any) error {
	cfg := c.retryConfig()
	cfg.OnRetry = resilience.RetryLogger("instagram", path)
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.get(ctx, host, path, query, timeout, out)
	})
}
