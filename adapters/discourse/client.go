// Package discourse implements the Discourse forum crawler adapter: paginated
// topic/post/revision/like fetching against a forum's public JSON API,
// grounded on chainrpc's rate-limit-and-retry façade style but adapted for
// HTTP status codes instead of RPC errors.
package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"governanceagg/observability"
)

const maxRetries = 5

var defaultUserAgents = []string{
	"governanceagg/1.0 (+https://governanceagg.invalid)",
	"Mozilla/5.0 (compatible; governanceagg-crawler/1.0)",
}

// Client is a single forum's rate-limited, retrying HTTP client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgents []string

	limiter *rate.Limiter

	mu            sync.Mutex
	forbiddenTill time.Time
}

// NewClient builds a Client for the given forum base URL, rate-limited to
// requestsPerMinute.
func NewClient(baseURL string, requestsPerMinute int) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		UserAgents: defaultUserAgents,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
	}
}

func (c *Client) userAgent() string {
	return c.UserAgents[rand.Intn(len(c.UserAgents))]
}

// getJSON performs a GET against path, decoding the JSON response into out.
// 403s set a one-hour cooldown on the whole client (the forum is blocking
// this crawler, not just this request); 429s honor Retry-After; 5xx retries
// with exponential backoff, capped at maxRetries attempts.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	c.mu.Lock()
	blockedUntil := c.forbiddenTill
	c.mu.Unlock()
	if time.Now().Before(blockedUntil) {
		return fmt.Errorf("discourse: %s in 403 cooldown until %s", c.BaseURL, blockedUntil)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		status, body, headers, err := c.doGet(ctx, path)
		observability.Adapter().Observe("discourse:"+c.BaseURL, time.Since(start), err)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusForbidden:
			c.mu.Lock()
			c.forbiddenTill = time.Now().Add(time.Hour)
			c.mu.Unlock()
			observability.Adapter().RecordThrottle("discourse:"+c.BaseURL, "403")
			return fmt.Errorf("discourse: %s returned 403, entering cooldown", path)
		case status == http.StatusTooManyRequests:
			observability.Adapter().RecordThrottle("discourse:"+c.BaseURL, "429")
			if err := c.sleepRetryAfter(ctx, headers.Get("Retry-After")); err != nil {
				return err
			}
			lastErr = fmt.Errorf("discourse: %s returned 429", path)
			continue
		case status >= 500:
			observability.Adapter().RecordThrottle("discourse:"+c.BaseURL, "5xx")
			lastErr = fmt.Errorf("discourse: %s returned %d", path, status)
			c.sleepBackoff(ctx, attempt)
			continue
		case status >= 400:
			return fmt.Errorf("discourse: %s returned %d", path, status)
		}

		if out == nil {
			return nil
		}
		return json.Unmarshal(body, out)
	}
	return fmt.Errorf("discourse: %s exhausted retries: %w", path, lastErr)
}

func (c *Client) doGet(ctx context.Context, path string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if readErr != nil {
			break
		}
	}
	return resp.StatusCode, buf, resp.Header, nil
}

func (c *Client) sleepRetryAfter(ctx context.Context, retryAfter string) error {
	delay := 30 * time.Second
	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && seconds > 0 {
		delay = time.Duration(seconds) * time.Second
	}
	return c.sleep(ctx, delay)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Duration(1<<attempt) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	_ = c.sleep(ctx, delay)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
