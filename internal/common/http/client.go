// internal/common/http/client.go
package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultUserAgents is a small set of desktop browser user agents used by
// scrape sources when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// Client is shared by every HTTP-backed source. It rotates user agents
// round-robin across requests.
type Client struct {
	httpClient *http.Client
	userAgents []string
	next       atomic.Uint64
}

func NewClient(timeout time.Duration, userAgents ...string) *Client {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgents: userAgents,
	}
}

// NextUserAgent returns the user agent for the next request.
func (c *Client) NextUserAgent() string {
	n := c.next.Add(1) - 1
	return c.userAgents[n%uint64(len(c.userAgents))]
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.NextUserAgent())
	}
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.Do(req.WithContext(ctx))
}

// Get issues a GET with the given headers.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}
