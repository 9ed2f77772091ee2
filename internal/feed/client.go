package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client fetches raw feed documents over HTTP.
type Client struct {
	http *resty.Client
}

// ClientConfig holds configuration for the feed client.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// NewClient creates a new feed client.
// Parameters:
//   - cfg: HTTP timeout and identification settings.
// Returns:
//   - *Client: client ready for fetching.
func NewClient(cfg *ClientConfig) *Client {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "application/rss+xml, application/xml, text/xml")

	return &Client{http: client}
}

// Fetch retrieves the raw feed document at the given URL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: feed URL.
// Returns:
//   - []byte: raw response body.
//   - error: non-nil on transport failure or non-2xx status.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feed request returned status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
