// Package transport fetches raw source documents over HTTP.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blackmichael/webmentions/internal/domain"
)

// maxBodySize caps how much of a fetched document is read.
const maxBodySize = 5 << 20

// Client implements domain.Transport on top of net/http.
type Client struct {
	timeout time.Duration
}

// New creates a transport with the given per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Request fetches rawURL, following at most opts.MaxRedirects redirects.
// When opts.AllowErrorStatus is set the body is returned for any status;
// otherwise statuses >= 400 fail.
func (c *Client) Request(ctx context.Context, rawURL string, opts domain.RequestOptions) (*domain.Document, error) {
	client := &http.Client{
		Timeout: c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if !opts.AllowErrorStatus && resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &domain.Document{Body: string(body)}, nil
}
