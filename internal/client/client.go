// Package client talks to the API of another map.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/vars"
)

// maxResponseSize bounds a decoded response body.
const maxResponseSize = 32 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Options tune a Client. Zero values use defaults.
type Options struct {
	HTTPClient *http.Client

	// Timeout bounds a single attempt when HTTPClient is nil.
	Timeout time.Duration

	// MaxTries is the number of attempts per call, 1 disables retries.
	MaxTries uint

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

// Client is a typed client for one remote map.
type Client struct {
	http            *http.Client
	baseURL         string
	maxTries        uint
	initialInterval time.Duration
}

// New creates a client for the map at baseURL.
func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = backoff.DefaultInitialInterval
	}

	return &Client{
		http:            hc,
		baseURL:         strings.TrimRight(baseURL, "/"),
		maxTries:        opts.MaxTries,
		initialInterval: opts.InitialInterval,
	}
}

// BaseURL returns the normalized map address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AllNodes fetches every node the remote map knows, keyed by the map each
// node comes from. The remote's own nodes are keyed by "local".
func (c *Client) AllNodes(ctx context.Context) (map[string][]models.Node, error) {
	var out map[string][]models.Node
	if err := c.getJSON(ctx, "/api/child_maps", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches the remote status summary.
func (c *Client) Status(ctx context.Context) (models.Summary, error) {
	var out models.Summary
	err := c.getJSON(ctx, "/api/status", &out)
	return out, err
}

// getJSON performs GET path with retries and decodes the body into dst.
// 4xx responses and undecodable bodies are not retried.
func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	url := c.baseURL + path

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.fetch(ctx, url, dst)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("url", url).Dur("retry_in", next).Msg("Child map request failed, retrying")
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

func (c *Client) fetch(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", vars.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &StatusError{URL: url, Code: resp.StatusCode}

		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return backoff.RetryAfter(secs)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(serr)
		}
		return serr
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(dst); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
	}
	return nil
}
