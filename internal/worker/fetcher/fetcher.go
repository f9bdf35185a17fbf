// Package fetcher retrieves tile bytes over HTTP. It performs exactly one
// request per call: retries and backoff are left to re-running the whole job
// set, which the tile store makes cheap.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Common errors.
var (
	ErrUnexpectedStatus = errors.New("fetcher: unexpected response status")
	ErrNotFound         = errors.New("fetcher: tile not found")
)

// Fetcher retrieves the body behind a fully resolved tile URL. The caller
// must close the returned reader.
type Fetcher interface {
	Fetch(ctx context.Context, url, referrer string) (io.ReadCloser, error)
}

// Options configures the HTTP fetcher.
type Options struct {
	// Timeout bounds a single request including the body read.
	// Zero means no timeout.
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 32
	MaxIdleConnsPerHost int

	// UserAgent is sent with every request when non-empty.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 32,
		UserAgent:           "matilda",
	}
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   Options
}

// NewHTTPFetcher creates a new fetcher with the given options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Fetch performs a single GET. Any status outside 2xx is an error and the
// response body is discarded.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, referrer string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, code, http.StatusText(code))
	}
}
