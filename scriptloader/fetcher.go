package scriptloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrScriptNotFound is returned by StaticFetcher for unknown URLs
var ErrScriptNotFound = errors.New("scriptloader: script not found")

// Fetcher retrieves script source
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// StatusError reports a non-2xx response
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scriptloader: GET %s: %s", e.URL, e.Status)
}

const (
	defaultUserAgent    = "jsonp-bridge/0.1"
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// HTTPFetcher fetches scripts over HTTP
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// HTTPFetcherOption configures the HTTP fetcher
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the underlying client
func WithHTTPClient(client *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(userAgent string) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = userAgent
	}
}

// WithMaxBodyBytes caps the accepted script size
func WithMaxBodyBytes(n int64) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.maxBodyBytes = n
	}
}

// NewHTTPFetcher creates an HTTP fetcher
func NewHTTPFetcher(opts ...HTTPFetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:       &http.Client{Timeout: defaultFetchTimeout},
		userAgent:    defaultUserAgent,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/javascript, text/javascript, */*")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("scriptloader: script from %s exceeds %d bytes", url, f.maxBodyBytes)
	}
	return body, nil
}

// StaticFetcher serves scripts from memory, keyed by URL
type StaticFetcher struct {
	mu      sync.RWMutex
	scripts map[string]string
}

// NewStaticFetcher creates a static fetcher with the given scripts
func NewStaticFetcher(scripts map[string]string) *StaticFetcher {
	f := &StaticFetcher{scripts: make(map[string]string, len(scripts))}
	for url, src := range scripts {
		f.scripts[url] = src
	}
	return f
}

// Put adds or replaces a script
func (f *StaticFetcher) Put(url, src string) {
	f.mu.Lock()
	f.scripts[url] = src
	f.mu.Unlock()
}

// Fetch implements Fetcher
func (f *StaticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	src, ok := f.scripts[url]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, url)
	}
	return []byte(src), nil
}
