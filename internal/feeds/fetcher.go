package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mmcdole/gofeed"
)

const userAgent = "Feedscribe/1.0"

// Fetcher downloads and parses feeds using conditional HTTP requests.
type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
}

// NewFetcher creates a feed fetcher. Timeouts are the caller's business,
// via the request context.
func NewFetcher() *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &Fetcher{
		parser: parser,
		client: &http.Client{},
	}
}

// Result holds the outcome of a conditional feed fetch.
type Result struct {
	Feed         *gofeed.Feed // nil when NotModified is true
	ETag         string       // ETag from the response, empty if absent
	LastModified string       // Last-Modified from the response, empty if absent
	NotModified  bool         // true when the server returned 304
}

// Fetch downloads and parses the feed at url. Stored ETag and Last-Modified
// values, when non-empty, are sent as If-None-Match / If-Modified-Since; a
// 304 response skips parsing entirely and returns NotModified=true.
func (f *Fetcher) Fetch(ctx context.Context, url, etag, lastModified string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{NotModified: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", url, err)
	}

	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	return &Result{
		Feed:         parsed,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
