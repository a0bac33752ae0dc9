package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <item>
      <guid>item-1</guid>
      <title>Test Article</title>
      <link>https://example.com/1</link>
      <description>Hello world</description>
    </item>
  </channel>
</rss>`

func TestFetchConditional304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc123"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		t.Error("expected If-None-Match header")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := NewFetcher().Fetch(context.Background(), srv.URL, `"abc123"`, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !result.NotModified {
		t.Error("expected NotModified=true")
	}
	if result.Feed != nil {
		t.Error("expected nil Feed on 304")
	}
}

func TestFetchConditionalLastModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == "Mon, 17 Feb 2026 00:00:00 GMT" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		t.Error("expected If-Modified-Since header")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := NewFetcher().Fetch(context.Background(), srv.URL, "", "Mon, 17 Feb 2026 00:00:00 GMT")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !result.NotModified {
		t.Error("expected NotModified=true")
	}
}

func TestFetchReturnsCacheHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"new-etag"`)
		w.Header().Set("Last-Modified", "Mon, 17 Feb 2026 12:00:00 GMT")
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, testRSS)
	}))
	defer srv.Close()

	result, err := NewFetcher().Fetch(context.Background(), srv.URL, "", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.NotModified {
		t.Error("expected NotModified=false for 200")
	}
	if result.Feed == nil {
		t.Fatal("expected parsed feed")
	}
	if result.Feed.Title != "Test Feed" {
		t.Errorf("feed title=%q, want Test Feed", result.Feed.Title)
	}
	if result.ETag != `"new-etag"` {
		t.Errorf("etag=%q, want \"new-etag\"", result.ETag)
	}
	if result.LastModified != "Mon, 17 Feb 2026 12:00:00 GMT" {
		t.Errorf("last-modified=%q", result.LastModified)
	}
}

func TestFetchNoCacheHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, testRSS)
	}))
	defer srv.Close()

	result, err := NewFetcher().Fetch(context.Background(), srv.URL, "", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(result.Feed.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(result.Feed.Items))
	}
	if result.ETag != "" || result.LastModified != "" {
		t.Errorf("expected empty cache headers, got %q / %q", result.ETag, result.LastModified)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewFetcher().Fetch(context.Background(), srv.URL, "", ""); err == nil {
		t.Fatal("expected error for 500 status")
	}
}

func TestFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer srv.Close()

	if _, err := NewFetcher().Fetch(context.Background(), srv.URL, "", ""); err == nil {
		t.Fatal("expected parse error for non-feed body")
	}
}

func TestFetchContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewFetcher().Fetch(ctx, srv.URL, "", ""); err == nil {
		t.Fatal("expected error when context deadline passes")
	}
}
