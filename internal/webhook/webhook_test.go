package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/subscriptions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.FeedURL != "https://example.com/feed.xml" {
			t.Errorf("feed_url = %q", req.FeedURL)
		}
		if req.CallbackURL != "https://app.example.com/api/webhook" {
			t.Errorf("callback_url = %q", req.CallbackURL)
		}
		if req.Secret != "s3cret" {
			t.Errorf("secret = %q", req.Secret)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"sub-42"}`)
	}))
	defer srv.Close()

	r := NewRegistrar(srv.URL, "s3cret")
	id, err := r.Register(context.Background(),
		"https://example.com/feed.xml", "https://app.example.com/api/webhook")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id != "sub-42" {
		t.Errorf("id = %q, want sub-42", id)
	}
}

func TestRegisterServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewRegistrar(srv.URL, "")
	if _, err := r.Register(context.Background(), "https://example.com/feed.xml", "cb"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestRegisterEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":""}`)
	}))
	defer srv.Close()

	r := NewRegistrar(srv.URL, "")
	if _, err := r.Register(context.Background(), "https://example.com/feed.xml", "cb"); err == nil {
		t.Fatal("expected error for empty subscription id")
	}
}

func TestUnregister(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusNoContent, true},
		{http.StatusOK, true},
		{http.StatusNotFound, true}, // already gone counts as removed
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete || r.URL.Path != "/subscriptions/sub-42" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(tt.status)
		}))

		r := NewRegistrar(srv.URL, "")
		removed, err := r.Unregister(context.Background(), "sub-42")
		if err != nil {
			t.Fatalf("Unregister failed: %v", err)
		}
		if removed != tt.want {
			t.Errorf("status %d: removed = %v, want %v", tt.status, removed, tt.want)
		}
		srv.Close()
	}
}

func TestCallbackURL(t *testing.T) {
	tests := []struct {
		base, want string
		wantErr    bool
	}{
		{"https://app.example.com", "https://app.example.com/api/webhook", false},
		{"https://app.example.com/", "https://app.example.com/api/webhook", false},
		{"https://app.example.com/feedscribe", "https://app.example.com/feedscribe/api/webhook", false},
		{"not a url at all", "", true},
		{"/relative/only", "", true},
	}
	for _, tt := range tests {
		got, err := CallbackURL(tt.base)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CallbackURL(%q): expected error", tt.base)
			}
			continue
		}
		if err != nil {
			t.Errorf("CallbackURL(%q): %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CallbackURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestCallbackHandlerJSONBody(t *testing.T) {
	got := make(chan string, 1)
	h := NewCallbackHandler(func(feedURL string) { got <- feedURL })

	req := httptest.NewRequest(http.MethodPost, "/api/webhook",
		strings.NewReader(`{"feed_url":"https://example.com/feed.xml"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	select {
	case url := <-got:
		if url != "https://example.com/feed.xml" {
			t.Errorf("feed url = %q", url)
		}
	case <-time.After(time.Second):
		t.Fatal("process callback never invoked")
	}
}

func TestCallbackHandlerQueryParam(t *testing.T) {
	got := make(chan string, 1)
	h := NewCallbackHandler(func(feedURL string) { got <- feedURL })

	req := httptest.NewRequest(http.MethodPost,
		"/api/webhook?feed_url=https%3A%2F%2Fexample.com%2Ffeed.xml", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	select {
	case url := <-got:
		if url != "https://example.com/feed.xml" {
			t.Errorf("feed url = %q", url)
		}
	case <-time.After(time.Second):
		t.Fatal("process callback never invoked")
	}
}

func TestCallbackHandlerRejectsBadRequests(t *testing.T) {
	h := NewCallbackHandler(func(string) { t.Error("process should not run") })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader("{}")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty payload status = %d, want 400", rec.Code)
	}
}
