package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/user/magpie/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, ratelimit.New(), StaticTokens{"acct-1": "tok-1"})
	return client, srv
}

func TestFetchPage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		if r.URL.Path != "/v1/posts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("page_token"); got != "p2" {
			t.Errorf("page_token = %q", got)
		}
		json.NewEncoder(w).Encode(Page{
			Items:         []Item{{ID: "post-1"}, {ID: "post-2"}},
			NextPageToken: "p3",
		})
	})

	page, err := client.FetchPage(context.Background(), "acct-1", "posts", "p2")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextPageToken != "p3" {
		t.Errorf("page = %+v", page)
	}
}

func TestRateLimitedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchPage(context.Background(), "acct-1", "mentions", "")
	var rlErr *ratelimit.Error
	if !errors.As(err, &rlErr) {
		t.Fatalf("want *ratelimit.Error, got %v", err)
	}
	if rlErr.RetryAfter.Seconds() != 120 {
		t.Errorf("retry after = %s", rlErr.RetryAfter)
	}

	// The limiter absorbed the 429: the next call is blocked locally.
	_, err = client.FetchPage(context.Background(), "acct-1", "mentions", "")
	if !errors.As(err, &rlErr) {
		t.Fatalf("want local rate limit, got %v", err)
	}
}

func TestUnauthorizedRefreshRetry(t *testing.T) {
	var calls atomic.Int32
	srvHandler := func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(Page{})
	}
	client, _ := newTestClient(t, srvHandler)

	if _, err := client.FetchPage(context.Background(), "acct-1", "contacts", ""); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (original + refresh retry)", calls.Load())
	}
}

func TestSessionInvalidError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := client.EngagePost(context.Background(), "acct-1", "post-9", "like", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %v", err)
	}
	if !apiErr.SessionInvalid() {
		t.Error("403 should report session invalid")
	}
}

func TestPublishAndDraft(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["content"] == "" {
			t.Error("content missing")
		}
		switch r.URL.Path {
		case "/v1/posts":
			json.NewEncoder(w).Encode(createdResponse{ID: "post-new"})
		case "/v1/drafts":
			json.NewEncoder(w).Encode(createdResponse{ID: "draft-new"})
		default:
			t.Errorf("path = %s", r.URL.Path)
		}
	})

	id, err := client.PublishPost(context.Background(), "acct-1", "hello world")
	if err != nil || id != "post-new" {
		t.Errorf("publish = %q, %v", id, err)
	}
	id, err = client.SaveDraft(context.Background(), "acct-1", "draft text")
	if err != nil || id != "draft-new" {
		t.Errorf("draft = %q, %v", id, err)
	}
}

func TestMissingToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	})
	_, err := client.FetchPage(context.Background(), "unknown-acct", "posts", "")
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
}
