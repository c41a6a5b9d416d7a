package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler() *FeedHandler {
	return NewFeedHandler(nil, nil, nil, slog.Default())
}

func TestCreatePostRequiresIdentity(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/posts", strings.NewReader(`{"body":"hello"}`))
	rec := httptest.NewRecorder()
	h.CreatePost(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without identity, got %d", rec.Code)
	}
}

func TestCreatePostValidatesBody(t *testing.T) {
	h := newTestHandler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty body", `{"body":""}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
		{"too long", `{"body":"` + strings.Repeat("x", maxPostBody+1) + `"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/posts", strings.NewReader(tc.body))
		req.Header.Set("X-User-Id", "user-1")
		req.Header.Set("X-Role", "participant")
		rec := httptest.NewRecorder()
		h.CreatePost(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestJoinGroupRequiresGroupID(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/groups/join", strings.NewReader(`{}`))
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	h.JoinGroup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without group_id, got %d", rec.Code)
	}
}

func TestMetricsRejectsParticipants(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/metrics", nil)
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-Role", "participant")
	rec := httptest.NewRecorder()
	h.Metrics(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for participant, got %d", rec.Code)
	}
}

func TestMetricsAdminNeedsProviderID(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/metrics", nil)
	req.Header.Set("X-User-Id", "admin-1")
	req.Header.Set("X-Role", "admin")
	rec := httptest.NewRecorder()
	h.Metrics(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without provider_id, got %d", rec.Code)
	}
}

func TestActivityAdminNeedsFilter(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/activity", nil)
	req.Header.Set("X-User-Id", "admin-1")
	req.Header.Set("X-Role", "admin")
	rec := httptest.NewRecorder()
	h.Activity(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without filter, got %d", rec.Code)
	}
}

func TestActivityProviderNeedsProviderIdentity(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed/activity", nil)
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-Role", "provider")
	rec := httptest.NewRecorder()
	h.Activity(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without provider identity, got %d", rec.Code)
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", defaultPageLen},
		{"abc", defaultPageLen},
		{"-5", defaultPageLen},
		{"0", defaultPageLen},
		{"42", 42},
		{"5000", maxPageLen},
	}
	for _, tc := range cases {
		if got := parseLimit(tc.raw); got != tc.want {
			t.Fatalf("parseLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestPostsCacheKey(t *testing.T) {
	if postsCacheKey("") != "feed:posts:global" {
		t.Fatalf("unexpected global key: %s", postsCacheKey(""))
	}
	if postsCacheKey("g1") != "feed:posts:group:g1" {
		t.Fatalf("unexpected group key: %s", postsCacheKey("g1"))
	}
}
