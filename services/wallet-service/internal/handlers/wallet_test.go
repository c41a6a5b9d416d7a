package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler() *Handler {
	return New(nil, nil, slog.Default(), Config{})
}

func TestParticipantFromRequest(t *testing.T) {
	newReq := func(userID, role string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/budget", nil)
		if userID != "" {
			r.Header.Set("X-User-Id", userID)
		}
		if role != "" {
			r.Header.Set("X-Role", role)
		}
		return r
	}

	id, ok := participantFromRequest(newReq("p-1", "participant"), "")
	if !ok || id != "p-1" {
		t.Fatalf("own id should resolve, got %q ok=%v", id, ok)
	}

	if _, ok := participantFromRequest(newReq("p-1", "participant"), "p-2"); ok {
		t.Fatal("participant must not act on another participant")
	}

	id, ok = participantFromRequest(newReq("admin-1", "admin"), "p-2")
	if !ok || id != "p-2" {
		t.Fatalf("admin should target any participant, got %q ok=%v", id, ok)
	}

	if _, ok := participantFromRequest(newReq("", ""), ""); ok {
		t.Fatal("anonymous caller must not resolve")
	}
}

func TestGetBudget_ForbiddenForOtherParticipant(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/budget?participant_id=p-other", nil)
	req.Header.Set("X-User-Id", "p-1")
	req.Header.Set("X-Role", "participant")
	rec := httptest.NewRecorder()

	h.GetBudget(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestTopUp_RequiresStripeConfig(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/topup", strings.NewReader(`{"amount_cents": 5000}`))
	req.Header.Set("X-User-Id", "p-1")
	rec := httptest.NewRecorder()

	h.TopUp(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 when stripe is unconfigured, got %d", rec.Code)
	}
}

func TestTopUp_RejectsOutOfRangeAmount(t *testing.T) {
	h := New(nil, nil, slog.Default(), Config{StripeSecretKey: "sk_test_x"})

	for _, body := range []string{`{"amount_cents": 0}`, `{"amount_cents": -100}`, `{"amount_cents": 10000000}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/topup", strings.NewReader(body))
		req.Header.Set("X-User-Id", "p-1")
		rec := httptest.NewRecorder()

		h.TopUp(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestDecideClaim_AdminOnly(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/claims/decide", strings.NewReader(`{"claim_id":"c-1","decision":"approve"}`))
	req.Header.Set("X-User-Id", "p-1")
	req.Header.Set("X-Role", "participant")
	rec := httptest.NewRecorder()

	h.DecideClaim(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestStripeWebhook_UnconfiguredReturns503(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.StripeWebhook(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when webhook secret missing, got %d", rec.Code)
	}
}

func TestWithQueryParam(t *testing.T) {
	if got := withQueryParam("https://x.test/done", "state", "a b"); got != "https://x.test/done?state=a+b" {
		t.Fatalf("unexpected url: %s", got)
	}
	if got := withQueryParam("https://x.test/done?x=1", "state", "tok"); got != "https://x.test/done?x=1&state=tok" {
		t.Fatalf("unexpected url: %s", got)
	}
}
