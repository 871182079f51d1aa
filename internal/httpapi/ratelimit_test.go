package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 2})
	limiter.now = func() time.Time { return now }

	if !limiter.allow(scopeIP, "a") || !limiter.allow(scopeIP, "a") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if limiter.allow(scopeIP, "a") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.allow(scopeIP, "b") {
		t.Fatalf("expected other key to have its own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.allow(scopeIP, "a") {
		t.Fatalf("expected one token after a second")
	}
	if limiter.allow(scopeIP, "a") {
		t.Fatalf("expected bucket to be empty again")
	}
}

func TestRateLimiterScopesDoNotShareBuckets(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 1, UserPerMinute: 1, UserBurst: 1})
	limiter.now = func() time.Time { return now }

	if !limiter.allow(scopeIP, "same") {
		t.Fatalf("expected first ip request allowed")
	}
	if !limiter.allow(scopeUser, "same") {
		t.Fatalf("expected user bucket to be separate from ip bucket")
	}
	if limiter.allow(scopeUser, "same") {
		t.Fatalf("expected user bucket to be empty")
	}
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 2, UserPerMinute: 60, UserBurst: 2})
	limiter.now = func() time.Time { return now }

	limiter.allow(scopeIP, "a")
	limiter.allow(scopeIP, "b")
	if len(limiter.buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(limiter.buckets))
	}

	now = now.Add(limiter.idleAfter)
	limiter.allow(scopeIP, "c")
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected idle buckets to be dropped, got %d", len(limiter.buckets))
	}
}

func TestUserMiddlewareLimitsBySession(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{UserPerMinute: 1, UserBurst: 1})
	handler := limiter.UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/ticket", nil)
		req = req.WithContext(context.WithValue(req.Context(), authContextKey{}, session{UserID: userID, Role: RoleCustomer}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := send("u1"); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := send("u1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %d", code)
	}
	if code := send("u2"); code != http.StatusOK {
		t.Fatalf("expected other user allowed, got %d", code)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected forwarded client, got %q", got)
	}
}
