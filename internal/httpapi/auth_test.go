package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func protectedEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(sess.Role + ":" + sess.UserID))
	})
}

func TestAuthMiddleware(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	customerToken, err := verifier.Sign(customerID, RoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	workerToken, err := verifier.Sign(workerID, RoleWorker, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	badWorkerToken, err := verifier.Sign("not-a-uuid", RoleWorker, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	expiredToken, err := verifier.Sign(customerID, RoleCustomer, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	otherSecret, err := NewTokenVerifier("other").Sign(customerID, RoleCustomer, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name   string
		path   string
		cookie string
		bearer string
		status int
		body   string
	}{
		{name: "health is public", path: "/healthz", status: http.StatusTeapot},
		{name: "missing token", path: "/ticket", status: http.StatusUnauthorized},
		{name: "cookie", path: "/ticket", cookie: customerToken, status: http.StatusOK, body: "customer:" + customerID},
		{name: "bearer", path: "/ticket", bearer: workerToken, status: http.StatusOK, body: "worker:" + workerID},
		{name: "worker id must be uuid", path: "/ticket", bearer: badWorkerToken, status: http.StatusUnauthorized},
		{name: "expired", path: "/ticket", cookie: expiredToken, status: http.StatusUnauthorized},
		{name: "wrong secret", path: "/ticket", bearer: otherSecret, status: http.StatusUnauthorized},
	}

	handler := AuthMiddleware(verifier, protectedEcho())
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookie, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
			if tt.body != "" && resp.Body.String() != tt.body {
				t.Fatalf("expected body %q, got %q", tt.body, resp.Body.String())
			}
		})
	}
}

func TestRoutesBehindAuth(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token, err := verifier.Sign(workerID, RoleWorker, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	handler := AuthMiddleware(verifier, newTestHandler(fakeStore{}).Routes())

	req := httptest.NewRequest(http.MethodPost, "/ticket/add", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected worker to be refused ticket creation, got %d", resp.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer abc":     "abc",
		"Basic abc":      "",
		"Bearer":         "",
		"Bearer abc def": "",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
