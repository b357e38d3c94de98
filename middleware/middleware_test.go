package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ratelimit"
)

type stubVerifier struct {
	want string
	err  error
}

func (s stubVerifier) VerifyAccess(_ context.Context, raw string) (authcore.Identity, error) {
	if s.err != nil {
		return authcore.Identity{}, s.err
	}
	if raw != s.want {
		return authcore.Identity{}, &authcore.Error{Kind: authcore.KindSignatureInvalid, Op: "verify_access"}
	}
	return authcore.Identity{Subject: "user-1"}, nil
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			w.Header().Set("X-Subject", id.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestAuthenticate(t *testing.T) {
	h := Authenticate(stubVerifier{want: "good"})(okHandler(t))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer  ", http.StatusUnauthorized},
		{"forged", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
		if tc.status == http.StatusUnauthorized && errorCode(t, rec) != "unauthenticated" {
			t.Fatalf("%s: expected generic unauthenticated code", tc.name)
		}
		if tc.status == http.StatusNoContent && rec.Header().Get("X-Subject") != "user-1" {
			t.Fatalf("%s: identity not on context", tc.name)
		}
	}
}

func TestAuthenticateStoreOutage(t *testing.T) {
	outage := &authcore.Error{Kind: authcore.KindStoreUnavailable, Op: "verify_access", Err: errors.New("timeout")}
	h := Authenticate(stubVerifier{err: outage})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if errorCode(t, rec) != "temporarily_unavailable" {
		t.Fatal("unexpected error code")
	}
}

type stubLimiter struct {
	keys []ratelimit.Key
	err  error
}

func (s *stubLimiter) Allow(_ context.Context, keys ...ratelimit.Key) error {
	s.keys = append(s.keys, keys...)
	return s.err
}

func TestRateLimitWritesRetryAfter(t *testing.T) {
	policy := ratelimit.Policy{Action: "api_ip", Limit: 1, Window: time.Minute}
	limiter := &stubLimiter{err: &ratelimit.LimitedError{
		Key:        ratelimit.For(policy, "10.0.0.1"),
		Count:      2,
		RetryAfter: 1500 * time.Millisecond,
	}}
	h := Chain(okHandler(t), ClientIP(true), RateLimit(limiter, policy, IPIdentity))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if len(limiter.keys) != 1 || limiter.keys[0].Identity != "10.0.0.1" {
		t.Fatalf("expected forwarded ip as identity, got %+v", limiter.keys)
	}
}

func TestRateLimitPassesWhenAllowed(t *testing.T) {
	limiter := &stubLimiter{}
	h := RateLimit(limiter, ratelimit.LoginByIP, IPIdentity)(okHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if limiter.keys[0].Identity != "192.0.2.1" {
		t.Fatalf("unexpected identity %q", limiter.keys[0].Identity)
	}
}

func TestRemoteIPIgnoresForwardedWhenUntrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	if got := RemoteIP(req, false); got != "192.0.2.1" {
		t.Fatalf("expected remote addr, got %q", got)
	}
	if got := RemoteIP(req, true); got != "10.0.0.1" {
		t.Fatalf("expected forwarded addr, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "garbage")
	if got := RemoteIP(req, true); got != "192.0.2.1" {
		t.Fatalf("unparseable forwarded header should fall back, got %q", got)
	}
}

func TestReadOnly(t *testing.T) {
	h := ReadOnly(true)(okHandler(t))

	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(m, "/me", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s should pass, got %d", m, rec.Code)
		}
	}
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(m, "/login", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s should be blocked, got %d", m, rec.Code)
		}
		if errorCode(t, rec) != "read_only" {
			t.Fatalf("%s: unexpected error code", m)
		}
	}

	rec := httptest.NewRecorder()
	ReadOnly(false)(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disabled gate should pass, got %d", rec.Code)
	}
}

func TestReadOnlyFromEnv(t *testing.T) {
	t.Setenv(ReadOnlyEnv, "true")
	rec := httptest.NewRecorder()
	ReadOnlyFromEnv()(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	t.Setenv(ReadOnlyEnv, "nope")
	rec = httptest.NewRecorder()
	ReadOnlyFromEnv()(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unparseable value should leave the gate off, got %d", rec.Code)
	}
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&authcore.Error{Kind: authcore.KindRevoked}, http.StatusUnauthorized, "unauthenticated"},
		{&authcore.Error{Kind: authcore.KindPasswordChanged}, http.StatusUnauthorized, "unauthenticated"},
		{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{&authcore.Error{Kind: authcore.KindCsrfFailed}, http.StatusForbidden, "csrf_failed"},
		{authcore.ErrPasswordReuse, http.StatusBadRequest, "password_rejected"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if got := errorCode(t, rec); got != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, got)
		}
	}
}
