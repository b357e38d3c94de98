package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testIdentifier = "alice@example.com"
	testPassword   = "correct-horse-battery"
)

type harness struct {
	handler http.Handler
	redis   *miniredis.Miniredis
	csrf    *http.Cookie
}

func newHarness(t *testing.T, mutate func(*serverConfig)) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := serverConfig{
		CookieSecure: false,
		HTTPLimit:    100,
		Engine:       authcore.DefaultConfig(),
	}
	cfg.Engine.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Engine.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	if mutate != nil {
		mutate(&cfg)
	}

	store := principal.NewMemoryStore()
	require.NoError(t, seedPrincipal(context.Background(), store, cfg.Engine.Password, testIdentifier, testPassword))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := authcore.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithLogger(log).
		Build()
	require.NoError(t, err)

	srv, err := newServer(engine, ratelimit.New(rdb, ratelimit.Options{Prefix: "rl_http"}), cfg, log)
	require.NoError(t, err)
	return &harness{handler: srv.routes(), redis: mr}
}

func (h *harness) do(t *testing.T, method, path, body string, cookies []*http.Cookie, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.10:5555"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) fetchCSRF(t *testing.T) *http.Cookie {
	t.Helper()
	rec := h.do(t, http.MethodGet, "/csrf", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := findCookie(rec, "csrf_token")
	require.NotNil(t, c)
	h.csrf = c
	return c
}

// post sends a mutating request carrying the double-submit pair.
func (h *harness) post(t *testing.T, path, body string, extra ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	cookies := append([]*http.Cookie{h.csrf}, extra...)
	return h.do(t, http.MethodPost, path, body, cookies, map[string]string{"X-CSRF-Token": h.csrf.Value})
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func loginBody(pw string) string {
	return `{"identifier":"` + testIdentifier + `","password":"` + pw + `"}`
}

func TestServerSessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.fetchCSRF(t)

	rec := h.post(t, "/login", loginBody(testPassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair authcore.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)
	refresh := findCookie(rec, refreshCookie)
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)

	me := h.do(t, http.MethodGet, "/me", "", nil, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusOK, me.Code)
	require.Contains(t, me.Body.String(), `"subject":"user-1"`)

	rotated := h.post(t, "/refresh", "", refresh)
	require.Equal(t, http.StatusOK, rotated.Code, rotated.Body.String())
	next := findCookie(rotated, refreshCookie)
	require.NotNil(t, next)
	require.NotEqual(t, refresh.Value, next.Value)

	replay := h.post(t, "/refresh", "", refresh)
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	require.Contains(t, replay.Body.String(), "unauthenticated")

	out := h.post(t, "/logout", "", next)
	require.Equal(t, http.StatusNoContent, out.Code)
	require.Equal(t, http.StatusUnauthorized, h.post(t, "/refresh", "", next).Code)

	metrics := h.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "authcore_login_success_total 1")
}

func TestServerRejectsMissingCSRF(t *testing.T) {
	h := newHarness(t, func(cfg *serverConfig) { cfg.HTTPLimit = 2 })

	// Forged requests stop at the CSRF check and never reach a limiter,
	// so they cannot burn the caller's HTTP or login budget.
	for i := 0; i < 5; i++ {
		rec := h.do(t, http.MethodPost, "/login", loginBody(testPassword), nil, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Contains(t, rec.Body.String(), "csrf_failed")
	}
	require.Empty(t, h.redis.Keys())

	h.fetchCSRF(t)
	require.Equal(t, http.StatusOK, h.post(t, "/login", loginBody(testPassword)).Code)
}

func TestServerLoginFailuresAreUniform(t *testing.T) {
	h := newHarness(t, nil)
	h.fetchCSRF(t)

	wrong := h.post(t, "/login", loginBody("not-the-password"))
	unknown := h.post(t, "/login", `{"identifier":"nobody@example.com","password":"whatever-12345"}`)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, wrong.Body.String(), unknown.Body.String())

	bad := h.post(t, "/login", `{"identifier":`)
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestServerPasswordChangeInvalidatesAccess(t *testing.T) {
	h := newHarness(t, nil)
	h.fetchCSRF(t)

	rec := h.post(t, "/login", loginBody(testPassword))
	require.Equal(t, http.StatusOK, rec.Code)
	var pair authcore.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	bearer := map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
		"X-CSRF-Token":  h.csrf.Value,
	}

	// Keep the change strictly after the token's issue time.
	time.Sleep(2 * time.Millisecond)
	changed := h.do(t, http.MethodPost, "/password",
		`{"old_password":"`+testPassword+`","new_password":"a-much-better-passphrase"}`,
		[]*http.Cookie{h.csrf}, bearer)
	require.Equal(t, http.StatusNoContent, changed.Code, changed.Body.String())

	me := h.do(t, http.MethodGet, "/me", "", nil, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusUnauthorized, me.Code)

	require.Equal(t, http.StatusOK, h.post(t, "/login", loginBody("a-much-better-passphrase")).Code)
}

func TestServerReadOnlyMode(t *testing.T) {
	h := newHarness(t, func(cfg *serverConfig) { cfg.ReadOnly = true })
	h.fetchCSRF(t)

	rec := h.post(t, "/login", loginBody(testPassword))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "read_only")

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", nil, nil).Code)
}

func TestServerHTTPRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *serverConfig) { cfg.HTTPLimit = 2 })

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", nil, nil).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", nil, nil).Code)

	rec := h.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestDecodeSecret(t *testing.T) {
	_, err := decodeSecret("")
	require.Error(t, err)

	b, err := decodeSecret("base64:AAEC")
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2}, b)

	b, err = decodeSecret("plain-secret")
	require.NoError(t, err)
	require.Equal(t, []byte("plain-secret"), b)
}
