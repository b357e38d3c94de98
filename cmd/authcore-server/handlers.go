package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/csrf"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/ratelimit"
)

const (
	refreshCookie = "refresh_token"
	maxBodyBytes  = 1 << 16
)

type server struct {
	engine       *authcore.Engine
	csrf         *csrf.Guard
	limiter      middleware.Limiter
	httpPolicy   ratelimit.Policy
	metrics      http.Handler
	log          *slog.Logger
	readOnly     bool
	trustProxy   bool
	cookieSecure bool
	refreshTTL   time.Duration
}

func newServer(engine *authcore.Engine, limiter middleware.Limiter, cfg serverConfig, log *slog.Logger) (*server, error) {
	metrics, err := promexport.Handler(promexport.NewCollector(engine))
	if err != nil {
		return nil, err
	}

	csrfCfg := csrf.DefaultConfig()
	csrfCfg.CookieSecure = cfg.CookieSecure

	return &server{
		engine:       engine,
		csrf:         csrf.New(csrfCfg),
		limiter:      limiter,
		httpPolicy:   ratelimit.Policy{Action: "http_ip", Limit: cfg.HTTPLimit, Window: time.Minute},
		metrics:      metrics,
		log:          log,
		readOnly:     cfg.ReadOnly,
		trustProxy:   cfg.TrustProxy,
		cookieSecure: cfg.CookieSecure,
		refreshTTL:   cfg.Engine.Token.RefreshTTL,
	}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Authenticate(s.engine)

	mux.Handle("GET /csrf", s.csrf.IssueHandler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.Handle("POST /password", auth(http.HandlerFunc(s.handlePassword)))
	mux.HandleFunc("POST /password/reset", s.handleResetRequest)
	mux.HandleFunc("POST /password/reset/confirm", s.handleResetConfirm)
	mux.HandleFunc("POST /verify/confirm", s.handleVerifyConfirm)
	mux.Handle("GET /me", auth(http.HandlerFunc(s.handleMe)))

	return middleware.Chain(mux,
		s.logRequests,
		middleware.ClientIP(s.trustProxy),
		middleware.ReadOnly(s.readOnly),
		s.csrf.Protect,
		middleware.RateLimit(s.limiter, s.httpPolicy, middleware.IPIdentity),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.writePair(w, pair)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		middleware.WriteError(w, authcore.ErrUnauthenticated)
		return
	}
	pair, err := s.engine.RotateRefresh(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, authcore.ErrRevoked) || errors.Is(err, authcore.ErrExpired) {
			s.clearRefreshCookie(w)
		}
		middleware.WriteError(w, err)
		return
	}
	s.writePair(w, pair)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		if err := s.engine.Logout(r.Context(), c.Value); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type passwordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *server) handlePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, authcore.ErrUnauthenticated)
		return
	}
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ChangePassword(r.Context(), id.Subject, req.OldPassword, req.NewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Identifier string `json:"identifier"`
}

func (s *server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Identifier); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type verifyConfirmRequest struct {
	Token string `json:"token"`
}

func (s *server) handleVerifyConfirm(w http.ResponseWriter, r *http.Request) {
	var req verifyConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.engine.ConfirmEmailVerification(r.Context(), req.Token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"subject": p.ID, "verified": p.Verified})
}

type meResponse struct {
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, authcore.ErrUnauthenticated)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		Subject:   id.Subject,
		IssuedAt:  id.IssuedAt,
		ExpiresAt: id.ExpiresAt,
	})
}

func (s *server) writePair(w http.ResponseWriter, pair authcore.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	middleware.WriteJSON(w, http.StatusOK, pair)
}

func (s *server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "bad_request", "message": "invalid JSON body"},
		})
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
