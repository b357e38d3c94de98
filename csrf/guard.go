package csrf

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
)

// ErrFailed is returned by Check when the submitted value is missing or does
// not match the cookie.
var ErrFailed = errors.New("csrf check failed")

const tokenBytes = 32

// Config controls cookie attributes and which requests are checked.
type Config struct {
	CookieName   string
	HeaderName   string
	FormField    string
	CookiePath   string
	CookieDomain string
	CookieSecure bool
	SameSite     http.SameSite
	// TTL sets the cookie Expires. Zero means a session cookie.
	TTL time.Duration
	// IssuePath is the route that serves IssueHandler; it is never checked.
	IssuePath string
	// ExemptPaths are matched exactly against r.URL.Path.
	ExemptPaths []string
}

// DefaultConfig returns production defaults: Secure, SameSite=Lax, 12h TTL.
func DefaultConfig() Config {
	return Config{
		CookieName:   "csrf_token",
		HeaderName:   "X-CSRF-Token",
		FormField:    "csrf_token",
		CookiePath:   "/",
		CookieSecure: true,
		SameSite:     http.SameSiteLaxMode,
		TTL:          12 * time.Hour,
		IssuePath:    "/csrf",
		ExemptPaths:  []string{"/healthz"},
	}
}

// Guard issues and checks double-submit tokens. It holds no per-token state.
type Guard struct {
	cfg    Config
	exempt map[string]struct{}
	now    func() time.Time
}

// New fills empty names from DefaultConfig.
func New(cfg Config) *Guard {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = def.CookieName
	}
	if strings.TrimSpace(cfg.HeaderName) == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = def.CookiePath
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = def.SameSite
	}

	exempt := make(map[string]struct{}, len(cfg.ExemptPaths)+1)
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}
	if cfg.IssuePath != "" {
		exempt[cfg.IssuePath] = struct{}{}
	}

	return &Guard{cfg: cfg, exempt: exempt, now: time.Now}
}

// Issue returns a fresh token: 32 random bytes, base64url without padding.
func (g *Guard) Issue() (string, error) {
	return internal.NewOpaqueToken(tokenBytes)
}

// Verify reports whether submitted equals cookieValue. Both must be non-empty;
// the comparison is constant time.
func (g *Guard) Verify(cookieValue, submitted string) bool {
	return internal.SecureStringEqual(strings.TrimSpace(cookieValue), strings.TrimSpace(submitted))
}

// Check validates r against its cookie regardless of method or path.
func (g *Guard) Check(r *http.Request) error {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil {
		return ErrFailed
	}

	submitted := r.Header.Get(g.cfg.HeaderName)
	if submitted == "" && g.cfg.FormField != "" && isForm(r) {
		submitted = r.PostFormValue(g.cfg.FormField)
	}

	if !g.Verify(c.Value, submitted) {
		return ErrFailed
	}
	return nil
}

// SetCookie writes token as the CSRF cookie. It is readable by scripts so the
// client can echo it.
func (g *Guard) SetCookie(w http.ResponseWriter, token string) {
	c := &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.CookieDomain,
		HttpOnly: false,
		Secure:   g.cfg.CookieSecure,
		SameSite: g.cfg.SameSite,
	}
	if g.cfg.TTL > 0 {
		c.Expires = g.now().Add(g.cfg.TTL).UTC()
		c.MaxAge = int(g.cfg.TTL / time.Second)
	}
	http.SetCookie(w, c)
}

// IssueHandler serves a fresh token as both cookie and JSON body
// {"csrf_token": "..."}.
func (g *Guard) IssueHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := g.Issue()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not issue csrf token")
			return
		}
		g.SetCookie(w, tok)
		writeJSON(w, http.StatusOK, issueResponse{Token: tok})
	})
}

// Protect rejects mutating requests that fail Check with 403 csrf_failed.
// Safe methods, the issue path, and exempt paths pass through.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.applies(r) {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.Check(r); err != nil {
			writeError(w, http.StatusForbidden, "csrf_failed", "csrf token missing or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) applies(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	_, skip := g.exempt[r.URL.Path]
	return !skip
}

func isForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}

type issueResponse struct {
	Token string `json:"csrf_token"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}
