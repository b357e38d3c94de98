package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ratelimit"
)

// ErrReadOnly is reported for mutating requests while read-only mode is on.
var ErrReadOnly = errors.New("service is read-only")

type errorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError answers with the public form of err. Nothing about which token
// check failed reaches the response.
func WriteError(w http.ResponseWriter, err error) {
	err = authcore.Public(err)

	var limited *ratelimit.LimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.FormatInt(limited.RetryAfterSeconds(), 10))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, authcore.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, authcore.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, authcore.ErrCsrfFailed):
		writeError(w, http.StatusForbidden, "csrf_failed", "csrf validation failed")
	case errors.Is(err, authcore.ErrTemporarilyUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "try again later")
	case errors.Is(err, ErrReadOnly):
		writeError(w, http.StatusServiceUnavailable, "read_only", "service is in read-only mode")
	case errors.Is(err, authcore.ErrPasswordPolicy), errors.Is(err, authcore.ErrPasswordReuse):
		writeError(w, http.StatusBadRequest, "password_rejected", "password does not meet policy")
	case errors.Is(err, authcore.ErrPrincipalNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}
