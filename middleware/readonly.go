package middleware

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// ReadOnlyEnv is consulted by ReadOnlyFromEnv.
const ReadOnlyEnv = "AUTHCORE_READ_ONLY"

// ReadOnly rejects mutating requests with 503 while enabled. Safe methods
// still pass, so token verification keeps working during maintenance.
func ReadOnly(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			WriteError(w, ErrReadOnly)
		})
	}
}

// ReadOnlyFromEnv enables ReadOnly when AUTHCORE_READ_ONLY parses as true.
func ReadOnlyFromEnv() func(http.Handler) http.Handler {
	enabled, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(ReadOnlyEnv)))
	return ReadOnly(enabled)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
