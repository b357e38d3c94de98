package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ratelimit"
)

// Limiter is the part of ratelimit.Limiter that RateLimit needs.
type Limiter interface {
	Allow(ctx context.Context, keys ...ratelimit.Key) error
}

// IdentityFunc names what a request is counted against.
type IdentityFunc func(r *http.Request) string

// IPIdentity counts requests per client address as recorded by ClientIP,
// falling back to the connection's remote address.
func IPIdentity(r *http.Request) string {
	if ip := authcore.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return RemoteIP(r, false)
}

// RateLimit throttles requests with policy, answering 429 with Retry-After
// once the identity is over its limit. Store outages let requests through.
func RateLimit(limiter Limiter, policy ratelimit.Policy, identity IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := ratelimit.For(policy, identity(r))
			if err := limiter.Allow(r.Context(), key); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain wraps h so that the first middleware listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
