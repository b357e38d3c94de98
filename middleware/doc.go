// Package middleware adapts authcore.Engine to net/http.
//
// # Handlers
//
//   - [Authenticate] verifies the bearer access token and stores the
//     [authcore.Identity] on the request context.
//   - [ClientIP] records the caller's address for per-IP rate limits.
//   - [RateLimit] throttles a route with a fixed-window policy.
//   - [ReadOnly] rejects mutating requests while maintenance is on.
//
// Every rejection goes through [WriteError], which passes the error through
// [authcore.Public] first: callers see "unauthenticated", never which token
// check failed.
//
// Order matters. The CSRF guard (package csrf) is the outermost gate and runs
// before rate limiting, so a forged request costs the victim nothing:
//
//	h := middleware.Chain(api,
//		middleware.ReadOnly(readOnly),
//		csrfGuard.Protect,
//		middleware.ClientIP(false),
//		middleware.RateLimit(limiter, policy, middleware.IPIdentity),
//	)
//
// This package makes no authentication decisions of its own.
package middleware
