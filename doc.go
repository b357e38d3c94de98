// Package authcore manages the lifecycle of session tokens: short-lived
// stateless access tokens, rotating refresh tokens backed by a shared Redis
// revocation store, and the password-change invalidation that ties them to a
// principal's credential state.
//
// Build an Engine once at startup:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithPrincipalStore(principals).
//		WithLogger(logger).
//		Build()
//
// Engine operations return errors classified by Kind. Handlers should log the
// detailed error and pass it through Public before answering a caller, so that
// expired, revoked and forged tokens are indistinguishable from outside.
//
// Failure policy against the shared store: issuing and rotating refresh tokens
// fail closed, rate limiting fails open, and access verification never touches
// the store.
package authcore
