package authcore

import (
	"errors"
	"fmt"
)

// Kind classifies why a session operation failed. Kinds are for logs, metrics
// and tests; callers facing the network should map errors through Public.
type Kind int

const (
	KindNone Kind = iota
	KindMalformed
	KindExpired
	KindSignatureInvalid
	KindRevoked
	KindPasswordChanged
	KindVersionStale
	KindNotARefreshToken
	KindRateLimited
	KindCsrfFailed
	KindStoreUnavailable
)

var kindNames = [...]string{
	KindNone:             "none",
	KindMalformed:        "malformed",
	KindExpired:          "expired",
	KindSignatureInvalid: "signature_invalid",
	KindRevoked:          "revoked",
	KindPasswordChanged:  "password_changed",
	KindVersionStale:     "version_stale",
	KindNotARefreshToken: "not_a_refresh_token",
	KindRateLimited:      "rate_limited",
	KindCsrfFailed:       "csrf_failed",
	KindStoreUnavailable: "store_unavailable",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

var (
	// ErrMalformed: the token could not be parsed or has an invalid claim set,
	// or it is a valid token of the wrong type.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired: the token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrSignatureInvalid: bad signature or a substituted algorithm.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrRevoked: the refresh record is gone (rotated, revoked or expired).
	ErrRevoked = errors.New("token revoked")
	// ErrPasswordChanged: the token was issued before the last password change.
	ErrPasswordChanged = errors.New("password changed since token issued")
	// ErrVersionStale: the token carries an older token version.
	ErrVersionStale = errors.New("token version stale")
	// ErrNotARefreshToken: a non-refresh token was presented for rotation.
	ErrNotARefreshToken = errors.New("not a refresh token")
	// ErrRateLimited: too many attempts for one of the request's keys.
	ErrRateLimited = errors.New("rate limited")
	// ErrCsrfFailed: the double-submit check failed.
	ErrCsrfFailed = errors.New("csrf check failed")
	// ErrStoreUnavailable: the revocation store could not be reached in time.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrUnauthenticated is what Public reports for every token failure.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTemporarilyUnavailable is what Public reports for store outages.
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrPasswordPolicy     = errors.New("password policy violation")
	ErrPasswordReuse      = errors.New("new password must be different from current password")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

var kindSentinels = [...]error{
	KindMalformed:        ErrMalformed,
	KindExpired:          ErrExpired,
	KindSignatureInvalid: ErrSignatureInvalid,
	KindRevoked:          ErrRevoked,
	KindPasswordChanged:  ErrPasswordChanged,
	KindVersionStale:     ErrVersionStale,
	KindNotARefreshToken: ErrNotARefreshToken,
	KindRateLimited:      ErrRateLimited,
	KindCsrfFailed:       ErrCsrfFailed,
	KindStoreUnavailable: ErrStoreUnavailable,
}

// Error is the classified failure returned by Engine operations. It matches
// the kind's sentinel and its cause under errors.Is and errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if int(e.Kind) < len(kindSentinels) && kindSentinels[e.Kind] != nil {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if int(e.Kind) < len(kindSentinels) && kindSentinels[e.Kind] != nil {
		out = append(out, kindSentinels[e.Kind])
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindNone.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// Public collapses err to what may be told to an unauthenticated caller.
// Every token failure becomes ErrUnauthenticated, store outages become
// ErrTemporarilyUnavailable. Rate-limit and CSRF failures keep their
// identity (a *ratelimit.LimitedError stays reachable for Retry-After).
// Errors without a Kind are returned unchanged.
func Public(err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindMalformed, KindExpired, KindSignatureInvalid, KindRevoked,
		KindPasswordChanged, KindVersionStale, KindNotARefreshToken:
		return ErrUnauthenticated
	case KindStoreUnavailable:
		return ErrTemporarilyUnavailable
	case KindRateLimited, KindCsrfFailed:
		return err
	}
	return err
}
