package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy bounds one action to Limit hits per Window.
type Policy struct {
	Action string
	Limit  int
	Window time.Duration
}

// Presets used by the session engine.
var (
	LoginByEmail         = Policy{Action: "login_email", Limit: 5, Window: time.Minute}
	LoginByIP            = Policy{Action: "login_ip", Limit: 10, Window: time.Minute}
	ResetRequestByEmail  = Policy{Action: "reset_email", Limit: 3, Window: 5 * time.Minute}
	ResetRequestByIP     = Policy{Action: "reset_ip", Limit: 10, Window: 5 * time.Minute}
	VerifyRequestByEmail = Policy{Action: "verify_email", Limit: 3, Window: 5 * time.Minute}
	RefreshByIP          = Policy{Action: "refresh_ip", Limit: 30, Window: time.Minute}
)

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	switch {
	case p.Action == "" || strings.ContainsAny(p.Action, ": "):
		return fmt.Errorf("ratelimit: invalid action %q", p.Action)
	case p.Limit < 1:
		return fmt.Errorf("ratelimit: %s limit must be >= 1", p.Action)
	case p.Window < time.Millisecond:
		return fmt.Errorf("ratelimit: %s window must be >= 1ms", p.Action)
	}
	return nil
}

// Key pairs a policy with the identity it counts, e.g. an email or client IP.
type Key struct {
	Policy   Policy
	Identity string
}

// For builds a Key with a normalized identity.
func For(p Policy, identity string) Key {
	return Key{Policy: p, Identity: NormalizeIdentity(identity)}
}

// NormalizeIdentity trims and lowercases so "A@x.com " and "a@x.com" share a
// counter.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

var (
	// ErrLimited is the sentinel every *LimitedError unwraps to.
	ErrLimited = errors.New("rate limited")
	// ErrUnavailable wraps Redis failures. Check never returns it (fail-open);
	// Reset does.
	ErrUnavailable = errors.New("rate limit store unavailable")
)

// LimitedError reports which key tripped and when the caller may retry.
type LimitedError struct {
	Key        Key
	Count      int64
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %ds)", e.Key.Policy.Action, int64(e.RetryAfter/time.Second))
}

func (e *LimitedError) Unwrap() error {
	return ErrLimited
}

// RetryAfterSeconds is the whole-second value for a Retry-After header.
func (e *LimitedError) RetryAfterSeconds() int64 {
	secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
