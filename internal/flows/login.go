package flows

import (
	"context"

	"github.com/MrEthical07/authcore/principal"
)

// LoginFailure classifies login failures for root-level mapping.
type LoginFailure int

const (
	LoginFailureNone LoginFailure = iota
	LoginFailureRateLimited
	LoginFailureInvalidCredentials
	LoginFailurePrincipalUnavailable
	LoginFailureHash
)

// LoginResult carries the authenticated principal on success.
type LoginResult struct {
	Failure   LoginFailure
	Err       error
	Principal principal.Principal
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	// Limit counts the attempt and returns a non-nil error once throttled.
	Limit          func(ctx context.Context, identifier string) error
	Principals     PrincipalFinder
	VerifyPassword func(password, encoded string) (bool, error)
	// DummyHash is verified against when the identifier is unknown so both
	// outcomes cost one hash.
	DummyHash string
}

// RunLogin throttles, looks up and verifies credentials.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	if deps.Limit != nil {
		if err := deps.Limit(ctx, identifier); err != nil {
			return LoginResult{Failure: LoginFailureRateLimited, Err: err}
		}
	}

	p, err := deps.Principals.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !isNotFound(err) {
			return LoginResult{Failure: LoginFailurePrincipalUnavailable, Err: err}
		}
		if deps.DummyHash != "" {
			_, _ = deps.VerifyPassword(password, deps.DummyHash)
		}
		return LoginResult{Failure: LoginFailureInvalidCredentials, Err: err}
	}

	ok, err := deps.VerifyPassword(password, p.PasswordHash)
	if err != nil {
		return LoginResult{Failure: LoginFailureHash, Err: err, Principal: p}
	}
	if !ok {
		return LoginResult{Failure: LoginFailureInvalidCredentials, Principal: p}
	}

	return LoginResult{Principal: p}
}
