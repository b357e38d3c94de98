package flows

import (
	"context"

	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/token"
)

// VerifyFailure classifies verification failures for root-level mapping.
type VerifyFailure int

const (
	VerifyFailureNone VerifyFailure = iota
	VerifyFailureDecode
	VerifyFailureWrongType
	VerifyFailurePrincipalMissing
	VerifyFailurePrincipalUnavailable
	VerifyFailurePasswordChanged
	VerifyFailureVersionStale
)

// VerifyResult carries the claims and principal on success.
type VerifyResult struct {
	Failure   VerifyFailure
	Err       error
	Claims    token.Claims
	Principal principal.Principal
}

// VerifyDeps captures verification dependencies.
type VerifyDeps struct {
	Decode     Decoder
	Principals PrincipalReader
	// CheckFreshness applies password-change and token-version checks. Access
	// and reset tokens set it; verification tokens do not.
	CheckFreshness bool
}

// RunVerify decodes raw, requires the claim type want, loads the principal and
// optionally checks freshness. It never touches the revocation store.
func RunVerify(ctx context.Context, raw string, want token.Type, deps VerifyDeps) VerifyResult {
	claims, err := deps.Decode(raw)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureDecode, Err: err}
	}
	if claims.Type() != want {
		return VerifyResult{Failure: VerifyFailureWrongType, Claims: claims}
	}

	base := baseOf(claims)
	p, err := deps.Principals.Get(ctx, base.Subject)
	if err != nil {
		if isNotFound(err) {
			return VerifyResult{Failure: VerifyFailurePrincipalMissing, Err: err, Claims: claims}
		}
		return VerifyResult{Failure: VerifyFailurePrincipalUnavailable, Err: err, Claims: claims}
	}

	if deps.CheckFreshness {
		switch CheckFreshness(p, base) {
		case StalePasswordChanged:
			return VerifyResult{Failure: VerifyFailurePasswordChanged, Claims: claims, Principal: p}
		case StaleVersion:
			return VerifyResult{Failure: VerifyFailureVersionStale, Claims: claims, Principal: p}
		}
	}

	return VerifyResult{Claims: claims, Principal: p}
}

func baseOf(c token.Claims) token.Base {
	switch v := c.(type) {
	case *token.AccessClaims:
		return v.Base
	case *token.RefreshClaims:
		return v.Base
	case *token.VerifyClaims:
		return v.Base
	case *token.ResetClaims:
		return v.Base
	}
	return token.Base{}
}
