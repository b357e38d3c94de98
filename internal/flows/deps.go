package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/token"
)

// PrincipalReader loads current principal state by id.
type PrincipalReader interface {
	Get(ctx context.Context, id string) (principal.Principal, error)
}

// PrincipalFinder loads a principal by login identifier.
type PrincipalFinder interface {
	FindByIdentifier(ctx context.Context, identifier string) (principal.Principal, error)
}

// RecordTaker atomically reads and deletes a refresh record.
type RecordTaker interface {
	Take(ctx context.Context, jti string) (revocation.Record, error)
}

// Decoder verifies a compact token and returns its claims.
type Decoder func(raw string) (token.Claims, error)

// Freshness classifies a token against the principal's credential state.
type Freshness int

const (
	Fresh Freshness = iota
	// StalePasswordChanged: issued before the last password change.
	StalePasswordChanged
	// StaleVersion: minted with an older token version.
	StaleVersion
)

// CheckFreshness compares a token's iat_ms against the principal's password
// change time, then its token version. The timestamp is checked first and is
// authoritative; the version catches tokens minted in the same millisecond as
// the change.
func CheckFreshness(p principal.Principal, b token.Base) Freshness {
	if changed := p.PasswordChangedAtMillis(); changed > 0 && b.IssuedAtMillis() < changed {
		return StalePasswordChanged
	}
	if b.TokenVersion < p.TokenVersion {
		return StaleVersion
	}
	return Fresh
}

func isNotFound(err error) bool {
	return errors.Is(err, principal.ErrNotFound)
}
