package token

import "time"

// Type discriminates the claim variants carried on the wire as "type".
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypeVerify  Type = "verify"
	TypeReset   Type = "reset"
)

// Base holds the fields shared by every claim variant.
//
// IssuedAt keeps millisecond precision; the wire format carries it both as
// integer seconds (iat) and milliseconds (iat_ms).
type Base struct {
	Subject      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	TokenVersion uint64
}

// Claims is the closed set of claim variants: *AccessClaims, *RefreshClaims,
// *VerifyClaims and *ResetClaims. Callers switch on the concrete type.
type Claims interface {
	Type() Type
	base() *Base
}

// AccessClaims authorize requests for a bounded window.
type AccessClaims struct {
	Base
}

// RefreshClaims mint new access tokens. JTI keys the revocable record.
type RefreshClaims struct {
	Base
	JTI string
}

// VerifyClaims prove control of the principal's identifier (email).
type VerifyClaims struct {
	Base
}

// ResetClaims authorize a single password reset.
type ResetClaims struct {
	Base
}

func (*AccessClaims) Type() Type  { return TypeAccess }
func (*RefreshClaims) Type() Type { return TypeRefresh }
func (*VerifyClaims) Type() Type  { return TypeVerify }
func (*ResetClaims) Type() Type   { return TypeReset }

func (c *AccessClaims) base() *Base  { return &c.Base }
func (c *RefreshClaims) base() *Base { return &c.Base }
func (c *VerifyClaims) base() *Base  { return &c.Base }
func (c *ResetClaims) base() *Base   { return &c.Base }

// IssuedAtMillis returns iat_ms.
func (b Base) IssuedAtMillis() int64 {
	return b.IssuedAt.UnixMilli()
}
