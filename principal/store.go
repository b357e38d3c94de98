package principal

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no principal matches the id or identifier.
var ErrNotFound = errors.New("principal not found")

// ErrConflict is returned by Create when the id or identifier is taken.
var ErrConflict = errors.New("principal already exists")

// ErrVersionConflict is returned by UpdateCredentials when the stored
// TokenVersion no longer matches the expected one.
var ErrVersionConflict = errors.New("principal token version changed")

// Principal is the authenticated subject.
type Principal struct {
	ID         string
	Identifier string
	// PasswordHash is an argon2id PHC string.
	PasswordHash string
	// TokenVersion increments on every credential change. Tokens minted with a
	// lower version are stale.
	TokenVersion uint64
	// PasswordChangedAt is compared at millisecond precision against token
	// issue times. Zero means never changed.
	PasswordChangedAt time.Time
	Verified          bool
}

// PasswordChangedAtMillis is the comparison value for token iat_ms; 0 if unset.
func (p Principal) PasswordChangedAtMillis() int64 {
	if p.PasswordChangedAt.IsZero() {
		return 0
	}
	return p.PasswordChangedAt.UnixMilli()
}

// CredentialsUpdate replaces the password hash and records when it changed.
// It applies only while the stored TokenVersion equals ExpectedVersion.
type CredentialsUpdate struct {
	PasswordHash    string
	ChangedAt       time.Time
	ExpectedVersion uint64
}

// Store is the persistence boundary the engine depends on.
type Store interface {
	Get(ctx context.Context, id string) (Principal, error)
	FindByIdentifier(ctx context.Context, identifier string) (Principal, error)
	// UpdateCredentials sets the new hash and change time and increments
	// TokenVersion in one atomic step, returning the updated principal.
	// A version mismatch returns ErrVersionConflict and changes nothing.
	UpdateCredentials(ctx context.Context, id string, upd CredentialsUpdate) (Principal, error)
	MarkVerified(ctx context.Context, id string) (Principal, error)
}

// NormalizeIdentifier trims and lowercases an email-like identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
