package authcore

import (
	"context"
	"time"
)

// Identity is the result of a successful access-token verification.
type Identity struct {
	Subject      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	TokenVersion uint64
}

// RefreshToken is a newly issued refresh credential.
type RefreshToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenPair is returned by Login and RotateRefresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshJTI       string    `json:"-"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Mailer delivers verification and reset links. Delivery mechanics are the
// implementation's concern; the Engine only hands over the token.
type Mailer interface {
	SendVerification(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// NoopMailer discards every message.
type NoopMailer struct{}

func (NoopMailer) SendVerification(context.Context, string, string) error  { return nil }
func (NoopMailer) SendPasswordReset(context.Context, string, string) error { return nil }
