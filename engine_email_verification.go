package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/token"
)

// CreateVerificationToken mints an address-verification token for p.
func (e *Engine) CreateVerificationToken(ctx context.Context, p principal.Principal) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	now := e.now()
	return e.codec.Encode(&token.VerifyClaims{Base: token.Base{
		Subject:      p.ID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(e.config.Token.VerifyTTL),
		TokenVersion: p.TokenVersion,
	}})
}

// IsVerificationToken reports the subject of a valid verification token.
// Password changes do not invalidate these tokens.
func (e *Engine) IsVerificationToken(ctx context.Context, raw string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	res := flows.RunVerify(ctx, raw, token.TypeVerify, e.verifyDeps(false))
	if err := e.verifyError(ctx, "verification_token", res); err != nil {
		return "", err
	}
	return res.Principal.ID, nil
}

// RequestEmailVerification mails a verification token to the principal. It is
// a no-op for principals already verified.
func (e *Engine) RequestEmailVerification(ctx context.Context, subject string) error {
	if err := e.ready(); err != nil {
		return err
	}

	p, err := e.principals.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return ErrPrincipalNotFound
		}
		return e.principalDown(ctx, "request_email_verification", err)
	}

	if err := e.allow(ctx, "request_email_verification",
		ratelimit.For(e.config.RateLimit.VerifyByEmail, p.Identifier),
	); err != nil {
		e.auditFail(ctx, auditEventEmailVerificationSent, p.ID, err)
		return err
	}
	if p.Verified {
		return nil
	}

	raw, err := e.CreateVerificationToken(ctx, p)
	if err != nil {
		return err
	}
	if err := e.mailer.SendVerification(ctx, p.Identifier, raw); err != nil {
		e.logger.ErrorContext(ctx, "send verification failed", "sub", p.ID, "err", err)
		return fmt.Errorf("authcore: send verification: %w", err)
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.auditOK(ctx, auditEventEmailVerificationSent, p.ID, "")
	return nil
}

// ConfirmEmailVerification marks the token's principal as verified. Confirming
// twice is harmless.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, raw string) (principal.Principal, error) {
	if err := e.ready(); err != nil {
		return principal.Principal{}, err
	}

	subject, err := e.IsVerificationToken(ctx, raw)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.auditFail(ctx, auditEventEmailVerificationCheck, "", err)
		return principal.Principal{}, err
	}

	p, err := e.principals.MarkVerified(ctx, subject)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		if errors.Is(err, principal.ErrNotFound) {
			return principal.Principal{}, ErrPrincipalNotFound
		}
		return principal.Principal{}, e.principalDown(ctx, "confirm_email_verification", err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.auditOK(ctx, auditEventEmailVerificationCheck, p.ID, "")
	return p, nil
}
