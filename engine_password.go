package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/token"
)

// ChangePassword verifies the current password and replaces it. Every token
// issued before the change stops verifying and every refresh session of the
// principal is revoked.
func (e *Engine) ChangePassword(ctx context.Context, subject, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	p, err := e.principals.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return ErrPrincipalNotFound
		}
		return e.principalDown(ctx, "change_password", err)
	}

	ok, err := e.hasher.Verify(oldPassword, p.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.auditFail(ctx, auditEventPasswordChangeFailure, subject, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.auditFail(ctx, auditEventPasswordChangeFailure, subject, ErrPasswordReuse)
		return ErrPasswordReuse
	}

	if _, err := e.setPassword(ctx, "change_password", p, newPassword); err != nil {
		e.auditFail(ctx, auditEventPasswordChangeFailure, subject, err)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.auditOK(ctx, auditEventPasswordChangeSuccess, subject, "")
	return nil
}

// setPassword stores a new hash, stamps the change time and bumps the token
// version, then revokes the principal's refresh sessions. The update only
// applies if p.TokenVersion is still current, so two callers racing on the
// same snapshot cannot both win. Revocation is best effort: the version bump
// already makes every outstanding token stale.
func (e *Engine) setPassword(ctx context.Context, op string, p principal.Principal, newPassword string) (principal.Principal, error) {
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return principal.Principal{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return principal.Principal{}, err
	}

	updated, err := e.principals.UpdateCredentials(ctx, p.ID, principal.CredentialsUpdate{
		PasswordHash:    hash,
		ChangedAt:       e.now().Truncate(time.Millisecond),
		ExpectedVersion: p.TokenVersion,
	})
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return principal.Principal{}, ErrPrincipalNotFound
		}
		if errors.Is(err, principal.ErrVersionConflict) {
			return principal.Principal{}, newError(op, KindVersionStale, err)
		}
		return principal.Principal{}, e.principalDown(ctx, op, err)
	}

	if _, err := e.store.RevokeSubject(ctx, p.ID); err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.WarnContext(ctx, "revoke after password change failed", "sub", p.ID, "err", err)
	}
	return updated, nil
}

/*
====================================
PASSWORD RESET
====================================
*/

// CreateResetToken mints a password-reset token for p. It is stateless: the
// reset applies only at the token's version and bumps it, so the token can
// be used at most once even when confirmed concurrently.
func (e *Engine) CreateResetToken(ctx context.Context, p principal.Principal) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	now := e.now()
	return e.codec.Encode(&token.ResetClaims{Base: token.Base{
		Subject:      p.ID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(e.config.Token.ResetTTL),
		TokenVersion: p.TokenVersion,
	}})
}

// IsResetToken reports the subject of a valid, unused reset token.
func (e *Engine) IsResetToken(ctx context.Context, raw string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	res := e.checkReset(ctx, raw)
	if err := e.verifyError(ctx, "reset_token", res); err != nil {
		return "", err
	}
	return res.Principal.ID, nil
}

func (e *Engine) checkReset(ctx context.Context, raw string) flows.VerifyResult {
	return flows.RunVerify(ctx, raw, token.TypeReset, e.verifyDeps(true))
}

// RequestPasswordReset mails a reset token to the principal behind
// identifier. Unknown identifiers succeed silently so the endpoint cannot be
// used to probe for accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identifier = principal.NormalizeIdentifier(identifier)
	if err := e.allow(ctx, "request_password_reset",
		ratelimit.For(e.config.RateLimit.ResetByEmail, identifier),
		ratelimit.For(e.config.RateLimit.ResetByIP, ClientIPFromContext(ctx)),
	); err != nil {
		e.auditFail(ctx, auditEventPasswordResetRequest, "", err)
		return err
	}

	e.metricInc(MetricPasswordResetRequest)

	p, err := e.principals.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			return nil
		}
		return e.principalDown(ctx, "request_password_reset", err)
	}

	raw, err := e.CreateResetToken(ctx, p)
	if err != nil {
		return err
	}
	if err := e.mailer.SendPasswordReset(ctx, p.Identifier, raw); err != nil {
		e.logger.ErrorContext(ctx, "send password reset failed", "sub", p.ID, "err", err)
		return fmt.Errorf("authcore: send password reset: %w", err)
	}

	e.auditOK(ctx, auditEventPasswordResetRequest, p.ID, "")
	return nil
}

// ConfirmPasswordReset sets a new password using a reset token. The token and
// every other credential of the principal stop working.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, raw, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	res := e.checkReset(ctx, raw)
	if err := e.verifyError(ctx, "confirm_password_reset", res); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.auditFail(ctx, auditEventPasswordResetConfirm, "", err)
		return err
	}

	if _, err := e.setPassword(ctx, "confirm_password_reset", res.Principal, newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.auditFail(ctx, auditEventPasswordResetConfirm, res.Principal.ID, err)
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.auditOK(ctx, auditEventPasswordResetConfirm, res.Principal.ID, "")
	return nil
}
