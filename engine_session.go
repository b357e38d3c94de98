package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/token"
	"github.com/google/uuid"
)

// IssueAccess mints a short-lived access token for p. It touches no store.
func (e *Engine) IssueAccess(ctx context.Context, p principal.Principal) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	raw, _, err := e.issueAccess(p)
	return raw, err
}

func (e *Engine) issueAccess(p principal.Principal) (string, time.Time, error) {
	if p.ID == "" {
		return "", time.Time{}, errors.New("authcore: issue access: empty subject")
	}

	now := e.now()
	exp := now.Add(e.config.Token.AccessTTL)
	raw, err := e.codec.Encode(&token.AccessClaims{Base: token.Base{
		Subject:      p.ID,
		IssuedAt:     now,
		ExpiresAt:    exp,
		TokenVersion: p.TokenVersion,
	}})
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, exp, nil
}

// IssueRefresh mints a refresh token and persists its record. If the record
// cannot be written no token is returned.
func (e *Engine) IssueRefresh(ctx context.Context, p principal.Principal) (RefreshToken, error) {
	if err := e.ready(); err != nil {
		return RefreshToken{}, err
	}
	if p.ID == "" {
		return RefreshToken{}, errors.New("authcore: issue refresh: empty subject")
	}

	now := e.now()
	exp := now.Add(e.config.Token.RefreshTTL)
	jti := uuid.NewString()

	raw, err := e.codec.Encode(&token.RefreshClaims{
		Base: token.Base{
			Subject:      p.ID,
			IssuedAt:     now,
			ExpiresAt:    exp,
			TokenVersion: p.TokenVersion,
		},
		JTI: jti,
	})
	if err != nil {
		return RefreshToken{}, err
	}

	rec := revocation.Record{Subject: p.ID, ExpiresAt: exp}
	if err := e.store.Put(ctx, jti, rec, exp.Sub(now)); err != nil {
		if errors.Is(err, revocation.ErrUnavailable) {
			return RefreshToken{}, e.storeDown(ctx, "issue_refresh", err)
		}
		return RefreshToken{}, err
	}

	e.metricInc(MetricRefreshIssued)
	return RefreshToken{Token: raw, JTI: jti, ExpiresAt: exp}, nil
}

func (e *Engine) issuePair(ctx context.Context, p principal.Principal) (TokenPair, error) {
	access, accessExp, err := e.issueAccess(p)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.IssueRefresh(ctx, p)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh.Token,
		RefreshJTI:       refresh.JTI,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// VerifyAccess validates an access token without consulting the revocation
// store. The principal is loaded to reject tokens issued before the last
// password change or carrying an older token version.
func (e *Engine) VerifyAccess(ctx context.Context, raw string) (Identity, error) {
	if err := e.ready(); err != nil {
		return Identity{}, err
	}

	start := time.Now()
	res := flows.RunVerify(ctx, raw, token.TypeAccess, e.verifyDeps(true))
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}

	if err := e.verifyError(ctx, "verify_access", res); err != nil {
		e.metricInc(MetricAccessRejected)
		e.logger.DebugContext(ctx, "access token rejected", "kind", KindOf(err).String())
		return Identity{}, err
	}

	claims := res.Claims.(*token.AccessClaims)
	e.metricInc(MetricAccessVerified)
	return Identity{
		Subject:      claims.Subject,
		IssuedAt:     claims.IssuedAt,
		ExpiresAt:    claims.ExpiresAt,
		TokenVersion: claims.TokenVersion,
	}, nil
}

// RotateRefresh exchanges a refresh token for a new pair. The old record is
// consumed before anything else is checked, so among concurrent callers with
// the same token exactly one succeeds and the rest get KindRevoked.
//
// Once started, rotation ignores cancellation of ctx and is bounded only by
// Store.RotateTimeout: a client disconnect must not leave the old token
// consumed without its replacement having been stored. A store outage fails
// closed with KindStoreUnavailable and is never retried.
func (e *Engine) RotateRefresh(ctx context.Context, raw string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	if e.limiter != nil {
		key := ratelimit.For(e.config.RateLimit.RefreshByIP, ClientIPFromContext(ctx))
		if err := e.allow(ctx, "rotate_refresh", key); err != nil {
			e.auditFail(ctx, auditEventRefreshRateLimited, "", err)
			return TokenPair{}, err
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Store.RotateTimeout)
	defer cancel()

	res := flows.RunRotate(ctx, raw, flows.RotateDeps{
		Decode:     e.codec.Decode,
		Records:    e.store,
		Principals: e.principals,
	})

	if err := e.rotateError(ctx, res); err != nil {
		e.metricInc(MetricRefreshRejected)
		subject := ""
		if res.Claims != nil {
			subject = res.Claims.Subject
		}
		e.auditFail(ctx, auditEventRefreshRejected, subject, err)
		return TokenPair{}, err
	}

	pair, err := e.issuePair(ctx, res.Principal)
	if err != nil {
		// The old record is already gone; the session ends here.
		e.metricInc(MetricRefreshRejected)
		e.auditFail(ctx, auditEventRefreshRejected, res.Principal.ID, err)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshRotated)
	e.auditOK(ctx, auditEventRefreshSuccess, res.Principal.ID, pair.RefreshJTI)
	return pair, nil
}

func (e *Engine) rotateError(ctx context.Context, res flows.RotateResult) error {
	const op = "rotate_refresh"

	switch res.Failure {
	case flows.RotateFailureNone:
		return nil
	case flows.RotateFailureDecode:
		return newError(op, tokenKind(res.Err), res.Err)
	case flows.RotateFailureWrongType:
		return newError(op, KindNotARefreshToken, nil)
	case flows.RotateFailureRevoked:
		e.metricInc(MetricRefreshRevokedReplay)
		e.logger.InfoContext(ctx, "refresh token not live", "jti", res.Claims.JTI, "sub", res.Claims.Subject)
		return newError(op, KindRevoked, res.Err)
	case flows.RotateFailureSubjectMismatch:
		e.logger.WarnContext(ctx, "refresh record subject mismatch", "jti", res.Claims.JTI)
		return newError(op, KindRevoked, nil)
	case flows.RotateFailureStoreUnavailable:
		return e.storeDown(ctx, op, res.Err)
	case flows.RotateFailurePrincipalMissing:
		return newError(op, KindRevoked, res.Err)
	case flows.RotateFailurePrincipalUnavailable:
		return e.principalDown(ctx, op, res.Err)
	case flows.RotateFailurePasswordChanged:
		return newError(op, KindPasswordChanged, nil)
	case flows.RotateFailureVersionStale:
		return newError(op, KindVersionStale, nil)
	default:
		return newError(op, KindMalformed, res.Err)
	}
}

// Revoke deletes the refresh record for jti. Revoking an unknown or already
// revoked jti succeeds.
func (e *Engine) Revoke(ctx context.Context, jti string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if jti == "" {
		return nil
	}
	if err := e.store.Delete(ctx, jti); err != nil {
		return e.storeDown(ctx, "revoke", err)
	}
	e.metricInc(MetricRevoke)
	return nil
}

// Logout revokes the session behind a refresh token. Tokens that do not
// decode, or are not refresh tokens, are ignored: there is nothing live to
// revoke for them.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.codec.Decode(refreshToken)
	if err != nil {
		e.logger.DebugContext(ctx, "logout with undecodable token", "err", err)
		return nil
	}
	refresh, ok := claims.(*token.RefreshClaims)
	if !ok {
		return nil
	}

	if err := e.Revoke(ctx, refresh.JTI); err != nil {
		e.auditFail(ctx, auditEventLogout, refresh.Subject, err)
		return err
	}
	e.metricInc(MetricLogout)
	e.auditOK(ctx, auditEventLogout, refresh.Subject, refresh.JTI)
	return nil
}

// RevokeAll ends every refresh session of subject and returns how many were
// live. Outstanding access tokens stay valid until they expire unless the
// principal's token version is bumped as well.
func (e *Engine) RevokeAll(ctx context.Context, subject string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if subject == "" {
		return 0, errors.New("authcore: revoke all: empty subject")
	}

	n, err := e.store.RevokeSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, revocation.ErrUnavailable) {
			err = e.storeDown(ctx, "revoke_all", err)
		}
		e.auditFail(ctx, auditEventLogoutAll, subject, err)
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		Type:     auditEventLogoutAll,
		Subject:  subject,
		Success:  true,
		Metadata: map[string]string{"revoked": strconv.Itoa(n)},
	})
	return n, nil
}
