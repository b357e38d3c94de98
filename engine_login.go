package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
)

// Login checks credentials and issues a token pair. Attempts are throttled per
// identifier and per client IP (see WithClientIP). Unknown identifiers and
// wrong passwords are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	identifier = principal.NormalizeIdentifier(identifier)
	ip := ClientIPFromContext(ctx)
	emailKey := ratelimit.For(e.config.RateLimit.LoginByEmail, identifier)

	res := flows.RunLogin(ctx, identifier, secret, flows.LoginDeps{
		Limit: func(ctx context.Context, _ string) error {
			if e.limiter == nil {
				return nil
			}
			return e.allow(ctx, "login", emailKey, ratelimit.For(e.config.RateLimit.LoginByIP, ip))
		},
		Principals:     e.principals,
		VerifyPassword: e.hasher.Verify,
		DummyHash:      e.dummyHash,
	})

	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.auditFail(ctx, auditEventLoginRateLimited, "", res.Err)
		return TokenPair{}, res.Err
	case flows.LoginFailurePrincipalUnavailable:
		e.metricInc(MetricLoginFailure)
		return TokenPair{}, e.principalDown(ctx, "login", res.Err)
	case flows.LoginFailureHash:
		// A stored hash that does not decode is an operator problem; an
		// over-long password is the caller's. Neither is worth telling apart.
		if !errors.Is(res.Err, password.ErrTooLong) {
			e.logger.ErrorContext(ctx, "stored password hash unusable", "sub", res.Principal.ID, "err", res.Err)
		}
		fallthrough
	default:
		e.metricInc(MetricLoginFailure)
		e.auditFail(ctx, auditEventLoginFailure, res.Principal.ID, ErrInvalidCredentials)
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, err := e.issuePair(ctx, res.Principal)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.auditFail(ctx, auditEventLoginFailure, res.Principal.ID, err)
		return TokenPair{}, err
	}

	e.resetLimits(ctx, emailKey)
	e.metricInc(MetricLoginSuccess)
	e.auditOK(ctx, auditEventLoginSuccess, res.Principal.ID, pair.RefreshJTI)
	return pair, nil
}
