package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/token"
)

// RotateFailure classifies rotation failures for root-level mapping.
type RotateFailure int

const (
	RotateFailureNone RotateFailure = iota
	RotateFailureDecode
	RotateFailureWrongType
	RotateFailureRevoked
	RotateFailureSubjectMismatch
	RotateFailureStoreUnavailable
	RotateFailurePrincipalMissing
	RotateFailurePrincipalUnavailable
	RotateFailurePasswordChanged
	RotateFailureVersionStale
)

// RotateResult carries the consumed claims and current principal. On success
// the caller issues the replacement pair.
type RotateResult struct {
	Failure   RotateFailure
	Err       error
	Claims    *token.RefreshClaims
	Principal principal.Principal
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
	Decode     Decoder
	Records    RecordTaker
	Principals PrincipalReader
}

// RunRotate consumes a refresh token. The record is taken (read and deleted)
// before any other check, so of several concurrent callers presenting the same
// token exactly one proceeds. A missing record is final and never retried.
func RunRotate(ctx context.Context, raw string, deps RotateDeps) RotateResult {
	claims, err := deps.Decode(raw)
	if err != nil {
		return RotateResult{Failure: RotateFailureDecode, Err: err}
	}
	refresh, ok := claims.(*token.RefreshClaims)
	if !ok {
		return RotateResult{Failure: RotateFailureWrongType}
	}

	rec, err := deps.Records.Take(ctx, refresh.JTI)
	if err != nil {
		switch {
		case errors.Is(err, revocation.ErrNotFound), errors.Is(err, revocation.ErrCorrupt):
			return RotateResult{Failure: RotateFailureRevoked, Err: err, Claims: refresh}
		default:
			return RotateResult{Failure: RotateFailureStoreUnavailable, Err: err, Claims: refresh}
		}
	}
	if rec.Subject != refresh.Subject {
		return RotateResult{Failure: RotateFailureSubjectMismatch, Claims: refresh}
	}

	p, err := deps.Principals.Get(ctx, refresh.Subject)
	if err != nil {
		if isNotFound(err) {
			return RotateResult{Failure: RotateFailurePrincipalMissing, Err: err, Claims: refresh}
		}
		return RotateResult{Failure: RotateFailurePrincipalUnavailable, Err: err, Claims: refresh}
	}

	switch CheckFreshness(p, refresh.Base) {
	case StalePasswordChanged:
		return RotateResult{Failure: RotateFailurePasswordChanged, Claims: refresh, Principal: p}
	case StaleVersion:
		return RotateResult{Failure: RotateFailureVersionStale, Claims: refresh, Principal: p}
	}

	return RotateResult{Claims: refresh, Principal: p}
}
