package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/token"
)

// Engine is the session manager. It is safe for concurrent use; any number of
// Engines may share one Redis and one principal store.
type Engine struct {
	config     Config
	codec      *token.Codec
	hasher     *password.Hasher
	store      revocation.Store
	limiter    *ratelimit.Limiter
	principals principal.Store
	mailer     Mailer
	audit      AuditSink
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	// dummyHash is verified against for unknown identifiers so a miss costs
	// the same as a wrong password.
	dummyHash string
}

// AuditDropped reports events the configured sink discarded, when the sink
// keeps such a count.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	if dc, ok := e.audit.(dropCounter); ok {
		return dc.Dropped()
	}
	return 0
}

// MetricsSnapshot returns a point-in-time copy of the Engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the Engine's configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.codec == nil || e.store == nil || e.principals == nil {
		return ErrEngineNotReady
	}
	return nil
}

// storeDown records a revocation store failure and returns the classified
// error. Callers never retry on it.
func (e *Engine) storeDown(ctx context.Context, op string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.logger.WarnContext(ctx, "revocation store unavailable", "op", op, "err", err)
	e.emitAudit(ctx, AuditEvent{
		Type:     auditEventStoreUnavailable,
		Success:  false,
		Reason:   KindStoreUnavailable.String(),
		Metadata: map[string]string{"op": op},
	})
	return newError(op, KindStoreUnavailable, err)
}

// principalDown is a principal store failure. It shares the store-unavailable
// kind so callers answer 503 rather than 401.
func (e *Engine) principalDown(ctx context.Context, op string, err error) error {
	e.logger.WarnContext(ctx, "principal store unavailable", "op", op, "err", err)
	return newError(op, KindStoreUnavailable, err)
}

func tokenKind(err error) Kind {
	switch {
	case errors.Is(err, token.ErrExpired):
		return KindExpired
	case errors.Is(err, token.ErrSignatureInvalid):
		return KindSignatureInvalid
	default:
		return KindMalformed
	}
}

var errWrongTokenType = errors.New("unexpected token type")

// verifyError maps a stateless verification result onto the error taxonomy.
func (e *Engine) verifyError(ctx context.Context, op string, res flows.VerifyResult) error {
	switch res.Failure {
	case flows.VerifyFailureNone:
		return nil
	case flows.VerifyFailureDecode:
		return newError(op, tokenKind(res.Err), res.Err)
	case flows.VerifyFailureWrongType:
		return newError(op, KindMalformed, errWrongTokenType)
	case flows.VerifyFailurePrincipalMissing:
		return newError(op, KindRevoked, res.Err)
	case flows.VerifyFailurePrincipalUnavailable:
		return e.principalDown(ctx, op, res.Err)
	case flows.VerifyFailurePasswordChanged:
		return newError(op, KindPasswordChanged, nil)
	case flows.VerifyFailureVersionStale:
		return newError(op, KindVersionStale, nil)
	default:
		return newError(op, KindMalformed, res.Err)
	}
}

func (e *Engine) verifyDeps(checkFreshness bool) flows.VerifyDeps {
	return flows.VerifyDeps{
		Decode:         e.codec.Decode,
		Principals:     e.principals,
		CheckFreshness: checkFreshness,
	}
}

// allow counts one hit against every key. Throttled calls return a
// KindRateLimited error wrapping the *ratelimit.LimitedError. The check is
// detached from caller cancellation and bounded by the limiter's own
// timeout, so a client that went away is not counted as a store failure.
func (e *Engine) allow(ctx context.Context, op string, keys ...ratelimit.Key) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.Allow(context.WithoutCancel(ctx), keys...)
	if err == nil {
		return nil
	}
	if errors.Is(err, ratelimit.ErrLimited) {
		e.metricInc(MetricRateLimitHit)
		return newError(op, KindRateLimited, err)
	}
	return err
}

func (e *Engine) resetLimits(ctx context.Context, keys ...ratelimit.Key) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.Reset(ctx, keys...); err != nil {
		e.logger.DebugContext(ctx, "rate limit reset failed", "err", err)
	}
}
