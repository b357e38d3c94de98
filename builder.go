package authcore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use and not safe for
// concurrent configuration.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      revocation.Store
	principals principal.Store
	mailer     Mailer
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared client for the revocation store and rate limiter.
// The Engine never closes it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRevocationStore replaces the Redis-backed store. Rate limiting still
// needs WithRedis unless it is disabled.
func (b *Builder) WithRevocationStore(store revocation.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithPrincipalStore(store principal.Store) *Builder {
	b.principals = store
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token timestamps and password
// change stamps. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if b.redis == nil {
		if b.store == nil {
			return nil, errors.New("redis client required")
		}
		if cfg.RateLimit.Enabled {
			return nil, errors.New("RateLimit requires redis client")
		}
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	codec, err := token.New(token.Config{
		Method:     cfg.Token.Method,
		Secret:     cfg.Token.Secret,
		PrivateKey: cfg.Token.PrivateKey,
		PublicKey:  cfg.Token.PublicKey,
		Issuer:     cfg.Token.Issuer,
		Leeway:     cfg.Token.Leeway,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	// Unknown identifiers are checked against this so a miss costs one hash.
	filler, err := internal.NewOpaqueToken(24)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(filler)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		codec:      codec,
		hasher:     hasher,
		store:      b.store,
		principals: b.principals,
		mailer:     b.mailer,
		audit:      b.auditSink,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		now:        now,
		dummyHash:  dummyHash,
	}

	if e.store == nil {
		e.store = revocation.NewRedisStore(b.redis, revocation.RedisOptions{
			Prefix:    cfg.Store.Prefix,
			OpTimeout: cfg.Store.OpTimeout,
		})
	}
	if e.mailer == nil {
		e.mailer = NoopMailer{}
	}
	if e.audit == nil {
		e.audit = NoOpSink{}
	}
	if cfg.RateLimit.Enabled {
		e.limiter = ratelimit.New(b.redis, ratelimit.Options{
			Prefix:    cfg.RateLimit.Prefix,
			OpTimeout: cfg.Store.OpTimeout,
			Logger:    logger,
			OnFailOpen: func(ratelimit.Key, error) {
				e.metricInc(MetricRateLimitFailOpen)
			},
		})
	}

	b.built = true
	return e, nil
}
