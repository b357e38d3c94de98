package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/token"
)

// Config is cloned by the Builder; later changes to the caller's copy have no
// effect on a built Engine.
type Config struct {
	Token     TokenConfig
	Store     StoreConfig
	Password  password.Config
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig selects the signing key and lifetimes. The signing method is
// fixed per Engine; tokens naming any other algorithm are rejected.
type TokenConfig struct {
	Method     token.Method
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Leeway     time.Duration

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	VerifyTTL  time.Duration
	ResetTTL   time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the Redis revocation store.
type StoreConfig struct {
	Prefix string
	// OpTimeout bounds each store round trip. Exceeding it counts as the store
	// being unavailable.
	OpTimeout time.Duration
	// RotateTimeout bounds a whole rotation. Rotation ignores caller
	// cancellation and is limited only by this.
	RotateTimeout time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig selects the fixed-window policies for each throttled action.
type RateLimitConfig struct {
	Enabled       bool
	Prefix        string
	LoginByEmail  ratelimit.Policy
	LoginByIP     ratelimit.Policy
	ResetByEmail  ratelimit.Policy
	ResetByIP     ratelimit.Policy
	VerifyByEmail ratelimit.Policy
	RefreshByIP   ratelimit.Policy
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Key material is left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Method:     token.MethodHS256,
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			VerifyTTL:  24 * time.Hour,
			ResetTTL:   30 * time.Minute,
		},
		Store: StoreConfig{
			Prefix:        "authcore",
			OpTimeout:     150 * time.Millisecond,
			RotateTimeout: time.Second,
		},
		Password: password.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Prefix:        "rl",
			LoginByEmail:  ratelimit.LoginByEmail,
			LoginByIP:     ratelimit.LoginByIP,
			ResetByEmail:  ratelimit.ResetRequestByEmail,
			ResetByIP:     ratelimit.ResetRequestByIP,
			VerifyByEmail: ratelimit.VerifyRequestByEmail,
			RefreshByIP:   ratelimit.RefreshByIP,
		},
		Audit: AuditConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration mistake. Key material is checked
// when the codec is built.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be > AccessTTL")
	}
	if c.Token.VerifyTTL <= 0 || c.Token.ResetTTL <= 0 {
		return errors.New("Token VerifyTTL and ResetTTL must be > 0")
	}
	if c.Token.ResetTTL > 24*time.Hour {
		return errors.New("Token ResetTTL must be <= 24h")
	}

	// Store
	if c.Store.Prefix == "" {
		return errors.New("Store Prefix must not be empty")
	}
	if c.Store.OpTimeout <= 0 {
		return errors.New("Store OpTimeout must be > 0")
	}
	if c.Store.RotateTimeout < c.Store.OpTimeout {
		return errors.New("Store RotateTimeout must be >= OpTimeout")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Prefix == "" {
			return errors.New("RateLimit Prefix must not be empty")
		}
		if c.RateLimit.Prefix == c.Store.Prefix {
			return errors.New("RateLimit Prefix must differ from Store Prefix")
		}
		for _, p := range []ratelimit.Policy{
			c.RateLimit.LoginByEmail,
			c.RateLimit.LoginByIP,
			c.RateLimit.ResetByEmail,
			c.RateLimit.ResetByIP,
			c.RateLimit.VerifyByEmail,
			c.RateLimit.RefreshByIP,
		} {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("RateLimit: %w", err)
			}
		}
	}

	return nil
}
