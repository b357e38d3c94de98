package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Method names the signing algorithm pinned by a Codec.
type Method string

const (
	MethodHS256 Method = "HS256"
	MethodHS384 Method = "HS384"
	MethodHS512 Method = "HS512"
	MethodEdDSA Method = "EdDSA"
)

const minSecretBytes = 32

// Config configures a Codec. HMAC methods use Secret; EdDSA uses PrivateKey to
// sign and PublicKey to verify (raw bytes or PEM). A verify-only EdDSA codec may
// omit PrivateKey.
type Config struct {
	Method     Method
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Leeway     time.Duration
	Now        func() time.Time
}

// Codec signs and verifies claim sets with one fixed algorithm.
type Codec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	now       func() time.Time
	parser    *jwt.Parser
}

type wireClaims struct {
	Type         Type   `json:"type"`
	IssuedAtMS   int64  `json:"iat_ms"`
	TokenVersion uint64 `json:"tv,omitempty"`
	jwt.RegisteredClaims
}

// New validates cfg and returns a Codec.
func New(cfg Config) (*Codec, error) {
	if cfg.Method == "" {
		cfg.Method = MethodHS256
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: leeway must be within [0, 2m]")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Codec{
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    cfg.Now,
	}

	switch cfg.Method {
	case MethodHS256, MethodHS384, MethodHS512:
		if len(cfg.Secret) < minSecretBytes {
			return nil, fmt.Errorf("token: %s requires a secret of at least %d bytes", cfg.Method, minSecretBytes)
		}
		secret := append([]byte(nil), cfg.Secret...)
		c.method = jwt.GetSigningMethod(string(cfg.Method))
		c.signKey = secret
		c.verifyKey = secret
	case MethodEdDSA:
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodEdDSA
		c.verifyKey = pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			c.signKey = priv
		}
	default:
		return nil, fmt.Errorf("token: unsupported signing method %q", cfg.Method)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	c.parser = jwt.NewParser(opts...)

	return c, nil
}

// Method returns the pinned algorithm name as it appears in the header.
func (c *Codec) Method() string {
	return c.method.Alg()
}

// Encode signs claims. IssuedAt is carried as both iat (seconds) and iat_ms.
func (c *Codec) Encode(claims Claims) (string, error) {
	if claims == nil {
		return "", errors.New("token: nil claims")
	}
	if c.signKey == nil {
		return "", errors.New("token: codec has no signing key")
	}

	b := claims.base()
	if b.Subject == "" {
		return "", errors.New("token: subject required")
	}
	if b.IssuedAt.IsZero() || !b.ExpiresAt.After(b.IssuedAt) {
		return "", errors.New("token: expiry must follow issuance")
	}

	issuedAt := time.UnixMilli(b.IssuedAt.UnixMilli())
	wire := wireClaims{
		Type:         claims.Type(),
		IssuedAtMS:   issuedAt.UnixMilli(),
		TokenVersion: b.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   b.Subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(b.ExpiresAt),
		},
	}

	switch v := claims.(type) {
	case *RefreshClaims:
		if v.JTI == "" {
			return "", errors.New("token: refresh claims require jti")
		}
		wire.ID = v.JTI
	case *AccessClaims, *VerifyClaims, *ResetClaims:
	}

	return jwt.NewWithClaims(c.method, wire).SignedString(c.signKey)
}

// Decode verifies raw and returns its claims. Errors wrap ErrMalformed,
// ErrExpired or ErrSignatureInvalid. The signature is checked before expiry, so
// a forged expired token reports ErrSignatureInvalid.
func (c *Codec) Decode(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	var wire wireClaims
	if _, err := c.parser.ParseWithClaims(raw, &wire, c.keyFunc); err != nil {
		return nil, classify(err)
	}

	return wire.claims()
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method == nil || t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %v", t.Header["alg"])
	}
	return c.verifyKey, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (w *wireClaims) claims() (Claims, error) {
	if w.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}
	if w.IssuedAt == nil || w.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing iat or exp", ErrMalformed)
	}
	if w.IssuedAtMS <= 0 || w.IssuedAtMS/1000 != w.IssuedAt.Unix() {
		return nil, fmt.Errorf("%w: iat_ms disagrees with iat", ErrMalformed)
	}

	b := Base{
		Subject:      w.Subject,
		IssuedAt:     time.UnixMilli(w.IssuedAtMS),
		ExpiresAt:    w.ExpiresAt.Time,
		TokenVersion: w.TokenVersion,
	}

	switch w.Type {
	case TypeAccess:
		return &AccessClaims{Base: b}, nil
	case TypeRefresh:
		if w.ID == "" {
			return nil, fmt.Errorf("%w: refresh token without jti", ErrMalformed)
		}
		return &RefreshClaims{Base: b, JTI: w.ID}, nil
	case TypeVerify:
		return &VerifyClaims{Base: b}, nil
	case TypeReset:
		return &ResetClaims{Base: b}, nil
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrMalformed, w.Type)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	if len(key) == 0 {
		return nil, errors.New("token: EdDSA requires a public key")
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
