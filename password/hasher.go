package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKiB   uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	maxKeyLength   uint32 = 128
	defaultMinLen         = 10
	defaultMaxLen         = 1024
	phcAlgorithm          = "argon2id"
)

var (
	// ErrTooShort is returned by Hash for passwords under Config.MinLength bytes.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned for passwords over Config.MaxLength bytes.
	ErrTooLong = errors.New("password too long")
	// ErrInvalidHash is returned for malformed or unsupported PHC strings.
	ErrInvalidHash = errors.New("invalid password hash")
)

// Config holds Argon2id cost parameters and length policy. Lengths are byte
// counts of the raw input; no Unicode normalization is applied.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

// DefaultConfig returns the recommended interactive-login parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   defaultMinLen,
		MaxLength:   defaultMaxLen,
	}
}

// Hasher is safe for concurrent use.
type Hasher struct {
	cfg Config
}

type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

// NewHasher validates cfg. Zero MinLength/MaxLength take the defaults.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.MinLength == 0 {
		cfg.MinLength = defaultMinLen
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = defaultMaxLen
	}

	switch {
	case cfg.Memory < minMemoryKiB:
		return nil, fmt.Errorf("password: memory must be >= %d KiB", minMemoryKiB)
	case cfg.Time < 1:
		return nil, errors.New("password: time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password: parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength || cfg.KeyLength > maxKeyLength:
		return nil, fmt.Errorf("password: key length must be within [%d, %d]", minKeyLength, maxKeyLength)
	case cfg.MinLength < 1 || cfg.MaxLength < cfg.MinLength:
		return nil, errors.New("password: invalid length policy")
	}

	return &Hasher{cfg: cfg}, nil
}

// Hash derives a new PHC string with a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < h.cfg.MinLength {
		return "", ErrTooShort
	}
	if len(password) > h.cfg.MaxLength {
		return "", ErrTooLong
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.cfg.Memory,
		h.cfg.Time,
		h.cfg.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. A mismatch is (false, nil);
// a malformed hash or one with unreasonable cost parameters is ErrInvalidHash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > h.cfg.MaxLength {
		return false, ErrTooLong
	}

	p, salt, expected, err := decode(encoded)
	if err != nil {
		return false, err
	}
	// Stored parameters are attacker-influenced if the hash column is; cap them.
	if p.memory > 2*h.cfg.Memory || p.time > 2*h.cfg.Time || p.parallelism > 2*h.cfg.Parallelism {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters than
// the current Config.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, _, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	return p.memory < h.cfg.Memory ||
		p.time < h.cfg.Time ||
		p.parallelism < h.cfg.Parallelism ||
		uint32(len(key)) != h.cfg.KeyLength, nil
}

func decode(encoded string) (params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithm {
		return params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return params{}, nil, nil, ErrInvalidHash
	}

	var p params
	var parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallelism); err != nil {
		return params{}, nil, nil, ErrInvalidHash
	}
	if p.memory < minMemoryKiB || p.time < 1 || parallelism < 1 || parallelism > 255 {
		return params{}, nil, nil, ErrInvalidHash
	}
	p.parallelism = uint8(parallelism)

	salt, err := decodeB64(parts[4])
	if err != nil || uint32(len(salt)) < minSaltLength {
		return params{}, nil, nil, ErrInvalidHash
	}
	key, err := decodeB64(parts[5])
	if err != nil || uint32(len(key)) < minKeyLength || uint32(len(key)) > maxKeyLength {
		return params{}, nil, nil, ErrInvalidHash
	}

	return p, salt, key, nil
}

// decodeB64 accepts both the unpadded PHC form and padded standard base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
