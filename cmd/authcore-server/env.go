package main

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// EnvBool reads a bool env var with a default.
func EnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvDuration reads a positive duration env var with a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

type serverConfig struct {
	Addr         string
	RedisAddr    string
	DatabaseURL  string
	LogLevel     string
	ReadOnly     bool
	CookieSecure bool
	TrustProxy   bool
	HTTPLimit    int
	SeedPassword string

	Engine authcore.Config
}

func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		Addr:         EnvString("AUTHCORE_ADDR", ":8080"),
		RedisAddr:    EnvString("AUTHCORE_REDIS_ADDR", ""),
		DatabaseURL:  EnvString("AUTHCORE_DATABASE_URL", ""),
		LogLevel:     EnvString("AUTHCORE_LOG_LEVEL", "info"),
		ReadOnly:     EnvBool(middleware.ReadOnlyEnv, false),
		CookieSecure: EnvBool("AUTHCORE_COOKIE_SECURE", true),
		TrustProxy:   EnvBool("AUTHCORE_TRUST_PROXY", false),
		HTTPLimit:    EnvInt("AUTHCORE_HTTP_RATE_LIMIT", 120),
		SeedPassword: EnvString("AUTHCORE_SEED_PASSWORD", ""),
		Engine:       authcore.DefaultConfig(),
	}

	secret, err := decodeSecret(EnvString("AUTHCORE_TOKEN_SECRET", ""))
	if err != nil {
		return serverConfig{}, err
	}
	cfg.Engine.Token.Secret = secret
	cfg.Engine.Token.Issuer = EnvString("AUTHCORE_ISSUER", "authcore")
	cfg.Engine.Token.AccessTTL = EnvDuration("AUTHCORE_ACCESS_TTL", cfg.Engine.Token.AccessTTL)
	cfg.Engine.Token.RefreshTTL = EnvDuration("AUTHCORE_REFRESH_TTL", cfg.Engine.Token.RefreshTTL)
	cfg.Engine.Store.OpTimeout = EnvDuration("AUTHCORE_STORE_TIMEOUT", cfg.Engine.Store.OpTimeout)
	cfg.Engine.Audit.Enabled = EnvBool("AUTHCORE_AUDIT", true)
	cfg.Engine.Metrics.EnableLatencyHistograms = true

	if err := cfg.Engine.Validate(); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

// decodeSecret accepts "base64:<data>" or raw text.
func decodeSecret(v string) ([]byte, error) {
	if v == "" {
		return nil, fmt.Errorf("AUTHCORE_TOKEN_SECRET is required")
	}
	if rest, ok := strings.CutPrefix(v, "base64:"); ok {
		b, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("AUTHCORE_TOKEN_SECRET: %w", err)
		}
		return b, nil
	}
	return []byte(v), nil
}

// newLogger creates a JSON structured logger at the named level.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
