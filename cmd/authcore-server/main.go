// Command authcore-server is a demo HTTP service over an authcore Engine.
//
// Redis comes from AUTHCORE_REDIS_ADDR, falling back to an in-process
// miniredis. Principals live in Postgres when AUTHCORE_DATABASE_URL is set,
// otherwise in memory with alice@example.com seeded from
// AUTHCORE_SEED_PASSWORD.
//
//	GET  /csrf                    issue a double-submit token
//	GET  /healthz
//	POST /login                   {"identifier","password"}
//	POST /refresh                 rotates the refresh_token cookie
//	POST /logout
//	POST /password                {"old_password","new_password"} (bearer)
//	POST /password/reset          {"identifier"}
//	POST /password/reset/confirm  {"token","new_password"}
//	POST /verify/confirm          {"token"}
//	GET  /me                      (bearer)
//	GET  /metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authcore-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, closeRedis, err := openRedis(cfg.RedisAddr, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	principals, closeStore, err := openPrincipals(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := authcore.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithPrincipalStore(principals).
		WithMailer(logMailer{log: log}).
		WithAuditSink(authcore.NewSlogSink(log)).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	limiter := ratelimit.New(rdb, ratelimit.Options{
		Prefix:    "rl_http",
		OpTimeout: cfg.Engine.Store.OpTimeout,
		Logger:    log,
	})

	srv, err := newServer(engine, limiter, cfg, log)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("server.start", "addr", cfg.Addr, "read_only", cfg.ReadOnly)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server.stop", "reason", "signal")
	case err := <-errCh:
		log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("server.shutdown.fail", "err", err)
		return err
	}
	log.Info("server.stopped")
	return nil
}

func openRedis(addr string, log *slog.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		log.Info("redis.connect", "addr", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	log.Warn("redis.embedded", "addr", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openPrincipals(ctx context.Context, cfg serverConfig, log *slog.Logger) (principal.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := principal.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("principals.postgres")
		return store, pool.Close, nil
	}

	store := principal.NewMemoryStore()
	if cfg.SeedPassword != "" {
		if err := seedPrincipal(ctx, store, cfg.Engine.Password, "alice@example.com", cfg.SeedPassword); err != nil {
			return nil, nil, err
		}
		log.Info("principals.seeded", "identifier", "alice@example.com")
	}
	log.Warn("principals.memory")
	return store, func() {}, nil
}

func seedPrincipal(ctx context.Context, store *principal.MemoryStore, pcfg password.Config, identifier, secret string) error {
	hasher, err := password.NewHasher(pcfg)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("seed password: %w", err)
	}
	_, err = store.Create(ctx, principal.Principal{
		ID:           "user-1",
		Identifier:   identifier,
		PasswordHash: hash,
	})
	return err
}

// logMailer stands in for a mail relay. Tokens are only logged at debug.
type logMailer struct {
	log *slog.Logger
}

func (m logMailer) SendVerification(ctx context.Context, to, token string) error {
	m.log.InfoContext(ctx, "mail.verification", "to", to)
	m.log.DebugContext(ctx, "mail.verification.token", "token", token)
	return nil
}

func (m logMailer) SendPasswordReset(ctx context.Context, to, token string) error {
	m.log.InfoContext(ctx, "mail.password_reset", "to", to)
	m.log.DebugContext(ctx, "mail.password_reset.token", "token", token)
	return nil
}
