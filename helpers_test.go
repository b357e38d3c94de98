package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/principal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testIdentifier = "alice@example.com"
	testPassword   = "correct-horse-battery"
	testSubject    = "user-1"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	kind  string
	to    string
	token string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) SendVerification(_ context.Context, to, token string) error {
	return m.record("verify", to, token)
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, token string) error {
	return m.record("reset", to, token)
}

func (m *captureMailer) record(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{kind: kind, to: to, token: token})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected a mail to be sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	engine     *Engine
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	principals *principal.MemoryStore
	clock      *testClock
	mailer     *captureMailer
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = testSecret
	cfg.Token.Issuer = "authcore-test"
	cfg.Store.OpTimeout = 500 * time.Millisecond
	cfg.Store.RotateTimeout = 2 * time.Second
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	return cfg
}

func newTestEnv(t testing.TB, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		mr:         mr,
		rdb:        rdb,
		principals: principal.NewMemoryStore(),
		clock:      newTestClock(),
		mailer:     &captureMailer{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(env.principals).
		WithMailer(env.mailer).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	env.engine = engine

	env.createPrincipal(t, testSubject, testIdentifier, testPassword)
	return env
}

func (env *testEnv) createPrincipal(t testing.TB, id, identifier, secret string) principal.Principal {
	t.Helper()
	hash, err := env.engine.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	p, err := env.principals.Create(context.Background(), principal.Principal{
		ID:           id,
		Identifier:   identifier,
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("create principal: %v", err)
	}
	return p
}

func (env *testEnv) reload(t *testing.T, id string) principal.Principal {
	t.Helper()
	p, err := env.principals.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	return p
}

func (env *testEnv) login(t testing.TB) TokenPair {
	t.Helper()
	pair, err := env.engine.Login(context.Background(), testIdentifier, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}
