// Command authcore-loadtest drives concurrent refresh rotation and rate-limit
// checks against Redis (or an in-process miniredis) and reports latency
// percentiles. Every refresh token is raced by several workers; more than one
// winner per token is reported as a violation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/principal"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		subjects    = flag.Int("subjects", 1000, "number of principals to seed")
		racers      = flag.Int("racers", 4, "concurrent rotations per refresh token")
		concurrency = flag.Int("concurrency", 128, "worker goroutines per phase")
		ops         = flag.Int("ops", 100000, "rate-limit checks to run")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *subjects <= 0 || *racers <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, racers, concurrency, and ops must be > 0")
		os.Exit(2)
	}
	if err := run(*subjects, *racers, *concurrency, *ops, *redisAddr); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(subjects, racers, concurrency, ops int, addr string) error {
	ctx := context.Background()

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = []byte("loadtest-secret-loadtest-secret!")
	cfg.RateLimit.Enabled = false
	cfg.Store.Prefix = "authcore_lt"
	cfg.Store.OpTimeout = time.Second
	cfg.Store.RotateTimeout = 5 * time.Second

	principals := principal.NewMemoryStore()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalStore(principals).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	fmt.Printf("seeding %d refresh tokens...\n", subjects)
	start := time.Now()
	tokens := make([]string, subjects)
	for i := range tokens {
		p, err := principals.Create(ctx, principal.Principal{
			ID:           fmt.Sprintf("lt-%d", i),
			Identifier:   fmt.Sprintf("lt-%d@example.com", i),
			PasswordHash: "unused",
		})
		if err != nil {
			return err
		}
		rt, err := engine.IssueRefresh(ctx, p)
		if err != nil {
			return fmt.Errorf("issue refresh: %w", err)
		}
		tokens[i] = rt.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))

	rotate, violations := runRotatePhase(ctx, engine, tokens, racers, concurrency)

	limiter := ratelimit.New(client, ratelimit.Options{Prefix: "rl_lt", OpTimeout: time.Second})
	limit := runLimitPhase(ctx, limiter, ops, concurrency)

	fmt.Println("---- results ----")
	printStats("rotate", rotate)
	printStats("ratelimit", limit)
	if violations > 0 {
		return fmt.Errorf("%d refresh tokens rotated more than once", violations)
	}
	fmt.Println("rotation: exactly one winner per token")
	return nil
}

type rotateJob struct {
	token   string
	winners *int32
}

func runRotatePhase(ctx context.Context, engine *authcore.Engine, tokens []string, racers, concurrency int) (phaseStats, int) {
	jobs := make(chan rotateJob, concurrency)
	winners := make([]int32, len(tokens))

	var (
		wg        sync.WaitGroup
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(tokens)*racers)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				t0 := time.Now()
				_, err := engine.RotateRefresh(ctx, job.token)
				d := time.Since(t0)
				switch {
				case err == nil:
					atomic.AddInt32(job.winners, 1)
				case errors.Is(err, authcore.ErrRevoked):
				default:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}

	for i, tok := range tokens {
		for r := 0; r < racers; r++ {
			jobs <- rotateJob{token: tok, winners: &winners[i]}
		}
	}
	close(jobs)
	wg.Wait()
	total := time.Since(start)

	violations := 0
	for _, n := range winners {
		if n > 1 {
			violations++
		}
	}
	return computeStats(total, latencies, failures), violations
}

func runLimitPhase(ctx context.Context, limiter *ratelimit.Limiter, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				key := ratelimit.For(ratelimit.LoginByIP, fmt.Sprintf("10.0.%d.%d", r.Intn(256), r.Intn(256)))
				t0 := time.Now()
				dec, err := limiter.Check(ctx, key)
				d := time.Since(t0)
				if err != nil || dec.FailedOpen {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
