package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 150 * time.Millisecond

// INCR, then set the expiry only when this hit opened the window. A counter
// that somehow lost its TTL is repaired rather than left to grow forever.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var fixedWindowLua = redis.NewScript(fixedWindowScript)

// Options configures a Limiter.
type Options struct {
	// Prefix namespaces counter keys; default "rl".
	Prefix    string
	OpTimeout time.Duration
	Logger    *slog.Logger
	// OnFailOpen, if set, is called whenever a check is allowed because the
	// store failed.
	OnFailOpen func(Key, error)
}

// Decision describes one counted hit.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int
	RetryAfter time.Duration
	FailedOpen bool
}

// Limiter is safe for concurrent use by many processes sharing one Redis.
type Limiter struct {
	redis      redis.UniversalClient
	prefix     string
	timeout    time.Duration
	logger     *slog.Logger
	onFailOpen func(Key, error)
}

// New returns a limiter over rdb. The client is shared, not owned.
func New(rdb redis.UniversalClient, opts Options) *Limiter {
	if opts.Prefix == "" {
		opts.Prefix = "rl"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Limiter{
		redis:      rdb,
		prefix:     opts.Prefix,
		timeout:    opts.OpTimeout,
		logger:     opts.Logger,
		onFailOpen: opts.OnFailOpen,
	}
}

func (l *Limiter) redisKey(k Key) string {
	return l.prefix + ":" + k.Policy.Action + ":" + k.Identity
}

// Check counts one hit against k. It returns a *LimitedError once the count
// exceeds the policy limit. Keys with an empty identity are not counted.
func (l *Limiter) Check(ctx context.Context, k Key) (Decision, error) {
	if err := k.Policy.Validate(); err != nil {
		return Decision{}, err
	}
	if k.Identity == "" {
		return Decision{Allowed: true, Remaining: k.Policy.Limit}, nil
	}

	count, ttl, err := l.hit(ctx, k)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
			"action", k.Policy.Action,
			"err", err,
		)
		if l.onFailOpen != nil {
			l.onFailOpen(k, err)
		}
		return Decision{Allowed: true, Remaining: k.Policy.Limit, FailedOpen: true}, nil
	}

	d := Decision{
		Allowed:   count <= int64(k.Policy.Limit),
		Count:     count,
		Remaining: max(k.Policy.Limit-int(count), 0),
	}
	if d.Allowed {
		return d, nil
	}

	d.RetryAfter = retryAfter(ttl, k.Policy.Window)
	return d, &LimitedError{Key: k, Count: count, RetryAfter: d.RetryAfter}
}

// Allow counts one hit against every key and fails if any key is over its
// limit. All keys are counted even after one trips; when several trip, the
// longest RetryAfter wins.
func (l *Limiter) Allow(ctx context.Context, keys ...Key) error {
	var worst *LimitedError
	for _, k := range keys {
		_, err := l.Check(ctx, k)
		if err == nil {
			continue
		}
		var limited *LimitedError
		if !errors.As(err, &limited) {
			return err
		}
		if worst == nil || limited.RetryAfter > worst.RetryAfter {
			worst = limited
		}
	}
	if worst != nil {
		return worst
	}
	return nil
}

// Reset clears the counters for keys, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, keys ...Key) error {
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Identity != "" {
			redisKeys = append(redisKeys, l.redisKey(k))
		}
	}
	if len(redisKeys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.redis.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Limiter) hit(ctx context.Context, k Key) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := fixedWindowLua.Run(ctx, l.redis, []string{l.redisKey(k)}, k.Policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// retryAfter rounds the remaining TTL up to whole seconds, clamped to
// (0, window].
func retryAfter(ttl, window time.Duration) time.Duration {
	d := ((ttl + time.Second - 1) / time.Second) * time.Second
	if d <= 0 {
		d = time.Second
	}
	if d > window {
		d = window
	}
	return d
}
