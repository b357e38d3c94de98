package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 150 * time.Millisecond

const putRecordScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

const takeRecordScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return false
end
redis.call("DEL", KEYS[1])
local sep = string.find(data, ":", 1, true)
if sep then
  redis.call("SREM", ARGV[1] .. string.sub(data, sep + 1), ARGV[2])
end
return data
`

const revokeSubjectScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  n = n + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return n
`

var (
	putRecordLua     = redis.NewScript(putRecordScript)
	takeRecordLua    = redis.NewScript(takeRecordScript)
	revokeSubjectLua = redis.NewScript(revokeSubjectScript)
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key; default "authcore".
	Prefix string
	// OpTimeout bounds each call; a timeout surfaces as ErrUnavailable.
	OpTimeout time.Duration
}

// RedisStore implements Store on Redis. Records live at {<prefix>}:rt:<jti>,
// the subject index at {<prefix>}:rts:<subject>. The braces are a Redis
// Cluster hash tag: every key of one store maps to a single slot, which the
// scripts need because they derive record and index keys from arguments.
type RedisStore struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore returns a store over rdb. The client is shared, not owned.
func NewRedisStore(rdb redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "authcore"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	return &RedisStore{
		redis:   rdb,
		prefix:  opts.Prefix,
		timeout: opts.OpTimeout,
	}
}

func (s *RedisStore) recordPrefix() string { return "{" + s.prefix + "}:rt:" }
func (s *RedisStore) indexPrefix() string  { return "{" + s.prefix + "}:rts:" }

func (s *RedisStore) recordKey(jti string) string {
	return s.recordPrefix() + jti
}

func (s *RedisStore) indexKey(subject string) string {
	return s.indexPrefix() + subject
}

// Put implements Store.
//
//	Performance: 1 round trip (SET PX + SADD + PEXPIRE in one script).
func (s *RedisStore) Put(ctx context.Context, jti string, rec Record, ttl time.Duration) error {
	if jti == "" || rec.Subject == "" {
		return errors.New("revocation: jti and subject required")
	}
	if ttl < time.Millisecond {
		return errors.New("revocation: ttl must be at least 1ms")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := putRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(jti), s.indexKey(rec.Subject)},
		encodeRecord(rec),
		ttl.Milliseconds(),
		jti,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Take implements Store.
//
//	Performance: 1 round trip (GET + DEL + SREM in one script).
func (s *RedisStore) Take(ctx context.Context, jti string) (Record, error) {
	if jti == "" {
		return Record{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := takeRecordLua.Run(ctx, s.redis, []string{s.recordKey(jti)}, s.indexPrefix(), jti).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return decodeRecord(data)
}

// Delete implements Store. Deleting a missing jti succeeds.
func (s *RedisStore) Delete(ctx context.Context, jti string) error {
	if _, err := s.Take(ctx, jti); err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt) {
		return err
	}
	return nil
}

// RevokeSubject implements Store.
//
//	Performance: 1 round trip; O(n) in the subject's indexed jtis.
func (s *RedisStore) RevokeSubject(ctx context.Context, subject string) (int, error) {
	if subject == "" {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := revokeSubjectLua.Run(ctx, s.redis, []string{s.indexKey(subject)}, s.recordPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Exists reports whether jti is still live. Used by diagnostics and tests; the
// rotation path relies on Take alone.
func (s *RedisStore) Exists(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.redis.Exists(ctx, s.recordKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}
