// Package redis provides a Redis-backed fast-path lease store used by the
// Review Queue ahead of the Response Store's compare-and-set, the same way
// the rate limiter uses a Lua script to make a read-then-write bucket update
// atomic across concurrent callers.
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaseStore implements domain.LeaseStore against Redis, using Lua scripts
// so the compare-and-set read/compare/write never races across reviewers
// hitting the same key.
type LeaseStore struct {
	client *redis.Client
	prefix string

	tryAcquire *redis.Script
	release    *redis.Script
}

// NewLeaseStore constructs a LeaseStore. prefix namespaces keys, e.g.
// "lease:review:".
func NewLeaseStore(client *redis.Client, prefix string) *LeaseStore {
	if prefix == "" {
		prefix = "lease:"
	}
	return &LeaseStore{
		client:     client,
		prefix:     prefix,
		tryAcquire: redis.NewScript(luaTryAcquire),
		release:    redis.NewScript(luaRelease),
	}
}

// luaTryAcquire sets key=holder with TTL iff the key is unset or already
// held by holder, returning 1 on success and 0 on contention.
const luaTryAcquire = `
local key = KEYS[1]
local holder = ARGV[1]
local ttl_ms = tonumber(ARGV[2])

local current = redis.call("GET", key)
if current == false or current == holder then
  redis.call("SET", key, holder, "PX", ttl_ms)
  return 1
end
return 0
`

// luaRelease clears key iff still held by holder.
const luaRelease = `
local key = KEYS[1]
local holder = ARGV[1]

local current = redis.call("GET", key)
if current == holder then
  redis.call("DEL", key)
  return 1
end
return 0
`

// TryAcquire attempts the fast-path lock. Errors fail open (returns true)
// the same way the rate limiter fails open on Redis errors: Redis is an
// optimization here, not the system of record — ResponseRepository.AcquireLease
// remains the durable compare-and-set.
func (s *LeaseStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return true, nil
	}
	res, err := s.tryAcquire.Run(ctx, s.client, []string{s.prefix + key}, holder, ttl.Milliseconds()).Result()
	if err != nil {
		slog.Error("redis lease try-acquire script error", slog.String("key", key), slog.Any("error", err))
		return true, err
	}
	return toInt64(res) == 1, nil
}

// Release clears the fast-path lock iff held by holder.
func (s *LeaseStore) Release(ctx context.Context, key, holder string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if _, err := s.release.Run(ctx, s.client, []string{s.prefix + key}, holder).Result(); err != nil {
		slog.Error("redis lease release script error", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
