// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const redisKeyPrefix = "authcore:otp-requests:"

// Increments the counter and starts the window on the first hit.
// Returns {count, remaining ttl in ms}.
var hitLua = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps counters in Redis. Key expiry ends the window.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Hit, error) {
	res, err := hitLua.Run(ctx, s.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Hit{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Hit{}, fmt.Errorf("%w: unexpected script result %v", ErrRedisUnavailable, res)
	}

	remaining := time.Duration(res[1]) * time.Millisecond
	return Hit{
		Count:       int(res[0]),
		WindowStart: now.Add(remaining - window),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
