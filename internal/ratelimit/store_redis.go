package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis sorted sets. The check-and-record
// step runs as a single Lua script, so concurrent requests for the same
// key cannot both slip under the limit. Keys expire with the window, which
// handles eviction without a sweeper.
type RedisStore struct {
	client    *redis.Client
	hitScript *redis.Script
}

// Lua script for atomic sliding-window check-and-record.
// KEYS[1] = window key; ARGV = now_ms, window_ms, limit, member
// Returns {1, 0} when allowed, {0, retry_after_ms} when denied.
const hitLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)

local count = redis.call("ZCARD", key)
if count < limit then
    redis.call("ZADD", key, now, member)
    redis.call("PEXPIRE", key, window)
    return {1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry = tonumber(oldest[2]) + window - now
if retry < 0 then
    retry = 0
end
return {0, retry}
`

// NewRedisStore creates a Redis-backed store with a pre-compiled script.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		hitScript: redis.NewScript(hitLuaScript),
	}
}

// NewRedisStoreFromURL connects to Redis and verifies the connection.
func NewRedisStoreFromURL(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStore(client), nil
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	result, err := s.hitScript.Run(ctx, s.client,
		[]string{"ratelimit:" + key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}

	allowed := result[0].(int64) == 1
	retryAfter := time.Duration(result[1].(int64)) * time.Millisecond
	return allowed, retryAfter, nil
}

// RetryAfter implements Store.
func (s *RedisStore) RetryAfter(ctx context.Context, key string, limit int, window time.Duration) (time.Duration, error) {
	now := time.Now()
	rkey := "ratelimit:" + key

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, rkey)
	oldestCmd := pipe.ZRangeWithScores(ctx, rkey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit read: %w", err)
	}

	if countCmd.Val() < int64(limit) {
		return 0, nil
	}

	oldest := oldestCmd.Val()
	if len(oldest) == 0 {
		return 0, nil
	}
	retry := time.UnixMilli(int64(oldest[0].Score)).Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return retry, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, "ratelimit:"+key).Err()
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
