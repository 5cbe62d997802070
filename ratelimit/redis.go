package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, counts what is left and admits the request
// when under the limit. It runs atomically on the server.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_size_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)

	if count < limit then
		local counter = redis.call('INCR', counter_key)
		redis.call('ZADD', key, now, now .. ':' .. counter)
		redis.call('PEXPIRE', key, window_size_ms)
		redis.call('PEXPIRE', counter_key, window_size_ms)
		return {1, limit - count - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_after = 0
	if #oldest >= 2 then
		retry_after = oldest[2] + window_size_ms - now
	end
	return {0, 0, retry_after}
`)

// RedisLimiter is a sliding window limiter over a Redis sorted set, shared
// by every process that talks to the same Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	config Config
	opts   options
}

func NewRedisLimiter(client redis.UniversalClient, config Config, opts ...Option) *RedisLimiter {
	return &RedisLimiter{client: client, config: config, opts: buildOptions(opts)}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.opts.now()
	redisKey := l.opts.prefix + key
	window := l.config.WindowSize

	raw, err := slidingWindow.Run(ctx, l.client, []string{redisKey, redisKey + ":counter"},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		l.config.RequestsPerWindow,
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: running script: %w", err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("ratelimit: unexpected result length: %d", len(raw))
	}

	res := &Result{Allowed: raw[0] == 1, Remaining: int(raw[1])}
	if !res.Allowed && raw[2] > 0 {
		res.RetryAfter = time.Duration(raw[2]) * time.Millisecond
	}
	return res, nil
}
