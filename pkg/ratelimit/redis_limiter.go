package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript counts a request in the current window and returns the count
// and the milliseconds left in the window.
var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// ClientProvider hands out the live go-redis client. The connection wrapper
// replaces it after a reconnect.
type ClientProvider interface {
	GetClient() *redis.Client
}

// RedisRateLimiter implements RateLimiter with one counter per client,
// category and window, shared across server instances.
type RedisRateLimiter struct {
	client ClientProvider
	config *Config
	stats  RateLimiterStats
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter
func NewRedisRateLimiter(client ClientProvider, config *Config) *RedisRateLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisRateLimiter{client: client, config: config}
}

// Allow checks if a request should be allowed based on rate limits
func (r *RedisRateLimiter) Allow(ctx context.Context, clientID, category string) (Decision, error) {
	limit := r.config.LimitFor(category)
	if !r.config.Enabled {
		return Decision{Allowed: true, Remaining: limit.Requests}, nil
	}

	atomic.AddInt64(&r.stats.TotalRequests, 1)

	client := r.client.GetClient()
	if client == nil {
		return Decision{}, fmt.Errorf("redis client not initialized")
	}

	key := fmt.Sprintf("%s%s:%s", r.config.RedisKeyPrefix, category, clientID)
	result, err := windowScript.Run(ctx, client, []string{key}, limit.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("unexpected script result %v", result)
	}

	count, ttl := int(result[0]), time.Duration(result[1])*time.Millisecond
	if count > limit.Requests {
		atomic.AddInt64(&r.stats.BlockedRequests, 1)
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: limit.Requests - count}, nil
}

func (r *RedisRateLimiter) Limit(category string) RateLimit {
	return r.config.LimitFor(category)
}

// GetStats returns current rate limiter statistics
func (r *RedisRateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		TotalRequests:   atomic.LoadInt64(&r.stats.TotalRequests),
		BlockedRequests: atomic.LoadInt64(&r.stats.BlockedRequests),
	}
}
