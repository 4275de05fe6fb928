package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryRateLimiter implements RateLimiter for a single instance running
// without Redis.
type MemoryRateLimiter struct {
	config    *Config
	stats     RateLimiterStats
	windows   map[string]*window // category:clientID -> current window
	lastSweep time.Time
	now       func() time.Time
	mu        sync.Mutex
}

// NewMemoryRateLimiter creates a new in-memory rate limiter
func NewMemoryRateLimiter(config *Config) *MemoryRateLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &MemoryRateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow checks if a request should be allowed based on rate limits
func (r *MemoryRateLimiter) Allow(_ context.Context, clientID, category string) (Decision, error) {
	limit := r.config.LimitFor(category)
	if !r.config.Enabled {
		return Decision{Allowed: true, Remaining: limit.Requests}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)
	r.stats.TotalRequests++

	key := category + ":" + clientID
	w, ok := r.windows[key]
	if !ok || now.Sub(w.start) >= limit.Window {
		w = &window{start: now}
		r.windows[key] = w
	}

	if w.count >= limit.Requests {
		r.stats.BlockedRequests++
		return Decision{RetryAfter: w.start.Add(limit.Window).Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: limit.Requests - w.count}, nil
}

// sweep drops windows that have ended, at most once per minute.
func (r *MemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < time.Minute {
		return
	}
	r.lastSweep = now

	longest := time.Minute
	for _, limit := range r.config.Limits {
		longest = max(longest, limit.Window)
	}
	for key, w := range r.windows {
		if now.Sub(w.start) >= longest {
			delete(r.windows, key)
		}
	}
}

func (r *MemoryRateLimiter) Limit(category string) RateLimit {
	return r.config.LimitFor(category)
}

// GetStats returns current rate limiter statistics
func (r *MemoryRateLimiter) GetStats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
