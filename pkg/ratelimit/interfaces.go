package ratelimit

import (
	"context"
	"time"
)

// Request categories. Each route group is limited against one of these.
const (
	CategoryTripCommands = "trip_commands"
	CategorySamples      = "samples"
	CategoryWrites       = "writes"
	CategoryDefault      = "default"
)

// RateLimiter decides whether a client may make another request in a category.
type RateLimiter interface {
	Allow(ctx context.Context, clientID, category string) (Decision, error)
	Limit(category string) RateLimit
	GetStats() RateLimiterStats
}

// RateLimit is a fixed window: at most Requests per Window.
type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

type RateLimiterStats struct {
	TotalRequests   int64 `json:"totalRequests"`
	BlockedRequests int64 `json:"blockedRequests"`
}
