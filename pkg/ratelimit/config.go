package ratelimit

import (
	"time"
)

// Config holds the per-category limits.
type Config struct {
	Limits map[string]RateLimit `json:"limits"`

	// Redis key prefix for window counters
	RedisKeyPrefix string `json:"redisKeyPrefix"`

	// Enable/disable rate limiting
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns a default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		Limits: map[string]RateLimit{
			// Start/pause/resume/stop/cancel
			CategoryTripCommands: {Requests: 30, Window: time.Minute},

			// Batched sample uploads from devices without a stream
			CategorySamples: {Requests: 300, Window: time.Minute},

			// Vehicle registration, reminder policies, odometer rebuilds
			CategoryWrites: {Requests: 30, Window: time.Minute},

			CategoryDefault: {Requests: 120, Window: time.Minute},
		},
		RedisKeyPrefix: "ratelimit:",
		Enabled:        true,
	}
}

// LimitFor returns the limit of category, falling back to the default.
func (c *Config) LimitFor(category string) RateLimit {
	if limit, ok := c.Limits[category]; ok && limit.Requests > 0 && limit.Window > 0 {
		return limit
	}
	if limit, ok := c.Limits[CategoryDefault]; ok && limit.Requests > 0 && limit.Window > 0 {
		return limit
	}
	return RateLimit{Requests: 60, Window: time.Minute}
}
