package middleware

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"odometer-backend/pkg/ratelimit"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware limits each client to the category's window. A limiter
// failure lets the request through.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), getClientID(c), category)
		if err != nil {
			log.Printf("Rate limiter unavailable for %s: %v", category, err)
			c.Header("X-RateLimit-Error", "Rate limiter unavailable")
			c.Next()
			return
		}

		setRateLimitHeaders(c, limiter.Limit(category), decision)

		if !decision.Allowed {
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded",
				fmt.Errorf("too many requests, try again in %v", retryAfterSeconds(decision.RetryAfter)*time.Second))
			c.Abort()
			return
		}

		c.Next()
	}
}

// getClientID prefers the authenticated user and falls back to the client IP.
func getClientID(c *gin.Context) string {
	if userID := UserID(c); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

func retryAfterSeconds(d time.Duration) time.Duration {
	return time.Duration(math.Max(1, math.Ceil(d.Seconds())))
}

// setRateLimitHeaders sets standard rate limiting headers
func setRateLimitHeaders(c *gin.Context, limit ratelimit.RateLimit, decision ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
	c.Header("X-RateLimit-Window", strconv.Itoa(int(limit.Window.Seconds())))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

	if !decision.Allowed {
		seconds := retryAfterSeconds(decision.RetryAfter)
		c.Header("Retry-After", strconv.FormatInt(int64(seconds), 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(seconds*time.Second).Unix(), 10))
	}
}
