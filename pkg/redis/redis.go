package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"odometer-backend/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	healthCheckInterval = 30 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// Client wraps a go-redis client and swaps it out when the connection drops.
// Callers fetch the live client through GetClient on every use.
type Client struct {
	client        *redis.Client
	config        config.RedisConfig
	mu            sync.RWMutex
	isConnected   bool
	reconnectChan chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

type HealthStatus struct {
	IsConnected    bool          `json:"isConnected"`
	LastPing       time.Time     `json:"lastPing"`
	ResponseTime   time.Duration `json:"responseTime"`
	ConnectionInfo string        `json:"connectionInfo"`
	Error          string        `json:"error,omitempty"`
}

// NewClient connects using cfg and starts the health check and reconnect loops.
func NewClient(cfg config.RedisConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config:        cfg,
		reconnectChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.connect()
	go c.healthCheckLoop()
	go c.reconnectLoop()

	return c
}

// NewWithClient wraps an already configured go-redis client, for example one
// pointed at miniredis. No background loops are started.
func NewWithClient(rc *redis.Client) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	opts := rc.Options()
	return &Client{
		client:        rc,
		config:        config.RedisConfig{URL: "redis://" + opts.Addr, DB: opts.DB},
		isConnected:   true,
		reconnectChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (c *Client) options() (*redis.Options, error) {
	var opt *redis.Options
	if c.config.URL != "" {
		parsed, err := redis.ParseURL(c.config.URL)
		if err != nil {
			return nil, err
		}
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     fmt.Sprintf("%s:%s", c.config.Host, c.config.Port),
			Password: c.config.Password,
			DB:       c.config.DB,
		}
	}

	opt.PoolSize = c.config.PoolSize
	opt.MinIdleConns = c.config.MinIdleConns
	opt.MaxRetries = c.config.MaxRetries
	opt.MinRetryBackoff = c.config.RetryDelay
	opt.DialTimeout = c.config.DialTimeout
	opt.ReadTimeout = c.config.ReadTimeout
	opt.WriteTimeout = c.config.WriteTimeout
	opt.PoolTimeout = c.config.PoolTimeout
	return opt, nil
}

// connect builds a fresh go-redis client and records whether it answers a ping
func (c *Client) connect() {
	opt, err := c.options()
	if err != nil {
		log.Printf("Failed to parse Redis URL: %v, falling back to host:port", err)
		c.config.URL = ""
		if opt, err = c.options(); err != nil {
			log.Printf("Invalid Redis configuration: %v", err)
			return
		}
	}

	client := redis.NewClient(opt)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	c.mu.Lock()
	c.isConnected = err == nil
	c.mu.Unlock()

	if err != nil {
		log.Printf("Redis connection test failed: %v", err)
	} else {
		log.Printf("Redis connected successfully at %s", c.connectionInfo())
	}
}

// GetClient returns the Redis client instance (thread-safe)
func (c *Client) GetClient() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// IsConnected returns the current connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Ping checks the connection with the caller's context.
func (c *Client) Ping(ctx context.Context) error {
	client := c.GetClient()
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return client.Ping(ctx).Err()
}

// HealthCheck performs a health check and returns detailed status
func (c *Client) HealthCheck() HealthStatus {
	status := HealthStatus{
		IsConnected:    c.IsConnected(),
		ConnectionInfo: c.connectionInfo(),
	}

	client := c.GetClient()
	if client == nil {
		status.Error = "Redis client not initialized"
		return status
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	err := client.Ping(ctx).Err()
	status.ResponseTime = time.Since(start)
	status.LastPing = time.Now()
	status.IsConnected = err == nil

	c.mu.Lock()
	c.isConnected = status.IsConnected
	c.mu.Unlock()

	if err != nil {
		status.Error = err.Error()
		c.triggerReconnect()
	}

	return status
}

func (c *Client) connectionInfo() string {
	if c.config.URL != "" {
		if opt, err := redis.ParseURL(c.config.URL); err == nil {
			return opt.Addr
		}
	}
	return fmt.Sprintf("%s:%s", c.config.Host, c.config.Port)
}

// triggerReconnect signals the reconnection goroutine
func (c *Client) triggerReconnect() {
	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if status := c.HealthCheck(); !status.IsConnected {
				log.Printf("Redis health check failed: %s", status.Error)
			}
		}
	}
}

// reconnectLoop rebuilds the client with exponential backoff until a ping succeeds
func (c *Client) reconnectLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectChan:
			if c.IsConnected() {
				continue
			}

			log.Printf("Attempting to reconnect to Redis...")

			c.mu.Lock()
			if c.client != nil {
				c.client.Close()
			}
			c.mu.Unlock()

			c.connect()

			if c.IsConnected() {
				log.Println("Successfully reconnected to Redis")
				backoff = time.Second
				continue
			}

			log.Printf("Reconnection failed, retrying in %v", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
			c.triggerReconnect()
		}
	}
}

// Close gracefully shuts down the Redis client
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// GetConnectionStats returns connection pool statistics
func (c *Client) GetConnectionStats() map[string]interface{} {
	client := c.GetClient()
	if client == nil {
		return map[string]interface{}{
			"error": "Redis client not initialized",
		}
	}

	stats := client.PoolStats()
	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"totalConns":  stats.TotalConns,
		"idleConns":   stats.IdleConns,
		"staleConns":  stats.StaleConns,
		"isConnected": c.IsConnected(),
	}
}
