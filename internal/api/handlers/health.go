package handlers

import (
	"context"
	"net/http"
	"time"

	"odometer-backend/internal/repository"
	"odometer-backend/pkg/cache"
	"odometer-backend/pkg/redis"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	store        repository.Store
	storeDriver  string
	redisClient  *redis.Client
	cacheManager cache.CacheManager
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]interface{} `json:"services"`
}

// NewHealthHandler reports on the store and Redis. A nil redisClient means
// the server runs without Redis and is not counted as a failure.
func NewHealthHandler(store repository.Store, storeDriver string, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		store:       store,
		storeDriver: storeDriver,
		redisClient: redisClient,
	}
}

// SetCacheManager adds the vehicle cache and its hit statistics to the report
func (h *HealthHandler) SetCacheManager(cacheManager cache.CacheManager) {
	h.cacheManager = cacheManager
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Timestamp: time.Now(),
		Services:  make(map[string]interface{}),
	}

	overallHealthy := true

	storeStatus := h.checkStore(c.Request.Context())
	response.Services["store"] = storeStatus
	if !storeStatus["healthy"].(bool) {
		overallHealthy = false
	}

	redisStatus := h.checkRedis()
	response.Services["redis"] = redisStatus
	if !redisStatus["healthy"].(bool) {
		overallHealthy = false
	}

	if h.cacheManager != nil {
		cacheStatus := h.checkCache(c.Request.Context())
		response.Services["cache"] = cacheStatus
		if !cacheStatus["healthy"].(bool) {
			overallHealthy = false
		}
	}

	if overallHealthy {
		response.Status = "healthy"
		c.JSON(http.StatusOK, response)
	} else {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
	}
}

func (h *HealthHandler) checkStore(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service": h.storeDriver,
		"healthy": false,
	}

	if h.store == nil {
		status["error"] = "Store not initialized"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		status["error"] = err.Error()
	} else {
		status["healthy"] = true
		status["message"] = "Connected"
	}
	return status
}

func (h *HealthHandler) checkRedis() map[string]interface{} {
	status := map[string]interface{}{
		"service": "redis",
		"healthy": false,
	}

	if h.redisClient == nil {
		status["healthy"] = true
		status["message"] = "Disabled"
		return status
	}

	healthStatus := h.redisClient.HealthCheck()
	status["healthy"] = healthStatus.IsConnected
	status["connectionInfo"] = healthStatus.ConnectionInfo
	status["responseTime"] = healthStatus.ResponseTime.String()
	status["lastPing"] = healthStatus.LastPing

	if healthStatus.Error != "" {
		status["error"] = healthStatus.Error
	}

	status["connectionStats"] = h.redisClient.GetConnectionStats()
	return status
}

func (h *HealthHandler) checkCache(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service": "vehicle-cache",
		"healthy": false,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.cacheManager.HealthCheck(ctx); err != nil {
		status["error"] = err.Error()
		return status
	}
	status["healthy"] = true
	status["stats"] = h.cacheManager.GetCacheStats(ctx)
	return status
}
