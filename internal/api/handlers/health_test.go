package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"odometer-backend/internal/repository/memory"
	"odometer-backend/pkg/cache"
	"odometer-backend/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downStore struct {
	*memory.Store
}

func (downStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func healthCheck(t *testing.T, handler *HealthHandler) (int, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", handler.HealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealthCheckWithoutRedis(t *testing.T) {
	code, resp := healthCheck(t, NewHealthHandler(memory.NewStore(), "memory", nil))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	redisStatus := resp.Services["redis"].(map[string]interface{})
	assert.Equal(t, "Disabled", redisStatus["message"])
}

func TestHealthCheckWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer client.Close()

	code, resp := healthCheck(t, NewHealthHandler(memory.NewStore(), "memory", client))

	assert.Equal(t, http.StatusOK, code)
	redisStatus := resp.Services["redis"].(map[string]interface{})
	assert.Equal(t, true, redisStatus["healthy"])
}

func TestHealthCheckReportsCacheStats(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer client.Close()

	manager := cache.NewRedisCacheManager(client, cache.DefaultCacheConfig())
	ctx := context.Background()
	_, err := manager.GetVehicle(ctx, "v1")
	require.NoError(t, err)

	handler := NewHealthHandler(memory.NewStore(), "memory", client)
	handler.SetCacheManager(manager)
	code, resp := healthCheck(t, handler)

	assert.Equal(t, http.StatusOK, code)
	cacheStatus := resp.Services["cache"].(map[string]interface{})
	assert.Equal(t, true, cacheStatus["healthy"])
	stats := cacheStatus["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["totalMisses"])
	assert.Equal(t, float64(1), stats["missRate"])
}

func TestHealthCheckStoreDown(t *testing.T) {
	code, resp := healthCheck(t, NewHealthHandler(downStore{memory.NewStore()}, "postgres", nil))

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	storeStatus := resp.Services["store"].(map[string]interface{})
	assert.Equal(t, "postgres", storeStatus["service"])
	assert.Equal(t, "connection refused", storeStatus["error"])
}
