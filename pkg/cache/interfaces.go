package cache

import (
	"context"
	"time"

	"odometer-backend/internal/models"
)

// CacheManager defines the interface for caching operations
type CacheManager interface {
	// GetVehicle returns nil, nil on a miss.
	GetVehicle(ctx context.Context, vehicleID string) (*models.Vehicle, error)
	SetVehicle(ctx context.Context, vehicle *models.Vehicle, ttl time.Duration) error
	// InvalidateVehicle drops the vehicle and every entry tagged with it.
	InvalidateVehicle(ctx context.Context, vehicleID string) error

	GetVehicleList(ctx context.Context, ownerID string) ([]*models.Vehicle, error)
	SetVehicleList(ctx context.Context, ownerID string, vehicles []*models.Vehicle, ttl time.Duration) error

	// Get reports whether key was found and decoded into dest.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, key string) error

	TagKey(ctx context.Context, key string, tags ...string) error
	InvalidateByTag(ctx context.Context, tag string) error

	GetCacheStats(ctx context.Context) CacheStats
	HealthCheck(ctx context.Context) error
}

// CacheStats provides cache performance metrics
type CacheStats struct {
	HitRate       float64 `json:"hitRate"`
	MissRate      float64 `json:"missRate"`
	MemoryUsage   int64   `json:"memoryUsage"`
	KeyCount      int     `json:"keyCount"`
	EvictionCount int     `json:"evictionCount"`
	TotalHits     int64   `json:"totalHits"`
	TotalMisses   int64   `json:"totalMisses"`
}

// VehicleTag is the tag attached to every entry derived from one vehicle.
func VehicleTag(vehicleID string) string {
	return "vehicle:" + vehicleID
}

func OwnerTag(ownerID string) string {
	return "owner:" + ownerID
}
