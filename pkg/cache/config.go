package cache

import "time"

// CacheConfig holds configuration for cache TTL values and key layout
type CacheConfig struct {
	VehicleDataTTL    time.Duration `json:"vehicleDataTTL"`
	VehicleListTTL    time.Duration `json:"vehicleListTTL"`
	HistoricalDataTTL time.Duration `json:"historicalDataTTL"` // monthly aggregates, trip lists
	KeyPrefix         string        `json:"keyPrefix"`
	TagPrefix         string        `json:"tagPrefix"`
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		VehicleDataTTL:    30 * time.Second,
		VehicleListTTL:    2 * time.Minute,
		HistoricalDataTTL: 10 * time.Minute,
		KeyPrefix:         "odometer:",
		TagPrefix:         "odometer_tag:",
	}
}

// GetTTLForDataType returns appropriate TTL based on data type
func (c CacheConfig) GetTTLForDataType(dataType string) time.Duration {
	switch dataType {
	case "vehicle_list":
		return c.VehicleListTTL
	case "historical":
		return c.HistoricalDataTTL
	default:
		return c.VehicleDataTTL
	}
}

// tagTTL outlives every data TTL so tags never vanish before their keys.
func (c CacheConfig) tagTTL() time.Duration {
	ttl := c.VehicleDataTTL
	for _, d := range []time.Duration{c.VehicleListTTL, c.HistoricalDataTTL} {
		if d > ttl {
			ttl = d
		}
	}
	return 2 * ttl
}
