package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"odometer-backend/internal/models"
	"odometer-backend/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCacheManager implements CacheManager using Redis
type RedisCacheManager struct {
	client *redis.Client
	config CacheConfig
	stats  *cacheStats
}

type cacheStats struct {
	mu            sync.RWMutex
	totalHits     int64
	totalMisses   int64
	evictionCount int64
}

func NewRedisCacheManager(client *redis.Client, config CacheConfig) *RedisCacheManager {
	return &RedisCacheManager{
		client: client,
		config: config,
		stats:  &cacheStats{},
	}
}

func (r *RedisCacheManager) GetVehicle(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	found, err := r.getJSON(ctx, r.buildKey("vehicle", vehicleID), &vehicle)
	if err != nil || !found {
		return nil, err
	}
	return &vehicle, nil
}

func (r *RedisCacheManager) SetVehicle(ctx context.Context, vehicle *models.Vehicle, ttl time.Duration) error {
	key := r.buildKey("vehicle", vehicle.ID)
	if err := r.setJSON(ctx, key, vehicle, ttl); err != nil {
		return fmt.Errorf("failed to set vehicle in cache: %w", err)
	}

	if err := r.TagKey(ctx, key, VehicleTag(vehicle.ID), OwnerTag(vehicle.OwnerID)); err != nil {
		log.Printf("Warning: failed to tag cache key %s: %v", key, err)
	}
	return nil
}

func (r *RedisCacheManager) InvalidateVehicle(ctx context.Context, vehicleID string) error {
	return r.InvalidateByTag(ctx, VehicleTag(vehicleID))
}

func (r *RedisCacheManager) GetVehicleList(ctx context.Context, ownerID string) ([]*models.Vehicle, error) {
	var vehicles []*models.Vehicle
	found, err := r.getJSON(ctx, r.buildKey("vehicle_list", ownerID), &vehicles)
	if err != nil || !found {
		return nil, err
	}
	return vehicles, nil
}

func (r *RedisCacheManager) SetVehicleList(ctx context.Context, ownerID string, vehicles []*models.Vehicle, ttl time.Duration) error {
	key := r.buildKey("vehicle_list", ownerID)
	if err := r.setJSON(ctx, key, vehicles, ttl); err != nil {
		return fmt.Errorf("failed to set vehicle list in cache: %w", err)
	}

	tags := []string{OwnerTag(ownerID)}
	for _, vehicle := range vehicles {
		tags = append(tags, VehicleTag(vehicle.ID))
	}
	if err := r.TagKey(ctx, key, tags...); err != nil {
		log.Printf("Warning: failed to tag cache key %s: %v", key, err)
	}
	return nil
}

func (r *RedisCacheManager) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return r.getJSON(ctx, r.buildKey("generic", key), dest)
}

func (r *RedisCacheManager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	cacheKey := r.buildKey("generic", key)
	if err := r.setJSON(ctx, cacheKey, value, ttl); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	return r.TagKey(ctx, cacheKey, tags...)
}

func (r *RedisCacheManager) Delete(ctx context.Context, key string) error {
	cacheKey := r.buildKey("generic", key)
	if err := r.removeKeyTags(ctx, cacheKey); err != nil {
		log.Printf("Warning: failed to remove tags for key %s: %v", cacheKey, err)
	}
	return r.client.GetClient().Del(ctx, cacheKey).Err()
}

// TagKey associates tags with a cache key for invalidation
func (r *RedisCacheManager) TagKey(ctx context.Context, key string, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	ttl := r.config.tagTTL()
	pipe := r.client.GetClient().Pipeline()

	keyTagsKey := r.buildTagKey("key_tags", key)
	members := make([]interface{}, len(tags))
	for i, tag := range tags {
		members[i] = tag
	}
	pipe.SAdd(ctx, keyTagsKey, members...)
	pipe.Expire(ctx, keyTagsKey, ttl)

	for _, tag := range tags {
		tagKeysKey := r.buildTagKey("tag_keys", tag)
		pipe.SAdd(ctx, tagKeysKey, key)
		pipe.Expire(ctx, tagKeysKey, ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateByTag removes all keys associated with a tag
func (r *RedisCacheManager) InvalidateByTag(ctx context.Context, tag string) error {
	tagKeysKey := r.buildTagKey("tag_keys", tag)

	keys, err := r.client.GetClient().SMembers(ctx, tagKeysKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get keys for tag %s: %w", tag, err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := r.client.GetClient().Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
		pipe.Del(ctx, r.buildTagKey("key_tags", key))
	}
	pipe.Del(ctx, tagKeysKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate keys for tag %s: %w", tag, err)
	}

	r.stats.mu.Lock()
	r.stats.evictionCount += int64(len(keys))
	r.stats.mu.Unlock()
	return nil
}

// GetCacheStats returns cache performance statistics
func (r *RedisCacheManager) GetCacheStats(ctx context.Context) CacheStats {
	r.stats.mu.RLock()
	totalHits := r.stats.totalHits
	totalMisses := r.stats.totalMisses
	evictionCount := r.stats.evictionCount
	r.stats.mu.RUnlock()

	stats := CacheStats{
		EvictionCount: int(evictionCount),
		TotalHits:     totalHits,
		TotalMisses:   totalMisses,
	}
	if total := totalHits + totalMisses; total > 0 {
		stats.HitRate = float64(totalHits) / float64(total)
		stats.MissRate = float64(totalMisses) / float64(total)
	}

	client := r.client.GetClient()
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		for _, line := range strings.Split(info, "\n") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					stats.MemoryUsage = n
				}
			}
		}
	}

	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, r.config.KeyPrefix+"*", 100).Result()
		if err != nil {
			break
		}
		stats.KeyCount += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}

	return stats
}

// HealthCheck verifies cache connectivity
func (r *RedisCacheManager) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *RedisCacheManager) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.GetClient().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			r.recordMiss()
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	r.recordHit()
	return true, nil
}

func (r *RedisCacheManager) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return r.client.GetClient().Set(ctx, key, data, ttl).Err()
}

func (r *RedisCacheManager) buildKey(keyType, identifier string) string {
	return fmt.Sprintf("%s%s:%s", r.config.KeyPrefix, keyType, identifier)
}

func (r *RedisCacheManager) buildTagKey(keyType, identifier string) string {
	return fmt.Sprintf("%s%s:%s", r.config.TagPrefix, keyType, identifier)
}

func (r *RedisCacheManager) recordHit() {
	r.stats.mu.Lock()
	r.stats.totalHits++
	r.stats.mu.Unlock()
}

func (r *RedisCacheManager) recordMiss() {
	r.stats.mu.Lock()
	r.stats.totalMisses++
	r.stats.mu.Unlock()
}

func (r *RedisCacheManager) removeKeyTags(ctx context.Context, key string) error {
	keyTagsKey := r.buildTagKey("key_tags", key)

	tags, err := r.client.GetClient().SMembers(ctx, keyTagsKey).Result()
	if err != nil {
		return err
	}

	pipe := r.client.GetClient().Pipeline()
	for _, tag := range tags {
		pipe.SRem(ctx, r.buildTagKey("tag_keys", tag), key)
	}
	pipe.Del(ctx, keyTagsKey)

	_, err = pipe.Exec(ctx)
	return err
}
