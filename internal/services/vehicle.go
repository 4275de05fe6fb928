package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"
	"odometer-backend/pkg/cache"
)

// VehicleService serves vehicle reads through the Redis cache and handles
// registration.
type VehicleService struct {
	store        repository.Store
	cacheManager cache.CacheManager
	cacheConfig  cache.CacheConfig
}

func NewVehicleService(store repository.Store) *VehicleService {
	return &VehicleService{
		store:       store,
		cacheConfig: cache.DefaultCacheConfig(),
	}
}

// SetCacheManager allows setting the cache manager for caching operations
func (s *VehicleService) SetCacheManager(cacheManager cache.CacheManager) {
	s.cacheManager = cacheManager
}

// SetCacheConfig allows setting custom cache configuration
func (s *VehicleService) SetCacheConfig(config cache.CacheConfig) {
	s.cacheConfig = config
}

type CreateVehicleRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=100"`
	PlateNumber string  `json:"plateNumber" validate:"omitempty,max=20"`
	Make        string  `json:"make,omitempty" validate:"omitempty,max=50"`
	Model       string  `json:"model,omitempty" validate:"omitempty,max=50"`
	Year        int     `json:"year,omitempty" validate:"omitempty,min=1900,max=2100"`
	Odometer    float64 `json:"odometer" validate:"min=0"`
}

func (s *VehicleService) CreateVehicle(ctx context.Context, ownerID string, req *CreateVehicleRequest) (*models.Vehicle, error) {
	vehicle := &models.Vehicle{
		OwnerID:        ownerID,
		Name:           req.Name,
		PlateNumber:    req.PlateNumber,
		Make:           req.Make,
		Model:          req.Model,
		Year:           req.Year,
		Odometer:       models.RoundDistance(req.Odometer),
		Reminders:      map[string]int{},
		ReminderStates: map[string]models.ReminderState{},
	}
	if err := s.store.CreateVehicle(ctx, vehicle); err != nil {
		return nil, err
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.InvalidateByTag(ctx, cache.OwnerTag(ownerID)); err != nil {
			log.Printf("Failed to invalidate vehicle list for owner %s: %v", ownerID, err)
		}
	}
	return vehicle, nil
}

// GetVehicle returns the vehicle if it belongs to ownerID.
func (s *VehicleService) GetVehicle(ctx context.Context, ownerID, id string) (*models.Vehicle, error) {
	vehicle, err := s.getVehicle(ctx, id)
	if err != nil {
		return nil, err
	}
	if vehicle.OwnerID != ownerID {
		return nil, repository.ErrVehicleNotFound
	}
	return vehicle, nil
}

func (s *VehicleService) getVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	// Try cache first if cache manager is available
	if s.cacheManager != nil {
		cached, err := s.cacheManager.GetVehicle(ctx, id)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil {
			log.Printf("Cache error for GetVehicle(%s): %v", id, err)
		}
	}

	vehicle, err := s.store.GetVehicle(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cacheManager != nil {
		ttl := s.cacheConfig.GetTTLForDataType("vehicle")
		if err := s.cacheManager.SetVehicle(ctx, vehicle, ttl); err != nil {
			log.Printf("Failed to cache vehicle %s: %v", id, err)
		}
	}
	return vehicle, nil
}

func (s *VehicleService) ListVehicles(ctx context.Context, ownerID string) ([]*models.Vehicle, error) {
	if s.cacheManager != nil {
		cached, err := s.cacheManager.GetVehicleList(ctx, ownerID)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil {
			log.Printf("Cache error for ListVehicles(%s): %v", ownerID, err)
		}
	}

	vehicles, err := s.store.ListVehicles(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if s.cacheManager != nil {
		ttl := s.cacheConfig.GetTTLForDataType("vehicle_list")
		if err := s.cacheManager.SetVehicleList(ctx, ownerID, vehicles, ttl); err != nil {
			log.Printf("Failed to cache vehicles for owner %s: %v", ownerID, err)
		}
	}
	return vehicles, nil
}

// ListTrips returns the most recent trips of an owned vehicle.
func (s *VehicleService) ListTrips(ctx context.Context, ownerID, vehicleID string, limit int) ([]*models.Trip, error) {
	if _, err := s.GetVehicle(ctx, ownerID, vehicleID); err != nil {
		return nil, err
	}
	return s.store.ListTrips(ctx, vehicleID, limit)
}

// MonthlyDistance returns the aggregate for period ("2006-01"). Historical
// buckets are cached; the current month changes with every trip and is not.
func (s *VehicleService) MonthlyDistance(ctx context.Context, ownerID, vehicleID, period string) (*models.MonthlyDistance, error) {
	if _, err := time.Parse("2006-01", period); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPeriod, period, err)
	}
	if _, err := s.GetVehicle(ctx, ownerID, vehicleID); err != nil {
		return nil, err
	}

	cacheable := period < models.PeriodKey(time.Now(), time.UTC)
	key := fmt.Sprintf("monthly:%s:%s", vehicleID, period)
	if s.cacheManager != nil && cacheable {
		var cached models.MonthlyDistance
		found, err := s.cacheManager.Get(ctx, key, &cached)
		if err == nil && found {
			return &cached, nil
		}
	}

	monthly, err := s.store.GetMonthlyDistance(ctx, vehicleID, period)
	if err != nil {
		return nil, err
	}

	if s.cacheManager != nil && cacheable {
		ttl := s.cacheConfig.GetTTLForDataType("historical")
		if err := s.cacheManager.Set(ctx, key, monthly, ttl, cache.VehicleTag(vehicleID)); err != nil {
			log.Printf("Failed to cache monthly distance %s: %v", key, err)
		}
	}
	return monthly, nil
}
