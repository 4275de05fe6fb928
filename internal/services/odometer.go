package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"odometer-backend/internal/config"
	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"
	"odometer-backend/pkg/cache"
)

const maxConflictRetries = 3

// PendingTrip carries a finished trip through reconciliation. It remembers
// which writes have landed so a retry resumes where the last attempt failed
// and never counts the same distance twice.
type PendingTrip struct {
	Trip *models.Trip

	tripWritten     bool
	odometerApplied bool
	periodApplied   bool

	previousOdometer float64
	newOdometer      float64
	monthly          *models.MonthlyDistance

	// set when an odometer write failed without saying whether it landed
	attemptedFrom *float64
	attemptedTo   float64
}

func NewPendingTrip(trip *models.Trip) *PendingTrip {
	return &PendingTrip{Trip: trip}
}

// Started reports whether any write for this trip has been persisted.
func (p *PendingTrip) Started() bool {
	return p.tripWritten
}

type Reconciliation struct {
	Trip             *models.Trip            `json:"trip"`
	PreviousOdometer float64                 `json:"previousOdometer"`
	NewOdometer      float64                 `json:"newOdometer"`
	Monthly          *models.MonthlyDistance `json:"monthly"`
}

// OdometerReconciler merges finished trips into the vehicle odometer and the
// monthly aggregates. The trip record is written first so a crash before the
// total update can be repaired with Rebuild.
type OdometerReconciler struct {
	store          repository.Store
	cacheManager   cache.CacheManager
	periodLocation *time.Location
	retryAttempts  int
	retryBackoff   time.Duration

	mu           sync.Mutex
	bootstrapped map[string]float64 // trip sums for vehicles with no committed total
}

func NewOdometerReconciler(store repository.Store, cfg config.TrackingConfig) *OdometerReconciler {
	loc := cfg.PeriodLocation
	if loc == nil {
		loc = time.UTC
	}
	return &OdometerReconciler{
		store:          store,
		periodLocation: loc,
		retryAttempts:  cfg.RetryAttempts,
		retryBackoff:   cfg.RetryBackoff,
		bootstrapped:   make(map[string]float64),
	}
}

// SetCacheManager allows invalidating cached vehicles after writes
func (r *OdometerReconciler) SetCacheManager(cacheManager cache.CacheManager) {
	r.cacheManager = cacheManager
}

// CommittedOdometer returns the vehicle's persisted total. Vehicles without
// one fall back to the sum of their trips, computed once and remembered until
// a canonical total is written.
func (r *OdometerReconciler) CommittedOdometer(ctx context.Context, vehicle *models.Vehicle) (float64, error) {
	if current, ok := vehicle.CommittedOdometer(); ok {
		return current, nil
	}

	r.mu.Lock()
	sum, ok := r.bootstrapped[vehicle.ID]
	r.mu.Unlock()
	if ok {
		return sum, nil
	}

	sum, _, err := r.store.SumTripDistances(ctx, vehicle.ID)
	if err != nil {
		return 0, fmt.Errorf("sum trips for vehicle %s: %w", vehicle.ID, err)
	}
	sum = models.RoundDistance(sum)

	r.mu.Lock()
	r.bootstrapped[vehicle.ID] = sum
	r.mu.Unlock()
	return sum, nil
}

// Reconcile persists the trip, the new odometer and the monthly bucket. On
// failure the pending trip keeps its progress and can be passed in again.
func (r *OdometerReconciler) Reconcile(ctx context.Context, pending *PendingTrip) (*Reconciliation, error) {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := r.retryBackoff * time.Duration(1<<(attempt-1))
			log.Printf("Retrying trip %s save in %v (attempt %d/%d): %v", pending.Trip.ID, backoff, attempt+1, attempts, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTripSaveFailed, ctx.Err())
			}
		}

		if lastErr = r.reconcileOnce(ctx, pending); lastErr == nil {
			return &Reconciliation{
				Trip:             pending.Trip,
				PreviousOdometer: pending.previousOdometer,
				NewOdometer:      pending.newOdometer,
				Monthly:          pending.monthly,
			}, nil
		}
		if errors.Is(lastErr, repository.ErrVehicleNotFound) {
			break
		}
	}

	log.Printf("Failed to save trip %s for vehicle %s: %v", pending.Trip.ID, pending.Trip.VehicleID, lastErr)
	return nil, fmt.Errorf("%w: %v", ErrTripSaveFailed, lastErr)
}

func (r *OdometerReconciler) reconcileOnce(ctx context.Context, p *PendingTrip) error {
	trip := p.Trip

	if !p.tripWritten {
		if err := r.store.AppendTrip(ctx, trip); err != nil {
			return fmt.Errorf("append trip: %w", err)
		}
		p.tripWritten = true
	}

	if !p.odometerApplied {
		previous, next, err := r.applyOdometer(ctx, p)
		if err != nil {
			return err
		}
		p.previousOdometer = previous
		p.newOdometer = next
		p.odometerApplied = true
		p.attemptedFrom = nil
		r.invalidate(ctx, trip.VehicleID)
	}

	if !p.periodApplied {
		period := models.PeriodKey(trip.Date, r.periodLocation)
		monthly, err := r.store.AddMonthlyDistance(ctx, trip.VehicleID, period, trip.ID, trip.Distance)
		if err != nil {
			return fmt.Errorf("update monthly distance %s: %w", period, err)
		}
		p.monthly = monthly
		p.periodApplied = true
	}

	return nil
}

// applyOdometer adds the trip to the committed total with a conditional write,
// re-reading the vehicle when another writer got there first. A write that
// failed on an earlier attempt may still have landed; finding the total it
// tried to write means it did.
func (r *OdometerReconciler) applyOdometer(ctx context.Context, p *PendingTrip) (float64, float64, error) {
	trip := p.Trip
	for i := 0; i < maxConflictRetries; i++ {
		vehicle, err := r.store.GetVehicle(ctx, trip.VehicleID)
		if err != nil {
			return 0, 0, fmt.Errorf("load vehicle: %w", err)
		}

		current, committed := vehicle.CommittedOdometer()
		if p.attemptedFrom != nil && committed && current == p.attemptedTo {
			log.Printf("Odometer write for trip %s had landed, not applying it again", trip.ID)
			r.forgetBootstrap(trip.VehicleID)
			return *p.attemptedFrom, p.attemptedTo, nil
		}

		var expected *float64
		var previous, next float64
		if committed {
			expected = &current
			previous = current
			next = models.RoundDistance(current + trip.Distance)
		} else {
			// the trip is already persisted, so the sum includes it
			sum, _, err := r.store.SumTripDistances(ctx, trip.VehicleID)
			if err != nil {
				return 0, 0, fmt.Errorf("sum trips: %w", err)
			}
			next = models.RoundDistance(sum)
			previous = models.RoundDistance(next - trip.Distance)
		}

		err = r.store.UpdateOdometer(ctx, trip.VehicleID, expected, next)
		if errors.Is(err, repository.ErrOdometerConflict) {
			log.Printf("Odometer for vehicle %s changed concurrently, re-reading", trip.VehicleID)
			continue
		}
		if err != nil {
			p.attemptedFrom = &previous
			p.attemptedTo = next
			return 0, 0, fmt.Errorf("update odometer: %w", err)
		}

		r.forgetBootstrap(trip.VehicleID)
		return previous, next, nil
	}
	return 0, 0, repository.ErrOdometerConflict
}

func (r *OdometerReconciler) forgetBootstrap(vehicleID string) {
	r.mu.Lock()
	delete(r.bootstrapped, vehicleID)
	r.mu.Unlock()
}

// Rebuild recomputes the vehicle total as base plus the sum of every stored
// trip. It repairs a total left behind by a crash between the trip write and
// the odometer update.
func (r *OdometerReconciler) Rebuild(ctx context.Context, vehicleID string, base float64) (float64, error) {
	if base < 0 {
		base = 0
	}

	for i := 0; i < maxConflictRetries; i++ {
		vehicle, err := r.store.GetVehicle(ctx, vehicleID)
		if err != nil {
			return 0, err
		}
		sum, count, err := r.store.SumTripDistances(ctx, vehicleID)
		if err != nil {
			return 0, fmt.Errorf("sum trips for vehicle %s: %w", vehicleID, err)
		}

		var expected *float64
		if current, ok := vehicle.CommittedOdometer(); ok {
			expected = &current
		}
		next := models.RoundDistance(base + sum)

		err = r.store.UpdateOdometer(ctx, vehicleID, expected, next)
		if errors.Is(err, repository.ErrOdometerConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("rebuild odometer for vehicle %s: %w", vehicleID, err)
		}

		r.forgetBootstrap(vehicleID)
		r.invalidate(ctx, vehicleID)

		log.Printf("Rebuilt odometer for vehicle %s from %d trips: %.2f km", vehicleID, count, next)
		return next, nil
	}
	return 0, repository.ErrOdometerConflict
}

func (r *OdometerReconciler) invalidate(ctx context.Context, vehicleID string) {
	if r.cacheManager == nil {
		return
	}
	if err := r.cacheManager.InvalidateVehicle(ctx, vehicleID); err != nil {
		log.Printf("Failed to invalidate vehicle cache for %s: %v", vehicleID, err)
	}
}
