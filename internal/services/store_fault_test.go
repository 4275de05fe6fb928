package services

import (
	"context"
	"errors"
	"sync"

	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"
	"odometer-backend/internal/repository/memory"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore fails selected writes a set number of times. The lost-ack
// counters apply the write and then report a failure, like a driver timing
// out after the server committed.
type faultyStore struct {
	*memory.Store

	mu               sync.Mutex
	odometerFails    int
	odometerLostAcks int
	monthlyFails     int
	monthlyLostAcks  int
	appendCalls      int
	odometerCalls    int
	sumCalls         int
	conflictsToRun   int
}

func (f *faultyStore) AppendTrip(ctx context.Context, trip *models.Trip) error {
	f.mu.Lock()
	f.appendCalls++
	f.mu.Unlock()
	return f.Store.AppendTrip(ctx, trip)
}

func (f *faultyStore) UpdateOdometer(ctx context.Context, id string, expected *float64, next float64) error {
	f.mu.Lock()
	f.odometerCalls++
	if f.odometerFails > 0 {
		f.odometerFails--
		f.mu.Unlock()
		return errStoreDown
	}
	if f.conflictsToRun > 0 {
		f.conflictsToRun--
		f.mu.Unlock()
		return repository.ErrOdometerConflict
	}
	lost := f.odometerLostAcks > 0
	if lost {
		f.odometerLostAcks--
	}
	f.mu.Unlock()

	if err := f.Store.UpdateOdometer(ctx, id, expected, next); err != nil {
		return err
	}
	if lost {
		return errStoreDown
	}
	return nil
}

func (f *faultyStore) AddMonthlyDistance(ctx context.Context, vehicleID, period, tripID string, km float64) (*models.MonthlyDistance, error) {
	f.mu.Lock()
	if f.monthlyFails > 0 {
		f.monthlyFails--
		f.mu.Unlock()
		return nil, errStoreDown
	}
	lost := f.monthlyLostAcks > 0
	if lost {
		f.monthlyLostAcks--
	}
	f.mu.Unlock()

	monthly, err := f.Store.AddMonthlyDistance(ctx, vehicleID, period, tripID, km)
	if err != nil {
		return nil, err
	}
	if lost {
		return nil, errStoreDown
	}
	return monthly, nil
}

func (f *faultyStore) SumTripDistances(ctx context.Context, vehicleID string) (float64, int64, error) {
	f.mu.Lock()
	f.sumCalls++
	f.mu.Unlock()
	return f.Store.SumTripDistances(ctx, vehicleID)
}
