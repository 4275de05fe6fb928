// Package memory keeps vehicles, trips and monthly aggregates in process
// memory. It backs local runs with STORE_DRIVER=memory and service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*models.Vehicle
	trips    map[string]*models.Trip
	monthly  map[string]*models.MonthlyDistance
	counted  map[string]bool
}

func NewStore() *Store {
	return &Store{
		vehicles: make(map[string]*models.Vehicle),
		trips:    make(map[string]*models.Trip),
		monthly:  make(map[string]*models.MonthlyDistance),
		counted:  make(map[string]bool),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateVehicle(_ context.Context, vehicle *models.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	if vehicle.Reminders == nil {
		vehicle.Reminders = map[string]int{}
	}
	if vehicle.ReminderStates == nil {
		vehicle.ReminderStates = map[string]models.ReminderState{}
	}
	vehicle.CreatedAt = time.Now()
	vehicle.UpdatedAt = vehicle.CreatedAt

	s.vehicles[vehicle.ID] = copyVehicle(vehicle)
	return nil
}

func (s *Store) GetVehicle(_ context.Context, id string) (*models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, repository.ErrVehicleNotFound
	}
	return copyVehicle(v), nil
}

func (s *Store) ListVehicles(_ context.Context, ownerID string) ([]*models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Vehicle
	for _, v := range s.vehicles {
		if v.OwnerID == ownerID {
			out = append(out, copyVehicle(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateOdometer(_ context.Context, id string, expected *float64, next float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return repository.ErrVehicleNotFound
	}

	current, committed := v.CommittedOdometer()
	switch {
	case expected == nil && committed:
		return repository.ErrOdometerConflict
	case expected != nil && (!committed || current != *expected):
		return repository.ErrOdometerConflict
	}

	total := next
	v.Odometer = next
	v.TotalDistance = &total
	v.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SaveReminder(_ context.Context, id, itemID string, months int, state *models.ReminderState) error {
	if err := repository.ValidateItemID(itemID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return repository.ErrVehicleNotFound
	}
	if state == nil {
		delete(v.Reminders, itemID)
		delete(v.ReminderStates, itemID)
	} else {
		v.Reminders[itemID] = months
		v.ReminderStates[itemID] = *state
	}
	v.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkDistanceNotified(_ context.Context, id, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return repository.ErrVehicleNotFound
	}
	state, ok := v.ReminderStates[itemID]
	if !ok {
		return repository.ErrReminderNotSet
	}
	state.DistanceNotified = true
	state.NotifiedAt = &at
	v.ReminderStates[itemID] = state
	return nil
}

func (s *Store) AppendTrip(_ context.Context, trip *models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trips[trip.ID] = copyTrip(trip)
	return nil
}

func (s *Store) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trip, ok := s.trips[id]
	if !ok {
		return nil, repository.ErrTripNotFound
	}
	return copyTrip(trip), nil
}

func (s *Store) ListTrips(_ context.Context, vehicleID string, limit int) ([]*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Trip
	for _, trip := range s.trips {
		if trip.VehicleID == vehicleID {
			out = append(out, copyTrip(trip))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SumTripDistances(_ context.Context, vehicleID string) (float64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	var count int64
	for _, trip := range s.trips {
		if trip.VehicleID == vehicleID {
			total += trip.Distance
			count++
		}
	}
	return total, count, nil
}

func (s *Store) AddMonthlyDistance(_ context.Context, vehicleID, period, tripID string, km float64) (*models.MonthlyDistance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := vehicleID + ":" + period
	m, ok := s.monthly[key]
	if !ok {
		m = &models.MonthlyDistance{VehicleID: vehicleID, Period: period, CreatedAt: now}
		s.monthly[key] = m
	}
	if !s.counted[tripID] {
		s.counted[tripID] = true
		m.TotalDistance += km
		m.UpdatedAt = now
	}

	out := *m
	return &out, nil
}

func (s *Store) GetMonthlyDistance(_ context.Context, vehicleID, period string) (*models.MonthlyDistance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monthly[vehicleID+":"+period]
	if !ok {
		return &models.MonthlyDistance{VehicleID: vehicleID, Period: period}, nil
	}
	out := *m
	return &out, nil
}

func copyVehicle(v *models.Vehicle) *models.Vehicle {
	out := *v
	if v.TotalDistance != nil {
		total := *v.TotalDistance
		out.TotalDistance = &total
	}
	out.Reminders = make(map[string]int, len(v.Reminders))
	for k, m := range v.Reminders {
		out.Reminders[k] = m
	}
	out.ReminderStates = make(map[string]models.ReminderState, len(v.ReminderStates))
	for k, st := range v.ReminderStates {
		out.ReminderStates[k] = st
	}
	return &out
}

func copyTrip(t *models.Trip) *models.Trip {
	out := *t
	out.Path = append([]models.PathPoint(nil), t.Path...)
	if t.StartLocation != nil {
		start := *t.StartLocation
		out.StartLocation = &start
	}
	if t.EndLocation != nil {
		end := *t.EndLocation
		out.EndLocation = &end
	}
	return &out
}

var _ repository.Store = (*Store)(nil)
