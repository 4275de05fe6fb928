package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"odometer-backend/internal/models"
)

var (
	ErrVehicleNotFound  = errors.New("vehicle not found")
	ErrTripNotFound     = errors.New("trip not found")
	ErrOdometerConflict = errors.New("vehicle odometer changed concurrently")
	ErrReminderNotSet   = errors.New("no reminder set for item")
)

// VehicleStore persists vehicles and the per-item reminder settings.
type VehicleStore interface {
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, ownerID string) ([]*models.Vehicle, error)

	// UpdateOdometer writes next into both odometer and totalDistance, but only
	// while the committed value still equals expected. A nil expected matches a
	// vehicle that has no committed value yet.
	UpdateOdometer(ctx context.Context, id string, expected *float64, next float64) error

	// SaveReminder stores the policy months and baseline for one item. A nil
	// state removes the item's reminder entirely.
	SaveReminder(ctx context.Context, id, itemID string, months int, state *models.ReminderState) error
	MarkDistanceNotified(ctx context.Context, id, itemID string, at time.Time) error
}

// TripStore persists completed trips and the monthly aggregates.
type TripStore interface {
	// AppendTrip inserts the trip, or replaces the stored copy with the same id.
	AppendTrip(ctx context.Context, trip *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	ListTrips(ctx context.Context, vehicleID string, limit int) ([]*models.Trip, error)
	SumTripDistances(ctx context.Context, vehicleID string) (total float64, count int64, err error)

	// AddMonthlyDistance adds km to the bucket once per trip. A trip the
	// bucket already counts leaves it unchanged and the current total is
	// returned.
	AddMonthlyDistance(ctx context.Context, vehicleID, period, tripID string, km float64) (*models.MonthlyDistance, error)
	GetMonthlyDistance(ctx context.Context, vehicleID, period string) (*models.MonthlyDistance, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	VehicleStore
	TripStore
	Ping(ctx context.Context) error
}

// ValidateItemID rejects ids that cannot be used as a document field name.
func ValidateItemID(itemID string) error {
	if itemID == "" || strings.ContainsAny(itemID, ".$") {
		return fmt.Errorf("invalid maintenance item id %q", itemID)
	}
	return nil
}
