package services

import (
	"errors"

	"odometer-backend/pkg/telemetry"
)

var (
	ErrNoVehicleSelected      = errors.New("no vehicle selected")
	ErrTripAlreadyActive      = errors.New("a trip is already active for this user")
	ErrNoActiveTrip           = errors.New("no active trip")
	ErrInvalidTransition      = errors.New("invalid trip state transition")
	ErrTripSaveFailed         = errors.New("trip save failed")
	ErrReminderScheduleFailed = errors.New("reminder schedule failed")
	ErrUnknownMaintenanceItem = errors.New("unknown maintenance item")
	ErrInvalidPeriod          = errors.New("period must be formatted as YYYY-MM")

	ErrLocationPermissionDenied = telemetry.ErrLocationPermissionDenied
)
