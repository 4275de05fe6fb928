package models

import (
	"math"
	"time"
)

// DistancePrecision is the number of decimals kept for persisted distances.
const DistancePrecision = 2

type Trip struct {
	ID            string      `bson:"_id" json:"id"`
	VehicleID     string      `bson:"vehicle_id" json:"vehicleId"`
	UserID        string      `bson:"user_id" json:"userId"`
	StartLocation *Coordinate `bson:"start_location" json:"startLocation"`
	EndLocation   *Coordinate `bson:"end_location" json:"endLocation"`
	Distance      float64     `bson:"distance" json:"distance"`
	Path          []PathPoint `bson:"path" json:"path"`
	Date          time.Time   `bson:"date" json:"date"`
}

type PathPoint struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
	Timestamp int64   `bson:"timestamp" json:"timestamp"` // unix milliseconds
}

// MonthlyDistance is the per-vehicle aggregate keyed by (vehicle, yyyy-mm).
type MonthlyDistance struct {
	VehicleID     string    `bson:"vehicle_id" json:"vehicleId"`
	Period        string    `bson:"period" json:"period"`
	TotalDistance float64   `bson:"total_distance" json:"totalDistance"`
	TripIDs       []string  `bson:"trip_ids,omitempty" json:"-"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

// PeriodKey formats the aggregate bucket for t in loc.
func PeriodKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// RoundDistance rounds km to DistancePrecision decimals and clamps negatives to zero.
func RoundDistance(km float64) float64 {
	if km <= 0 || math.IsNaN(km) {
		return 0
	}
	scale := math.Pow(10, DistancePrecision)
	return math.Round(km*scale) / scale
}

// TripProgress is pushed to live observers after every accepted sample and
// every state change of an in-progress trip.
type TripProgress struct {
	SessionID         string    `json:"sessionId"`
	UserID            string    `json:"userId"`
	VehicleID         string    `json:"vehicleId"`
	State             string    `json:"state"`
	TripDistanceKm    float64   `json:"tripDistanceKm"`
	IncrementKm       float64   `json:"incrementKm"`
	CommittedOdometer float64   `json:"committedOdometer"`
	LiveTotalKm       float64   `json:"liveTotalKm"`
	Latitude          float64   `json:"latitude,omitempty"`
	Longitude         float64   `json:"longitude,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
