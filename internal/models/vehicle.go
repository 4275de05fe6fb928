package models

import (
	"time"
)

type Vehicle struct {
	ID             string                   `bson:"_id" json:"id"`
	OwnerID        string                   `bson:"owner_id" json:"ownerId"`
	Name           string                   `bson:"name" json:"name"`
	PlateNumber    string                   `bson:"plate_number" json:"plateNumber"`
	Make           string                   `bson:"make" json:"make"`
	Model          string                   `bson:"model" json:"model"`
	Year           int                      `bson:"year" json:"year"`
	Odometer       float64                  `bson:"odometer" json:"odometer"`
	TotalDistance  *float64                 `bson:"total_distance,omitempty" json:"totalDistance,omitempty"`
	Reminders      map[string]int           `bson:"reminders" json:"reminders"`
	ReminderStates map[string]ReminderState `bson:"reminder_states" json:"reminderStates"`
	CreatedAt      time.Time                `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time                `bson:"updated_at" json:"updatedAt"`
}

// CommittedOdometer returns the canonical persisted distance. totalDistance wins
// when present; otherwise a non-zero odometer from registration is used. The
// second result is false when neither field carries a value.
func (v *Vehicle) CommittedOdometer() (float64, bool) {
	if v.TotalDistance != nil {
		return *v.TotalDistance, true
	}
	if v.Odometer > 0 {
		return v.Odometer, true
	}
	return 0, false
}

type Coordinate struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}
