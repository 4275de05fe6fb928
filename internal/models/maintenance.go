package models

import (
	"errors"
	"time"
)

// MaintenanceItem is a static catalog entry. The interval fields are parsed
// from the human-readable suggestion strings in the catalog file.
type MaintenanceItem struct {
	ID                          string  `yaml:"id" json:"id"`
	Name                        string  `yaml:"name" json:"name"`
	DistanceSuggestion          string  `yaml:"distance" json:"distanceSuggestion"`
	TimeSuggestion              string  `yaml:"time" json:"timeSuggestion"`
	SuggestedDistanceIntervalKm float64 `yaml:"-" json:"suggestedDistanceIntervalKm"`
	SuggestedTimeIntervalMonths int     `yaml:"-" json:"suggestedTimeIntervalMonths"`
}

// Reminder policy values stored in Vehicle.Reminders.
const (
	ReminderNone   = 0
	ReminderCustom = -1 // selection sentinel, never persisted
)

var ErrInvalidReminderPolicy = errors.New("invalid reminder policy")

// ReminderPolicy is either none, a preset month count, or a custom month count.
type ReminderPolicy struct {
	Months int  `json:"months"`
	Custom bool `json:"custom"`
}

func NoReminder() ReminderPolicy { return ReminderPolicy{Months: ReminderNone} }

func MonthsReminder(months int) ReminderPolicy { return ReminderPolicy{Months: months} }

func CustomReminder(months int) ReminderPolicy { return ReminderPolicy{Months: months, Custom: true} }

func (p ReminderPolicy) IsNone() bool { return !p.Custom && p.Months == ReminderNone }

func (p ReminderPolicy) Validate() error {
	if p.Custom && p.Months <= 0 {
		return ErrInvalidReminderPolicy
	}
	if p.Months < 0 {
		return ErrInvalidReminderPolicy
	}
	return nil
}

// Stored returns the value persisted in Vehicle.Reminders.
func (p ReminderPolicy) Stored() int {
	return p.Months
}

// PolicyFromStored converts a persisted reminders value back to a policy.
func PolicyFromStored(months int) ReminderPolicy {
	if months <= 0 {
		return NoReminder()
	}
	return MonthsReminder(months)
}

// ReminderState is the baseline captured when a policy is saved, plus the
// one-shot flag for the distance trigger.
type ReminderState struct {
	BaselineOdometer float64    `bson:"baseline_odometer" json:"baselineOdometer"`
	SavedAt          time.Time  `bson:"saved_at" json:"savedAt"`
	DistanceNotified bool       `bson:"distance_notified" json:"distanceNotified"`
	NotifiedAt       *time.Time `bson:"notified_at,omitempty" json:"notifiedAt,omitempty"`
}

// ItemStatus is the evaluated due state for one (vehicle, item) pair.
type ItemStatus struct {
	VehicleID         string    `json:"vehicleId"`
	ItemID            string    `json:"itemId"`
	ItemName          string    `json:"itemName"`
	Months            int       `json:"months"`
	TimeDueAt         time.Time `json:"timeDueAt"`
	TimeDue           bool      `json:"timeDue"`
	DistanceThreshold float64   `json:"distanceThreshold,omitempty"`
	DistanceRemaining float64   `json:"distanceRemaining,omitempty"`
	DistanceDue       bool      `json:"distanceDue"`
	DistanceNotified  bool      `json:"distanceNotified"`
	Due               bool      `json:"due"`
	Priority          string    `json:"priority"`
}

// Constants for priority levels
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)
