package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"odometer-backend/internal/models"
	"odometer-backend/pkg/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func statusFor(t *testing.T, statuses []models.ItemStatus, itemID string) models.ItemStatus {
	t.Helper()
	for _, s := range statuses {
		if s.ItemID == itemID {
			return s
		}
	}
	t.Fatalf("no status for item %s", itemID)
	return models.ItemStatus{}
}

func TestMaintenanceService_SavePolicySchedulesTimeReminder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 10000)
	env.maintenance.now = fixedClock(t0)

	status, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 15000.0, status.DistanceThreshold)
	assert.Equal(t, 5000.0, status.DistanceRemaining)
	assert.True(t, status.TimeDueAt.Equal(t0.AddDate(0, 6, 0)))
	assert.False(t, status.Due)

	ops := env.dispatcher.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, reminder.Operation{Op: "cancel", Key: "oil@v1"}, ops[0])
	assert.Equal(t, reminder.Operation{Op: "cancel", Key: "oil@v1:time"}, ops[1])
	assert.Equal(t, "schedule", ops[2].Op)
	assert.Equal(t, "oil@v1:time", ops[2].Key)
	assert.True(t, ops[2].Request.FireAt.Equal(t0.AddDate(0, 6, 0)))
	assert.Equal(t, reminder.Context{VehicleID: testVehicle, ItemID: "oil"}, ops[2].Request.Context)

	vehicle, err := env.store.GetVehicle(ctx, testVehicle)
	require.NoError(t, err)
	assert.Equal(t, 6, vehicle.Reminders["oil"])
	assert.Equal(t, 10000.0, vehicle.ReminderStates["oil"].BaselineOdometer)
	assert.True(t, vehicle.ReminderStates["oil"].SavedAt.Equal(t0))

	t.Run("saving again replaces the pending reminder", func(t *testing.T) {
		env.maintenance.now = fixedClock(t0.Add(time.Hour))
		_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.CustomReminder(3))
		require.NoError(t, err)

		pending, ok := env.dispatcher.Pending("oil@v1:time")
		require.True(t, ok)
		assert.True(t, pending.FireAt.Equal(t0.Add(time.Hour).AddDate(0, 3, 0)))
		assert.Len(t, env.dispatcher.Scheduled("oil@v1:time"), 2)
	})

	t.Run("none removes the policy and both reminders", func(t *testing.T) {
		status, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.NoReminder())
		require.NoError(t, err)
		assert.Nil(t, status)

		_, ok := env.dispatcher.Pending("oil@v1:time")
		assert.False(t, ok)

		vehicle, err := env.store.GetVehicle(ctx, testVehicle)
		require.NoError(t, err)
		assert.NotContains(t, vehicle.Reminders, "oil")
		assert.NotContains(t, vehicle.ReminderStates, "oil")

		statuses, err := env.maintenance.Evaluate(ctx, testVehicle, 0)
		require.NoError(t, err)
		assert.Empty(t, statuses)
	})
}

func TestMaintenanceService_SavePolicyValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 0)

	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "flux_capacitor", models.MonthsReminder(6))
	assert.ErrorIs(t, err, ErrUnknownMaintenanceItem)

	_, err = env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.CustomReminder(0))
	assert.ErrorIs(t, err, models.ErrInvalidReminderPolicy)

	assert.Empty(t, env.dispatcher.Operations())
}

func TestMaintenanceService_ScheduleFailureKeepsPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 0)
	env.dispatcher.ScheduleFn = func(reminder.Request) error { return errors.New("dispatcher offline") }

	status, err := env.maintenance.SavePolicy(ctx, testVehicle, "tires", models.MonthsReminder(6))
	assert.ErrorIs(t, err, ErrReminderScheduleFailed)
	require.NotNil(t, status)

	vehicle, err := env.store.GetVehicle(ctx, testVehicle)
	require.NoError(t, err)
	assert.Equal(t, 6, vehicle.Reminders["tires"])
}

func TestMaintenanceService_TimeTrigger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 0)

	env.maintenance.now = fixedClock(t0)
	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)

	env.maintenance.now = fixedClock(t0.AddDate(0, 5, 0))
	statuses, err := env.maintenance.Evaluate(ctx, testVehicle, 0)
	require.NoError(t, err)
	assert.False(t, statusFor(t, statuses, "oil").TimeDue)

	env.maintenance.now = fixedClock(t0.AddDate(0, 6, 0).Add(time.Second))
	statuses, err = env.maintenance.Evaluate(ctx, testVehicle, 0)
	require.NoError(t, err)
	oil := statusFor(t, statuses, "oil")
	assert.True(t, oil.TimeDue)
	assert.True(t, oil.Due)
	assert.Equal(t, models.PriorityUrgent, oil.Priority)
}

func TestMaintenanceService_DistanceTrigger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 10000)
	env.maintenance.now = fixedClock(t0)

	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)

	statuses, err := env.maintenance.Evaluate(ctx, testVehicle, 4999)
	require.NoError(t, err)
	oil := statusFor(t, statuses, "oil")
	assert.False(t, oil.DistanceDue)
	assert.Equal(t, 1.0, oil.DistanceRemaining)
	assert.Equal(t, models.PriorityHigh, oil.Priority)

	statuses, err = env.maintenance.Evaluate(ctx, testVehicle, 5000)
	require.NoError(t, err)
	oil = statusFor(t, statuses, "oil")
	assert.True(t, oil.DistanceDue)
	assert.True(t, oil.Due)
	assert.Zero(t, oil.DistanceRemaining)
}

func TestMaintenanceService_PastDueFiresAfterDelay(t *testing.T) {
	env := newTestEnv(t)
	now := t0.AddDate(1, 0, 0)

	vehicle := &models.Vehicle{ID: testVehicle, Name: "Hilux"}
	item, ok := env.maintenance.catalog.Get("oil")
	require.True(t, ok)

	req := env.maintenance.timeRequest(vehicle, item, t0, now)
	assert.True(t, req.FireAt.Equal(now.Add(10*time.Second)))
	assert.Equal(t, "oil@v1:time", req.Key)

	req = env.maintenance.timeRequest(vehicle, item, now, now)
	assert.True(t, req.FireAt.After(now))
}

func TestMaintenanceService_DistanceReminderAfterTrips(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 10000)

	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)

	_, err = env.trips.Start(ctx, testUser, testVehicle)
	require.NoError(t, err)
	drive(env.feed(), 12.34, 1, 0)
	first, err := env.trips.Stop(ctx, testUser)
	require.NoError(t, err)
	require.NoError(t, first.ReminderErr)
	assert.Equal(t, 10012.34, first.NewOdometer)

	oil := statusFor(t, first.Reminders, "oil")
	assert.False(t, oil.DistanceDue)
	assert.Equal(t, 4987.66, oil.DistanceRemaining)
	assert.Empty(t, env.dispatcher.Scheduled("oil@v1"))

	_, err = env.trips.Start(ctx, testUser, testVehicle)
	require.NoError(t, err)
	drive(env.feed(), 4990, 10, 0)

	// the live total crossed 15,000 km before the trip ended
	assert.Len(t, env.dispatcher.Scheduled("oil@v1"), 1)

	second, err := env.trips.Stop(ctx, testUser)
	require.NoError(t, err)
	require.NoError(t, second.ReminderErr)
	assert.InDelta(t, 15002.34, second.NewOdometer, 1e-9)

	oil = statusFor(t, second.Reminders, "oil")
	assert.True(t, oil.DistanceDue)
	assert.True(t, oil.DistanceNotified)

	scheduled := env.dispatcher.Scheduled("oil@v1")
	require.Len(t, scheduled, 1)
	assert.Equal(t, reminder.Context{VehicleID: testVehicle, ItemID: "oil"}, scheduled[0].Context)

	t.Run("re-evaluation does not fire again", func(t *testing.T) {
		_, err := env.maintenance.EvaluateAndNotify(ctx, testVehicle)
		require.NoError(t, err)
		assert.Len(t, env.dispatcher.Scheduled("oil@v1"), 1)
	})

	t.Run("re-saving moves the baseline and clears the flag", func(t *testing.T) {
		status, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
		require.NoError(t, err)
		assert.InDelta(t, 20002.34, status.DistanceThreshold, 1e-9)
		assert.False(t, status.DistanceNotified)

		vehicle, err := env.store.GetVehicle(ctx, testVehicle)
		require.NoError(t, err)
		assert.False(t, vehicle.ReminderStates["oil"].DistanceNotified)
	})
}

func TestMaintenanceService_LivePolicyChangesMidTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 14990)

	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)

	_, err = env.trips.Start(ctx, testUser, testVehicle)
	require.NoError(t, err)

	_, err = env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.NoReminder())
	require.NoError(t, err)

	at := drive(env.feed(), 5030, 10, 0)
	assert.Empty(t, env.dispatcher.Scheduled("oil@v1"))
	_, pending := env.dispatcher.Pending("oil@v1")
	assert.False(t, pending)

	// re-saving takes the committed 14,990 km as baseline, which the live
	// total is already past
	_, err = env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)

	for km := 5040.0; km <= 5080; km += 10 {
		at += 10 * time.Minute
		env.feed().Publish(north(km, at))
	}
	require.Len(t, env.dispatcher.Scheduled("oil@v1"), 1)

	vehicle, err := env.store.GetVehicle(ctx, testVehicle)
	require.NoError(t, err)
	assert.True(t, vehicle.ReminderStates["oil"].DistanceNotified)

	result, err := env.trips.Stop(ctx, testUser)
	require.NoError(t, err)
	require.NoError(t, result.ReminderErr)
	assert.Len(t, env.dispatcher.Scheduled("oil@v1"), 1)
}

func TestMaintenanceService_ClearedReminderIsWithdrawn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addVehicle(t, testVehicle, 20000)

	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(6))
	require.NoError(t, err)
	vehicle, err := env.store.GetVehicle(ctx, testVehicle)
	require.NoError(t, err)

	// the policy goes away after the vehicle was read
	_, err = env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.NoReminder())
	require.NoError(t, err)

	item, ok := env.maintenance.catalog.Get("oil")
	require.True(t, ok)
	err = env.maintenance.notifyDistance(ctx, vehicle, item, 25000)
	assert.ErrorIs(t, err, errReminderCleared)

	_, pending := env.dispatcher.Pending("oil@v1")
	assert.False(t, pending)
}

func TestMaintenanceService_DistanceReminderWithoutLiveWatcher(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.trips.SetLiveDueWatcher(nil)
	env.addVehicle(t, testVehicle, 14990)

	_, err := env.maintenance.SavePolicy(ctx, testVehicle, "oil", models.MonthsReminder(12))
	require.NoError(t, err)

	_, err = env.trips.Start(ctx, testUser, testVehicle)
	require.NoError(t, err)
	drive(env.feed(), 5010, 10, 0)
	assert.Empty(t, env.dispatcher.Scheduled("oil@v1"))

	result, err := env.trips.Stop(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, result.NewOdometer)

	scheduled := env.dispatcher.Scheduled("oil@v1")
	require.Len(t, scheduled, 1)
	assert.False(t, scheduled[0].FireAt.IsZero())

	ops := env.dispatcher.Operations()
	last := ops[len(ops)-2:]
	assert.Equal(t, "cancel", last[0].Op)
	assert.Equal(t, "schedule", last[1].Op)
}

func TestCalculatePriority(t *testing.T) {
	now := t0
	days := func(n int) *time.Time {
		at := now.Add(time.Duration(n) * 24 * time.Hour)
		return &at
	}
	km := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		dueDate  *time.Time
		dueKm    *float64
		current  float64
		expected string
	}{
		{"overdue by date", days(-1), nil, 0, models.PriorityUrgent},
		{"due this week", days(5), nil, 0, models.PriorityHigh},
		{"due this month", days(20), nil, 0, models.PriorityMedium},
		{"far off", days(90), km(50000), 0, models.PriorityLow},
		{"overdue by distance", days(90), km(1000), 1000, models.PriorityUrgent},
		{"close by distance", nil, km(1500), 1000, models.PriorityHigh},
		{"approaching by distance", nil, km(5000), 1000, models.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, calculatePriority(tt.dueDate, tt.dueKm, tt.current, now))
		})
	}
}
