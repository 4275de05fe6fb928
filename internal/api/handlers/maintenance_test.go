package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"odometer-backend/internal/models"
	"odometer-backend/pkg/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetItems(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, testUser, http.MethodGet, "/maintenance/items", nil)
	require.Equal(t, http.StatusOK, code)
	var items []models.MaintenanceItem
	decode(t, resp.Data, &items)
	require.NotEmpty(t, items)

	var oil *models.MaintenanceItem
	for i := range items {
		if items[i].ID == "oil" {
			oil = &items[i]
		}
	}
	require.NotNil(t, oil)
	assert.Equal(t, 5000.0, oil.SuggestedDistanceIntervalKm)
	assert.Equal(t, 6, oil.SuggestedTimeIntervalMonths)
}

func TestSaveReminder(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 10000)

	code, resp := env.do(t, testUser, http.MethodPut, "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: 6})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var status models.ItemStatus
	decode(t, resp.Data, &status)
	assert.Equal(t, "oil", status.ItemID)
	assert.Equal(t, 15000.0, status.DistanceThreshold)
	assert.False(t, status.Due)

	_, pending := env.dispatcher.Pending("oil@v1:time")
	assert.True(t, pending)

	code, resp = env.do(t, testUser, http.MethodPut, "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: 0})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Reminder removed", resp.Message)
	_, pending = env.dispatcher.Pending("oil@v1:time")
	assert.False(t, pending)

	vehicle, err := env.store.GetVehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.NotContains(t, vehicle.Reminders, "oil")
}

func TestSaveReminderRejections(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 10000)

	tests := []struct {
		name string
		path string
		body SaveReminderRequest
		user string
		want int
	}{
		{"unknown item", "/vehicles/v1/reminders/wipers", SaveReminderRequest{Months: 6}, testUser, http.StatusBadRequest},
		{"custom without months", "/vehicles/v1/reminders/oil", SaveReminderRequest{Custom: true}, testUser, http.StatusBadRequest},
		{"negative months", "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: -3}, testUser, http.StatusBadRequest},
		{"unknown vehicle", "/vehicles/nope/reminders/oil", SaveReminderRequest{Months: 6}, testUser, http.StatusNotFound},
		{"not the owner", "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: 6}, "user-2", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.user, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.False(t, resp.Success)
		})
	}
	assert.Empty(t, env.dispatcher.Operations())
}

func TestSaveReminderScheduleFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 10000)
	env.dispatcher.ScheduleFn = func(reminder.Request) error {
		return errors.New("scheduler offline")
	}

	code, resp := env.do(t, testUser, http.MethodPut, "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: 6})
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Error, "scheduler offline")

	// The policy itself is kept.
	vehicle, err := env.store.GetVehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 6, vehicle.Reminders["oil"])
}

func TestMaintenanceStatusIncludesLiveTrip(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 10000)

	code, _ := env.do(t, testUser, http.MethodPut, "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: 6})
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, testUser, http.MethodGet, "/vehicles/v1/maintenance", nil)
	require.Equal(t, http.StatusOK, code)
	var statuses []models.ItemStatus
	decode(t, resp.Data, &statuses)
	require.Len(t, statuses, 1)
	assert.Equal(t, 5000.0, statuses[0].DistanceRemaining)

	code, _ = env.do(t, testUser, http.MethodPost, "/trips/start", map[string]string{"vehicleId": "v1"})
	require.Equal(t, http.StatusCreated, code)
	env.do(t, testUser, http.MethodPost, "/trips/samples", PushSamplesRequest{Samples: route(3)})

	code, resp = env.do(t, testUser, http.MethodGet, "/vehicles/v1/maintenance", nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, resp.Data, &statuses)
	require.Len(t, statuses, 1)
	assert.InDelta(t, 4997.0, statuses[0].DistanceRemaining, 0.02)
}

func TestEvaluateRemindersFiresDistanceReminder(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 10000)

	code, _ := env.do(t, testUser, http.MethodPut, "/vehicles/v1/reminders/oil", SaveReminderRequest{Months: 6})
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, testUser, http.MethodPost, "/vehicles/v1/odometer/rebuild", map[string]float64{"baseOdometer": 15000})
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, testUser, http.MethodPost, "/vehicles/v1/maintenance/evaluate", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	var statuses []models.ItemStatus
	decode(t, resp.Data, &statuses)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].DistanceDue)
	assert.True(t, statuses[0].DistanceNotified)
	assert.Len(t, env.dispatcher.Scheduled("oil@v1"), 1)

	// A second evaluation does not fire again.
	code, _ = env.do(t, testUser, http.MethodPost, "/vehicles/v1/maintenance/evaluate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, env.dispatcher.Scheduled("oil@v1"), 1)
}
