package handlers

import (
	"context"
	"net/http"
	"testing"

	"odometer-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndListVehicles(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, testUser, http.MethodPost, "/vehicles", map[string]interface{}{
		"name":     "Family car",
		"odometer": 1234.567,
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var created models.Vehicle
	decode(t, resp.Data, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, testUser, created.OwnerID)
	assert.Equal(t, 1234.57, created.Odometer)

	code, resp = env.do(t, testUser, http.MethodGet, "/vehicles", nil)
	require.Equal(t, http.StatusOK, code)
	var vehicles []models.Vehicle
	decode(t, resp.Data, &vehicles)
	require.Len(t, vehicles, 1)
	assert.Equal(t, created.ID, vehicles[0].ID)

	// Another user sees neither the list entry nor the vehicle itself.
	code, resp = env.do(t, "user-2", http.MethodGet, "/vehicles", nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, resp.Data, &vehicles)
	assert.Empty(t, vehicles)

	code, _ = env.do(t, "user-2", http.MethodGet, "/vehicles/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = env.do(t, testUser, http.MethodGet, "/vehicles/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var fetched models.Vehicle
	decode(t, resp.Data, &fetched)
	assert.Equal(t, "Family car", fetched.Name)
}

func TestCreateVehicleValidation(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, testUser, http.MethodPost, "/vehicles", map[string]interface{}{
		"odometer": -5,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Validation failed", resp.Message)
}

func TestGetTripsAndMonthlyDistance(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 500)

	code, resp := env.do(t, testUser, http.MethodGet, "/vehicles/v1/trips", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{}, resp.Data)

	code, _ = env.do(t, testUser, http.MethodPost, "/trips/start", map[string]string{"vehicleId": "v1"})
	require.Equal(t, http.StatusCreated, code)
	env.do(t, testUser, http.MethodPost, "/trips/samples", PushSamplesRequest{Samples: route(2)})
	code, _ = env.do(t, testUser, http.MethodPost, "/trips/stop", nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = env.do(t, testUser, http.MethodGet, "/vehicles/v1/trips?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	var trips []models.Trip
	decode(t, resp.Data, &trips)
	require.Len(t, trips, 1)
	assert.InDelta(t, 2.0, trips[0].Distance, 0.01)

	code, resp = env.do(t, testUser, http.MethodGet, "/vehicles/v1/distance", nil)
	require.Equal(t, http.StatusOK, code)
	var monthly models.MonthlyDistance
	decode(t, resp.Data, &monthly)
	assert.InDelta(t, 2.0, monthly.TotalDistance, 0.01)

	code, resp = env.do(t, testUser, http.MethodGet, "/vehicles/v1/distance?period=2020-01", nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, resp.Data, &monthly)
	assert.Equal(t, "2020-01", monthly.Period)
	assert.Zero(t, monthly.TotalDistance)

	code, _ = env.do(t, testUser, http.MethodGet, "/vehicles/v1/distance?period=March", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, "user-2", http.MethodGet, "/vehicles/v1/trips", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRebuildOdometer(t *testing.T) {
	env := newTestEnv(t)
	env.addVehicle(t, "v1", testUser, 500)

	require.NoError(t, env.store.AppendTrip(context.Background(), &models.Trip{ID: "a", VehicleID: "v1", Distance: 12.5}))
	require.NoError(t, env.store.AppendTrip(context.Background(), &models.Trip{ID: "b", VehicleID: "v1", Distance: 7.5}))

	code, resp := env.do(t, testUser, http.MethodPost, "/vehicles/v1/odometer/rebuild", map[string]float64{"baseOdometer": 1000})
	require.Equal(t, http.StatusOK, code, resp.Error)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 1020.0, data["odometer"])

	vehicle, err := env.store.GetVehicle(context.Background(), "v1")
	require.NoError(t, err)
	current, ok := vehicle.CommittedOdometer()
	require.True(t, ok)
	assert.Equal(t, 1020.0, current)

	code, _ = env.do(t, testUser, http.MethodPost, "/vehicles/v1/odometer/rebuild", map[string]float64{"baseOdometer": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, "user-2", http.MethodPost, "/vehicles/v1/odometer/rebuild", map[string]float64{"baseOdometer": 0})
	assert.Equal(t, http.StatusNotFound, code)
}
