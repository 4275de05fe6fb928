package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"odometer-backend/internal/api/middleware"
	"odometer-backend/internal/config"
	"odometer-backend/internal/models"
	"odometer-backend/internal/models/catalog"
	"odometer-backend/internal/repository/memory"
	"odometer-backend/internal/services"
	"odometer-backend/internal/websocket"
	"odometer-backend/pkg/jwt"
	"odometer-backend/pkg/reminder"
	"odometer-backend/pkg/telemetry"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

var t0 = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	router      *gin.Engine
	store       *memory.Store
	feeds       *telemetry.FeedRegistry
	dispatcher  *reminder.MemoryDispatcher
	trips       *services.TripService
	vehicles    *services.VehicleService
	maintenance *services.MaintenanceService
	manager     *websocket.Manager
	jwt         *jwt.JWTUtil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	items, err := catalog.Default()
	require.NoError(t, err)

	tracking := config.DefaultTrackingConfig()
	tracking.RetryBackoff = time.Millisecond

	env := &testEnv{
		store:      memory.NewStore(),
		feeds:      telemetry.NewFeedRegistry(true),
		dispatcher: reminder.NewMemoryDispatcher(),
		manager:    websocket.NewManager(nil),
		jwt:        jwt.NewJWTUtil("test-secret", "1h"),
	}

	reconciler := services.NewOdometerReconciler(env.store, tracking)
	env.vehicles = services.NewVehicleService(env.store)
	env.maintenance = services.NewMaintenanceService(env.store, items, env.dispatcher, config.DefaultReminderConfig())
	env.maintenance.SetOdometerSource(reconciler)
	env.trips = services.NewTripService(env.store, env.feeds, reconciler, tracking)
	env.trips.SetReminderEvaluator(env.maintenance)
	env.trips.SetLiveDueWatcher(env.maintenance)
	env.trips.SetProgressPublisher(env.manager)

	require.NoError(t, env.manager.Start())
	t.Cleanup(func() { env.manager.Stop() })

	tripHandler := NewTripHandler(env.trips)
	sampleHandler := NewSampleHandler(env.feeds, env.manager.GetUpgrader())
	liveHandler := NewWebSocketHandler(env.manager)
	vehicleHandler := NewVehicleHandler(env.vehicles, reconciler, time.UTC)
	maintenanceHandler := NewMaintenanceHandler(env.maintenance, env.vehicles, env.trips)

	router := gin.New()
	router.GET("/ws/trips/live", middleware.WebSocketAuthMiddleware(env.jwt), liveHandler.HandleWebSocket)
	router.GET("/ws/trips/samples", middleware.WebSocketAuthMiddleware(env.jwt), sampleHandler.HandleDeviceStream)

	api := router.Group("/", middleware.AuthMiddleware(env.jwt))
	api.POST("/trips/start", tripHandler.StartTrip)
	api.POST("/trips/pause", tripHandler.PauseTrip)
	api.POST("/trips/resume", tripHandler.ResumeTrip)
	api.POST("/trips/stop", tripHandler.StopTrip)
	api.POST("/trips/cancel", tripHandler.CancelTrip)
	api.GET("/trips/current", tripHandler.GetCurrentTrip)
	api.POST("/trips/samples", sampleHandler.PushSamples)
	api.PUT("/trips/permission", sampleHandler.SetPermission)
	api.GET("/ws/clients", liveHandler.GetConnectedClients)
	api.GET("/vehicles", vehicleHandler.GetVehicles)
	api.POST("/vehicles", vehicleHandler.CreateVehicle)
	api.GET("/vehicles/:id", vehicleHandler.GetVehicle)
	api.GET("/vehicles/:id/trips", vehicleHandler.GetTrips)
	api.GET("/vehicles/:id/distance", vehicleHandler.GetMonthlyDistance)
	api.POST("/vehicles/:id/odometer/rebuild", vehicleHandler.RebuildOdometer)
	api.PUT("/vehicles/:id/reminders/:itemId", maintenanceHandler.SaveReminder)
	api.GET("/vehicles/:id/maintenance", maintenanceHandler.GetMaintenanceStatus)
	api.POST("/vehicles/:id/maintenance/evaluate", maintenanceHandler.EvaluateReminders)
	api.GET("/maintenance/items", maintenanceHandler.GetItems)
	env.router = router

	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.jwt.GenerateToken(userID, userID+"@example.com")
	require.NoError(t, err)
	return token
}

// do sends a JSON request as userID and decodes the envelope.
func (e *testEnv) do(t *testing.T, userID, method, path string, body interface{}) (int, utils.APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

// decode re-marshals the envelope's data into dest.
func decode(t *testing.T, data interface{}, dest interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, dest))
}

func (e *testEnv) addVehicle(t *testing.T, id, ownerID string, odometer float64) {
	t.Helper()
	require.NoError(t, e.store.CreateVehicle(context.Background(), &models.Vehicle{
		ID:             id,
		OwnerID:        ownerID,
		Name:           "Car " + id,
		Odometer:       odometer,
		Reminders:      map[string]int{},
		ReminderStates: map[string]models.ReminderState{},
	}))
}

// north returns a sample km kilometres due north of a fixed origin.
func north(km float64, after time.Duration) telemetry.Sample {
	return telemetry.Sample{
		Latitude:  -1.2921 + km/telemetry.EarthRadiusKm*180/math.Pi,
		Longitude: 36.8219,
		Timestamp: t0.Add(after),
	}
}

// route returns samples from 0 to km, one per kilometre, a minute apart.
func route(km int) []telemetry.Sample {
	samples := make([]telemetry.Sample, 0, km+1)
	for i := 0; i <= km; i++ {
		samples = append(samples, north(float64(i), time.Duration(i)*time.Minute))
	}
	return samples
}

func wsURL(server *httptest.Server, path, token string) string {
	return "ws" + server.URL[len("http"):] + path + "?token=" + token
}
