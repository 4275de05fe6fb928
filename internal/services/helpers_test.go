package services

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"odometer-backend/internal/config"
	"odometer-backend/internal/models"
	"odometer-backend/internal/models/catalog"
	"odometer-backend/internal/repository"
	"odometer-backend/internal/repository/memory"
	"odometer-backend/pkg/reminder"
	"odometer-backend/pkg/telemetry"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

const (
	testUser    = "user-1"
	testVehicle = "v1"
)

// north returns a sample km kilometres due north of a fixed origin.
func north(km float64, after time.Duration) telemetry.Sample {
	return telemetry.Sample{
		Latitude:  -1.2921 + km/telemetry.EarthRadiusKm*180/math.Pi,
		Longitude: 36.8219,
		Timestamp: t0.Add(after),
	}
}

// drive publishes samples from 0 to km in steps of stepKm, one per minute
// per kilometre, starting at offset.
func drive(feed *telemetry.Feed, km, stepKm float64, offset time.Duration) time.Duration {
	at := offset
	feed.Publish(north(0, at))
	for d := stepKm; ; d += stepKm {
		if d > km {
			d = km
		}
		at += time.Duration(stepKm * float64(time.Minute))
		feed.Publish(north(d, at))
		if d >= km {
			break
		}
	}
	return at
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TripProgress
}

func (p *recordingPublisher) PublishTripProgress(progress models.TripProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, progress)
}

func (p *recordingPublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.State)
	}
	return out
}

type testEnv struct {
	store       *memory.Store
	feeds       *telemetry.FeedRegistry
	dispatcher  *reminder.MemoryDispatcher
	reconciler  *OdometerReconciler
	maintenance *MaintenanceService
	trips       *TripService
	publisher   *recordingPublisher
}

func testTrackingConfig() config.TrackingConfig {
	cfg := config.DefaultTrackingConfig()
	cfg.RetryAttempts = 1
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, memory.NewStore())
}

func newTestEnvWithStore(t *testing.T, store *memory.Store) *testEnv {
	t.Helper()
	return buildEnv(t, store, store)
}

// buildEnv wires the services against backing, which may wrap mem to inject
// failures.
func buildEnv(t *testing.T, mem *memory.Store, backing repository.Store) *testEnv {
	t.Helper()

	items, err := catalog.Default()
	require.NoError(t, err)

	env := &testEnv{
		store:      mem,
		feeds:      telemetry.NewFeedRegistry(true),
		dispatcher: reminder.NewMemoryDispatcher(),
		publisher:  &recordingPublisher{},
	}
	env.reconciler = NewOdometerReconciler(backing, testTrackingConfig())
	env.maintenance = NewMaintenanceService(backing, items, env.dispatcher, config.DefaultReminderConfig())
	env.maintenance.SetOdometerSource(env.reconciler)
	env.trips = NewTripService(backing, env.feeds, env.reconciler, testTrackingConfig())
	env.trips.SetProgressPublisher(env.publisher)
	env.trips.SetLiveDueWatcher(env.maintenance)
	env.trips.SetReminderEvaluator(env.maintenance)
	return env
}

func (e *testEnv) addVehicle(t *testing.T, id string, odometer float64) {
	t.Helper()
	require.NoError(t, e.store.CreateVehicle(context.Background(), &models.Vehicle{
		ID:       id,
		OwnerID:  testUser,
		Name:     "Hilux",
		Odometer: odometer,
	}))
}

func (e *testEnv) feed() *telemetry.Feed {
	return e.feeds.Feed(testUser)
}
