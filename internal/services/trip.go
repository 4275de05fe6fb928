package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"odometer-backend/internal/config"
	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"
	"odometer-backend/pkg/telemetry"

	"github.com/google/uuid"
)

// SamplerProvider returns the location source for a user's device.
type SamplerProvider interface {
	SamplerFor(userID string) telemetry.GeoSampler
}

// ProgressPublisher receives live progress of in-progress trips.
type ProgressPublisher interface {
	PublishTripProgress(progress models.TripProgress)
}

// LiveDueWatcher checks distance reminders against the live total while a
// trip is running and returns the items it fired.
type LiveDueWatcher interface {
	ObserveLive(ctx context.Context, vehicleID string, liveTotalKm float64) []string
}

// ReminderEvaluator runs the post-trip reminder check.
type ReminderEvaluator interface {
	EvaluateAndNotify(ctx context.Context, vehicleID string) ([]models.ItemStatus, error)
}

// SessionSnapshot is the observable state of a tracking session.
type SessionSnapshot struct {
	SessionID         string             `json:"sessionId"`
	UserID            string             `json:"userId"`
	VehicleID         string             `json:"vehicleId"`
	State             TripState          `json:"state"`
	TripDistanceKm    float64            `json:"tripDistanceKm"`
	CommittedOdometer float64            `json:"committedOdometer"`
	LiveTotalKm       float64            `json:"liveTotalKm"`
	AcceptedSamples   int                `json:"acceptedSamples"`
	RejectedSamples   int                `json:"rejectedSamples"`
	StartLocation     *models.Coordinate `json:"startLocation,omitempty"`
	StartedAt         time.Time          `json:"startedAt"`
}

type StopResult struct {
	Trip         *models.Trip            `json:"trip"`
	NewOdometer  float64                 `json:"newOdometer"`
	MonthlyTotal *models.MonthlyDistance `json:"monthlyTotal"`
	AlreadySaved bool                    `json:"alreadySaved"`
	Reminders    []models.ItemStatus     `json:"reminders,omitempty"`
	ReminderErr  error                   `json:"-"`
}

type tripSession struct {
	mu sync.Mutex

	id        string
	userID    string
	vehicleID string
	committed float64
	state     TripState
	startedAt time.Time

	acc         *telemetry.DistanceAccumulator
	unsubscribe func()
	generation  uint64

	pending *PendingTrip
	result  *StopResult
}

// TripService owns one tracking session per user and drives it through the
// start, pause, resume, stop and cancel commands.
type TripService struct {
	store      repository.Store
	samplers   SamplerProvider
	reconciler *OdometerReconciler
	config     config.TrackingConfig

	progress  ProgressPublisher
	liveDue   LiveDueWatcher
	evaluator ReminderEvaluator

	mu       sync.Mutex
	sessions map[string]*tripSession
	now      func() time.Time
}

func NewTripService(store repository.Store, samplers SamplerProvider, reconciler *OdometerReconciler, cfg config.TrackingConfig) *TripService {
	return &TripService{
		store:      store,
		samplers:   samplers,
		reconciler: reconciler,
		config:     cfg,
		sessions:   make(map[string]*tripSession),
		now:        time.Now,
	}
}

// SetProgressPublisher allows streaming live trip progress to observers
func (s *TripService) SetProgressPublisher(publisher ProgressPublisher) {
	s.progress = publisher
}

// SetLiveDueWatcher allows firing distance reminders mid-trip
func (s *TripService) SetLiveDueWatcher(watcher LiveDueWatcher) {
	s.liveDue = watcher
}

// SetReminderEvaluator allows evaluating reminders after a trip is saved
func (s *TripService) SetReminderEvaluator(evaluator ReminderEvaluator) {
	s.evaluator = evaluator
}

func (s *TripService) accumulatorConfig() telemetry.AccumulatorConfig {
	return telemetry.AccumulatorConfig{
		MinMovementMeters: s.config.MinMovementMeters,
		EarthRadiusKm:     s.config.EarthRadiusKm,
		MaxAccuracyMeters: s.config.MaxAccuracyMeters,
		MaxSpeedMPS:       s.config.MaxSpeedMPS,
	}
}

// Start begins tracking a vehicle for the user. No session is created when a
// precondition fails.
func (s *TripService) Start(ctx context.Context, userID, vehicleID string) (SessionSnapshot, error) {
	if vehicleID == "" {
		return SessionSnapshot{}, ErrNoVehicleSelected
	}

	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, repository.ErrVehicleNotFound) {
			return SessionSnapshot{}, fmt.Errorf("%w: %v", ErrNoVehicleSelected, err)
		}
		return SessionSnapshot{}, err
	}
	if vehicle.OwnerID != "" && vehicle.OwnerID != userID {
		return SessionSnapshot{}, fmt.Errorf("%w: %v", ErrNoVehicleSelected, repository.ErrVehicleNotFound)
	}
	committed, err := s.reconciler.CommittedOdometer(ctx, vehicle)
	if err != nil {
		return SessionSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[userID]; ok && !existing.currentState().Terminal() {
		return SessionSnapshot{}, ErrTripAlreadyActive
	}

	sess := &tripSession{
		id:        uuid.NewString(),
		userID:    userID,
		vehicleID: vehicleID,
		committed: committed,
		state:     StateIdle,
		startedAt: s.now(),
		acc:       telemetry.NewDistanceAccumulator(s.accumulatorConfig()),
	}

	sess.mu.Lock()
	err = s.subscribeLocked(sess)
	if err != nil {
		sess.mu.Unlock()
		return SessionSnapshot{}, err
	}
	sess.state = StateTracking
	snapshot := sess.snapshotLocked()
	progress := sess.progressLocked(0, nil)
	sess.mu.Unlock()

	s.sessions[userID] = sess
	log.Printf("Trip %s started for user %s on vehicle %s", sess.id, userID, vehicleID)
	s.publish(progress)
	return snapshot, nil
}

// Pause stops sampling and keeps the distance so far.
func (s *TripService) Pause(userID string) (SessionSnapshot, error) {
	sess, err := s.session(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	sess.mu.Lock()
	if !CanTransition(sess.state, StatePaused) {
		state := sess.state
		sess.mu.Unlock()
		return SessionSnapshot{}, fmt.Errorf("%w: cannot pause a %s trip", ErrInvalidTransition, state)
	}
	sess.stopSamplingLocked()
	sess.state = StatePaused
	snapshot := sess.snapshotLocked()
	progress := sess.progressLocked(0, nil)
	sess.mu.Unlock()

	s.publish(progress)
	return snapshot, nil
}

// Resume re-subscribes to the sampler. The first sample afterwards becomes
// the new reference and adds no distance.
func (s *TripService) Resume(userID string) (SessionSnapshot, error) {
	sess, err := s.session(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	sess.mu.Lock()
	if sess.state != StatePaused {
		state := sess.state
		sess.mu.Unlock()
		return SessionSnapshot{}, fmt.Errorf("%w: cannot resume a %s trip", ErrInvalidTransition, state)
	}
	if err := s.subscribeLocked(sess); err != nil {
		sess.mu.Unlock()
		return SessionSnapshot{}, err
	}
	sess.acc.Reset()
	sess.state = StateTracking
	snapshot := sess.snapshotLocked()
	progress := sess.progressLocked(0, nil)
	sess.mu.Unlock()

	s.publish(progress)
	return snapshot, nil
}

// Stop ends sampling and persists the trip. A failed save keeps the session
// in Finalizing with its distance and path so Stop can be retried. Stopping
// a saved session returns the earlier result without writing again.
func (s *TripService) Stop(ctx context.Context, userID string) (*StopResult, error) {
	sess, err := s.session(userID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case StateSaved:
		result := *sess.result
		result.AlreadySaved = true
		return &result, nil
	case StateDiscarded:
		return nil, ErrNoActiveTrip
	}
	if !CanTransition(sess.state, StateFinalizing) {
		return nil, fmt.Errorf("%w: cannot stop a %s trip", ErrInvalidTransition, sess.state)
	}

	sess.stopSamplingLocked()
	sess.state = StateFinalizing
	if sess.pending == nil {
		sess.pending = NewPendingTrip(sess.buildTripLocked(s.now()))
	}

	rec, err := s.reconciler.Reconcile(ctx, sess.pending)
	if err != nil {
		s.publish(sess.progressLocked(0, nil))
		return nil, err
	}

	sess.state = StateSaved
	sess.result = &StopResult{
		Trip:         rec.Trip,
		NewOdometer:  rec.NewOdometer,
		MonthlyTotal: rec.Monthly,
	}
	sess.committed = rec.NewOdometer
	log.Printf("Trip %s saved: %.2f km, vehicle %s odometer %.2f", rec.Trip.ID, rec.Trip.Distance, sess.vehicleID, rec.NewOdometer)

	if s.evaluator != nil {
		statuses, err := s.evaluator.EvaluateAndNotify(ctx, sess.vehicleID)
		sess.result.Reminders = statuses
		if err != nil {
			log.Printf("Reminder evaluation after trip %s failed: %v", rec.Trip.ID, err)
			if !errors.Is(err, ErrReminderScheduleFailed) {
				err = fmt.Errorf("%w: %v", ErrReminderScheduleFailed, err)
			}
			sess.result.ReminderErr = err
		}
	}

	progress := sess.progressLocked(0, nil)
	progress.TripDistanceKm = rec.Trip.Distance
	progress.LiveTotalKm = rec.NewOdometer
	s.publish(progress)

	sess.acc = nil
	sess.pending = nil
	result := *sess.result
	return &result, nil
}

// Cancel discards the session without persisting anything. Cancelling an
// already discarded session is a no-op.
func (s *TripService) Cancel(userID string) error {
	sess, err := s.session(userID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.state == StateDiscarded {
		sess.mu.Unlock()
		return nil
	}
	if !CanTransition(sess.state, StateDiscarded) {
		state := sess.state
		sess.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel a %s trip", ErrInvalidTransition, state)
	}
	if sess.pending != nil && sess.pending.Started() {
		sess.mu.Unlock()
		return fmt.Errorf("%w: trip %s is partially saved, retry stop", ErrInvalidTransition, sess.pending.Trip.ID)
	}

	sess.stopSamplingLocked()
	sess.state = StateDiscarded
	progress := sess.progressLocked(0, nil)
	sess.acc = nil
	sess.pending = nil
	sess.mu.Unlock()

	log.Printf("Trip %s discarded for user %s", sess.id, userID)
	s.publish(progress)
	return nil
}

// Status returns a snapshot of the user's most recent session.
func (s *TripService) Status(userID string) (SessionSnapshot, error) {
	sess, err := s.session(userID)
	if err != nil {
		return SessionSnapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

func (s *TripService) session(userID string) (*tripSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, ErrNoActiveTrip
	}
	return sess, nil
}

// subscribeLocked opens a fresh sampler subscription. Samples carrying an
// older generation belong to a previous subscription and are dropped.
func (s *TripService) subscribeLocked(sess *tripSession) error {
	sess.generation++
	generation := sess.generation

	unsubscribe, err := s.samplers.SamplerFor(sess.userID).Subscribe(func(sample telemetry.Sample) {
		s.handleSample(sess, generation, sample)
	})
	if err != nil {
		return err
	}
	sess.unsubscribe = unsubscribe
	return nil
}

func (s *TripService) handleSample(sess *tripSession, generation uint64, sample telemetry.Sample) {
	sess.mu.Lock()
	if sess.generation != generation || sess.state != StateTracking {
		sess.mu.Unlock()
		return
	}
	result := sess.acc.Add(sample)
	if !result.Accepted {
		sess.mu.Unlock()
		return
	}
	progress := sess.progressLocked(result.IncrementKm, &sample)
	sess.mu.Unlock()

	s.publish(progress)

	if s.liveDue != nil {
		s.liveDue.ObserveLive(context.Background(), sess.vehicleID, progress.LiveTotalKm)
	}
}

func (s *TripService) publish(progress models.TripProgress) {
	if s.progress != nil {
		s.progress.PublishTripProgress(progress)
	}
}

func (sess *tripSession) currentState() TripState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

func (sess *tripSession) stopSamplingLocked() {
	if sess.unsubscribe != nil {
		sess.unsubscribe()
		sess.unsubscribe = nil
	}
	sess.generation++
}

func (sess *tripSession) tripKmLocked() float64 {
	if sess.acc == nil {
		if sess.result != nil {
			return sess.result.Trip.Distance
		}
		return 0
	}
	return sess.acc.TotalKm()
}

func (sess *tripSession) snapshotLocked() SessionSnapshot {
	tripKm := sess.tripKmLocked()
	snapshot := SessionSnapshot{
		SessionID:         sess.id,
		UserID:            sess.userID,
		VehicleID:         sess.vehicleID,
		State:             sess.state,
		TripDistanceKm:    models.RoundDistance(tripKm),
		CommittedOdometer: sess.committed,
		StartedAt:         sess.startedAt,
	}
	if sess.state != StateSaved {
		snapshot.LiveTotalKm = models.RoundDistance(sess.committed + tripKm)
	} else {
		snapshot.LiveTotalKm = sess.committed
	}
	if sess.acc != nil {
		snapshot.AcceptedSamples, snapshot.RejectedSamples = sess.acc.Stats()
		if first, ok := sess.acc.FirstAccepted(); ok {
			snapshot.StartLocation = &models.Coordinate{Latitude: first.Latitude, Longitude: first.Longitude}
		}
	} else if sess.result != nil {
		snapshot.StartLocation = sess.result.Trip.StartLocation
	}
	return snapshot
}

func (sess *tripSession) progressLocked(incrementKm float64, sample *telemetry.Sample) models.TripProgress {
	tripKm := sess.tripKmLocked()
	progress := models.TripProgress{
		SessionID:         sess.id,
		UserID:            sess.userID,
		VehicleID:         sess.vehicleID,
		State:             string(sess.state),
		TripDistanceKm:    models.RoundDistance(tripKm),
		IncrementKm:       incrementKm,
		CommittedOdometer: sess.committed,
		LiveTotalKm:       sess.committed + tripKm,
		Timestamp:         time.Now(),
	}
	if sample != nil {
		progress.Latitude = sample.Latitude
		progress.Longitude = sample.Longitude
		if !sample.Timestamp.IsZero() {
			progress.Timestamp = sample.Timestamp
		}
	}
	return progress
}

// buildTripLocked snapshots the accumulator into the record to persist. The
// id is fixed here so every retry writes the same document.
func (sess *tripSession) buildTripLocked(now time.Time) *models.Trip {
	path := sess.acc.Path()
	points := make([]models.PathPoint, 0, len(path))
	for _, p := range path {
		var ts int64
		if !p.Timestamp.IsZero() {
			ts = p.Timestamp.UnixMilli()
		}
		points = append(points, models.PathPoint{Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: ts})
	}

	trip := &models.Trip{
		ID:        uuid.NewString(),
		VehicleID: sess.vehicleID,
		UserID:    sess.userID,
		Distance:  models.RoundDistance(sess.acc.TotalKm()),
		Path:      points,
		Date:      now.UTC(),
	}
	if first, ok := sess.acc.FirstAccepted(); ok {
		trip.StartLocation = &models.Coordinate{Latitude: first.Latitude, Longitude: first.Longitude}
	}
	if last, ok := sess.acc.LastAccepted(); ok {
		trip.EndLocation = &models.Coordinate{Latitude: last.Latitude, Longitude: last.Longitude}
	}
	return trip
}
