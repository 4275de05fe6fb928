package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"odometer-backend/internal/config"
	"odometer-backend/internal/models"
	"odometer-backend/internal/models/catalog"
	"odometer-backend/internal/repository"
	"odometer-backend/pkg/cache"
	"odometer-backend/pkg/reminder"
)

// OdometerSource resolves the committed distance of a vehicle.
type OdometerSource interface {
	CommittedOdometer(ctx context.Context, vehicle *models.Vehicle) (float64, error)
}

// MaintenanceService decides when maintenance items are due and keeps the
// reminder dispatcher in step with the saved policies.
type MaintenanceService struct {
	store        repository.Store
	catalog      *catalog.Catalog
	dispatcher   reminder.Dispatcher
	odometer     OdometerSource
	cacheManager cache.CacheManager
	pastDueDelay time.Duration
	now          func() time.Time
}

func NewMaintenanceService(store repository.Store, items *catalog.Catalog, dispatcher reminder.Dispatcher, cfg config.ReminderConfig) *MaintenanceService {
	return &MaintenanceService{
		store:        store,
		catalog:      items,
		dispatcher:   dispatcher,
		pastDueDelay: cfg.PastDueDelay,
		now:          time.Now,
	}
}

// SetOdometerSource allows resolving totals for vehicles without a committed value
func (s *MaintenanceService) SetOdometerSource(source OdometerSource) {
	s.odometer = source
}

// SetCacheManager allows invalidating cached vehicles after policy changes
func (s *MaintenanceService) SetCacheManager(cacheManager cache.CacheManager) {
	s.cacheManager = cacheManager
}

// DistanceKey is the reminder key for the distance trigger of one item.
func DistanceKey(itemID, vehicleID string) string {
	return itemID + "@" + vehicleID
}

// TimeKey is the reminder key for the time trigger of one item.
func TimeKey(itemID, vehicleID string) string {
	return DistanceKey(itemID, vehicleID) + ":time"
}

func (s *MaintenanceService) Items() []models.MaintenanceItem {
	return s.catalog.Items()
}

// SavePolicy stores the reminder policy for one item and records the current
// odometer as the distance baseline. The time reminder is replaced; a pending
// distance reminder from the previous baseline is withdrawn. Persistence
// errors are returned as is; dispatcher errors are wrapped in
// ErrReminderScheduleFailed after the policy has been saved.
func (s *MaintenanceService) SavePolicy(ctx context.Context, vehicleID, itemID string, policy models.ReminderPolicy) (*models.ItemStatus, error) {
	item, ok := s.catalog.Get(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMaintenanceItem, itemID)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	timeKey := TimeKey(itemID, vehicleID)
	distanceKey := DistanceKey(itemID, vehicleID)

	if policy.IsNone() {
		if err := s.store.SaveReminder(ctx, vehicleID, itemID, models.ReminderNone, nil); err != nil {
			return nil, fmt.Errorf("failed to clear reminder %s: %w", itemID, err)
		}
		s.invalidate(ctx, vehicleID)
		return nil, s.cancelAll(ctx, timeKey, distanceKey)
	}

	baseline, err := s.committed(ctx, vehicle)
	if err != nil {
		return nil, err
	}

	now := s.now()
	state := models.ReminderState{
		BaselineOdometer: baseline,
		SavedAt:          now,
	}
	if err := s.store.SaveReminder(ctx, vehicleID, itemID, policy.Stored(), &state); err != nil {
		return nil, fmt.Errorf("failed to save reminder %s: %w", itemID, err)
	}
	s.invalidate(ctx, vehicleID)

	status := s.evaluateItem(vehicle, item, policy.Months, state, baseline, now)

	var errs []error
	if err := s.dispatcher.Cancel(ctx, distanceKey); err != nil {
		errs = append(errs, err)
	}
	if err := s.dispatcher.Cancel(ctx, timeKey); err != nil {
		errs = append(errs, err)
	} else if err := s.dispatcher.Schedule(ctx, s.timeRequest(vehicle, item, status.TimeDueAt, now)); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Printf("Reminder scheduling failed for %s: %v", timeKey, err)
		return &status, fmt.Errorf("%w: %v", ErrReminderScheduleFailed, err)
	}
	return &status, nil
}

// Evaluate computes the due state of every item with a reminder policy. The
// live trip distance is added to the committed odometer for the distance
// trigger.
func (s *MaintenanceService) Evaluate(ctx context.Context, vehicleID string, liveTripKm float64) ([]models.ItemStatus, error) {
	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	committed, err := s.committed(ctx, vehicle)
	if err != nil {
		return nil, err
	}
	return s.evaluateVehicle(vehicle, committed+liveTripKm, s.now()), nil
}

// EvaluateAndNotify evaluates the vehicle after a trip has been reconciled
// and fires the distance reminder of every item that crossed its threshold
// since its policy was saved.
func (s *MaintenanceService) EvaluateAndNotify(ctx context.Context, vehicleID string) ([]models.ItemStatus, error) {
	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	committed, err := s.committed(ctx, vehicle)
	if err != nil {
		return nil, err
	}

	statuses := s.evaluateVehicle(vehicle, committed, s.now())
	var errs []error
	for i, status := range statuses {
		if !status.DistanceDue || status.DistanceNotified {
			continue
		}
		item, _ := s.catalog.Get(status.ItemID)
		err := s.notifyDistance(ctx, vehicle, item, status.DistanceThreshold)
		if errors.Is(err, errReminderCleared) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		statuses[i].DistanceNotified = true
	}

	if len(errs) > 0 {
		return statuses, fmt.Errorf("%w: %v", ErrReminderScheduleFailed, errors.Join(errs...))
	}
	return statuses, nil
}

// ObserveLive fires distance reminders while a trip is still in progress.
// The policies are read from the store on every call, so a reminder that was
// cleared or re-saved mid-trip is seen at once. It returns the ids of the
// items it fired.
func (s *MaintenanceService) ObserveLive(ctx context.Context, vehicleID string, liveTotalKm float64) []string {
	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		log.Printf("Live reminder check for vehicle %s failed: %v", vehicleID, err)
		return nil
	}

	var fired []string
	for _, itemID := range sortedReminderIDs(vehicle) {
		state, ok := vehicle.ReminderStates[itemID]
		if !ok || state.DistanceNotified {
			continue
		}
		item, ok := s.catalog.Get(itemID)
		if !ok || item.SuggestedDistanceIntervalKm <= 0 {
			continue
		}
		threshold := state.BaselineOdometer + item.SuggestedDistanceIntervalKm
		if liveTotalKm < threshold {
			continue
		}
		err := s.notifyDistance(ctx, vehicle, item, threshold)
		if errors.Is(err, errReminderCleared) {
			continue
		}
		if err != nil {
			log.Printf("Live reminder for %s failed: %v", DistanceKey(itemID, vehicle.ID), err)
			continue
		}
		fired = append(fired, itemID)
	}
	return fired
}

// errReminderCleared reports a policy removed between reading the vehicle
// and marking its distance reminder.
var errReminderCleared = errors.New("reminder cleared")

func (s *MaintenanceService) notifyDistance(ctx context.Context, vehicle *models.Vehicle, item models.MaintenanceItem, threshold float64) error {
	key := DistanceKey(item.ID, vehicle.ID)
	if err := s.dispatcher.Cancel(ctx, key); err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}

	req := reminder.Request{
		Key:     key,
		FireNow: true,
		Title:   fmt.Sprintf("%s due", item.Name),
		Body:    fmt.Sprintf("%s has reached %.0f km. %s is due.", vehicleLabel(vehicle), threshold, item.Name),
		Context: reminder.Context{VehicleID: vehicle.ID, ItemID: item.ID},
	}
	if err := s.dispatcher.Schedule(ctx, req); err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}

	err := s.store.MarkDistanceNotified(ctx, vehicle.ID, item.ID, s.now())
	if errors.Is(err, repository.ErrReminderNotSet) {
		log.Printf("Reminder %s was cleared while firing, withdrawing it", key)
		if err := s.dispatcher.Cancel(ctx, key); err != nil {
			return fmt.Errorf("withdraw %s: %w", key, err)
		}
		return errReminderCleared
	}
	if err != nil {
		return fmt.Errorf("mark %s notified: %w", key, err)
	}
	s.invalidate(ctx, vehicle.ID)
	log.Printf("Distance reminder %s scheduled at %.2f km", key, threshold)
	return nil
}

// timeRequest builds the time reminder. A due instant that is not in the
// future fires after the past-due delay instead of being skipped.
func (s *MaintenanceService) timeRequest(vehicle *models.Vehicle, item models.MaintenanceItem, dueAt, now time.Time) reminder.Request {
	fireAt := dueAt
	if !fireAt.After(now) {
		fireAt = now.Add(s.pastDueDelay)
	}
	return reminder.Request{
		Key:     TimeKey(item.ID, vehicle.ID),
		FireAt:  fireAt,
		Title:   fmt.Sprintf("%s due", item.Name),
		Body:    fmt.Sprintf("It's time for %s on %s.", item.Name, vehicleLabel(vehicle)),
		Context: reminder.Context{VehicleID: vehicle.ID, ItemID: item.ID},
	}
}

func (s *MaintenanceService) evaluateVehicle(vehicle *models.Vehicle, liveTotal float64, now time.Time) []models.ItemStatus {
	var statuses []models.ItemStatus
	for _, itemID := range sortedReminderIDs(vehicle) {
		item, ok := s.catalog.Get(itemID)
		if !ok {
			continue
		}
		state, ok := vehicle.ReminderStates[itemID]
		if !ok {
			// policies saved before baselines were tracked start from now
			state = models.ReminderState{BaselineOdometer: liveTotal, SavedAt: now}
		}
		statuses = append(statuses, s.evaluateItem(vehicle, item, vehicle.Reminders[itemID], state, liveTotal, now))
	}
	return statuses
}

func (s *MaintenanceService) evaluateItem(vehicle *models.Vehicle, item models.MaintenanceItem, months int, state models.ReminderState, liveTotal float64, now time.Time) models.ItemStatus {
	status := models.ItemStatus{
		VehicleID:        vehicle.ID,
		ItemID:           item.ID,
		ItemName:         item.Name,
		Months:           months,
		DistanceNotified: state.DistanceNotified,
	}

	if months > 0 {
		status.TimeDueAt = state.SavedAt.AddDate(0, months, 0)
		status.TimeDue = !status.TimeDueAt.After(now)
	}

	var threshold *float64
	if item.SuggestedDistanceIntervalKm > 0 {
		t := state.BaselineOdometer + item.SuggestedDistanceIntervalKm
		threshold = &t
		status.DistanceThreshold = t
		status.DistanceDue = liveTotal >= t
		if !status.DistanceDue {
			status.DistanceRemaining = models.RoundDistance(t - liveTotal)
		}
	}

	status.Due = status.TimeDue || status.DistanceDue
	var dueAt *time.Time
	if months > 0 {
		dueAt = &status.TimeDueAt
	}
	status.Priority = calculatePriority(dueAt, threshold, liveTotal, now)
	return status
}

func calculatePriority(dueDate *time.Time, dueOdometer *float64, currentOdometer float64, now time.Time) string {
	if dueDate != nil {
		daysUntil := int(dueDate.Sub(now).Hours() / 24)
		if !dueDate.After(now) {
			return models.PriorityUrgent
		} else if daysUntil <= 7 {
			return models.PriorityHigh
		} else if daysUntil <= 30 {
			return models.PriorityMedium
		}
	}

	if dueOdometer != nil {
		odometerUntil := *dueOdometer - currentOdometer
		if odometerUntil <= 0 {
			return models.PriorityUrgent
		} else if odometerUntil <= 1000 {
			return models.PriorityHigh
		} else if odometerUntil <= 5000 {
			return models.PriorityMedium
		}
	}

	return models.PriorityLow
}

func (s *MaintenanceService) committed(ctx context.Context, vehicle *models.Vehicle) (float64, error) {
	if s.odometer != nil {
		return s.odometer.CommittedOdometer(ctx, vehicle)
	}
	current, _ := vehicle.CommittedOdometer()
	return current, nil
}

func (s *MaintenanceService) cancelAll(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := s.dispatcher.Cancel(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrReminderScheduleFailed, errors.Join(errs...))
	}
	return nil
}

func (s *MaintenanceService) invalidate(ctx context.Context, vehicleID string) {
	if s.cacheManager == nil {
		return
	}
	if err := s.cacheManager.InvalidateVehicle(ctx, vehicleID); err != nil {
		log.Printf("Failed to invalidate vehicle cache for %s: %v", vehicleID, err)
	}
}

// sortedReminderIDs returns the items with an active policy in a stable order.
func sortedReminderIDs(vehicle *models.Vehicle) []string {
	ids := make([]string, 0, len(vehicle.Reminders))
	for id, months := range vehicle.Reminders {
		if months > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func vehicleLabel(vehicle *models.Vehicle) string {
	if vehicle.Name != "" {
		return vehicle.Name
	}
	if vehicle.PlateNumber != "" {
		return vehicle.PlateNumber
	}
	return "Your vehicle"
}
