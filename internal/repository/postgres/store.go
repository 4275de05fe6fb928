// Package postgres implements the repository interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier represents the database operations used by Store.
// Both *pgxpool.Pool and pgxmock pools satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const vehicleColumns = `id, owner_id, name, plate_number, make, model, year, odometer,
	total_distance IS NOT NULL, COALESCE(total_distance, 0), reminders, reminder_states, created_at, updated_at`

func (s *Store) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	if vehicle.Reminders == nil {
		vehicle.Reminders = map[string]int{}
	}
	if vehicle.ReminderStates == nil {
		vehicle.ReminderStates = map[string]models.ReminderState{}
	}
	reminders, err := json.Marshal(vehicle.Reminders)
	if err != nil {
		return err
	}
	states, err := json.Marshal(vehicle.ReminderStates)
	if err != nil {
		return err
	}
	vehicle.CreatedAt = time.Now()
	vehicle.UpdatedAt = vehicle.CreatedAt

	_, err = s.db.Exec(ctx, `
		INSERT INTO vehicles (id, owner_id, name, plate_number, make, model, year, odometer, total_distance,
			reminders, reminder_states, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		vehicle.ID, vehicle.OwnerID, vehicle.Name, vehicle.PlateNumber, vehicle.Make, vehicle.Model, vehicle.Year,
		vehicle.Odometer, vehicle.TotalDistance, reminders, states, vehicle.CreatedAt)
	return err
}

func (s *Store) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	row := s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrVehicleNotFound
	}
	return v, err
}

func (s *Store) ListVehicles(ctx context.Context, ownerID string) ([]*models.Vehicle, error) {
	rows, err := s.db.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOdometer(ctx context.Context, id string, expected *float64, next float64) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == nil {
		tag, err = s.db.Exec(ctx, `
			UPDATE vehicles SET odometer = $2, total_distance = $2, updated_at = now()
			WHERE id = $1 AND total_distance IS NULL AND odometer <= 0`, id, next)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE vehicles SET odometer = $2, total_distance = $2, updated_at = now()
			WHERE id = $1 AND COALESCE(total_distance, odometer) = $3`, id, next, *expected)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.missOr(ctx, id, repository.ErrOdometerConflict)
}

// missOr explains an update that touched no row: the vehicle is gone, or it
// exists and the rest of the WHERE clause did not hold.
func (s *Store) missOr(ctx context.Context, id string, filterErr error) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrVehicleNotFound
	}
	return filterErr
}

func (s *Store) SaveReminder(ctx context.Context, id, itemID string, months int, state *models.ReminderState) error {
	if err := repository.ValidateItemID(itemID); err != nil {
		return err
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if state == nil {
		tag, err = s.db.Exec(ctx, `
			UPDATE vehicles SET reminders = reminders - $2, reminder_states = reminder_states - $2, updated_at = now()
			WHERE id = $1`, id, itemID)
	} else {
		encoded, mErr := json.Marshal(state)
		if mErr != nil {
			return mErr
		}
		tag, err = s.db.Exec(ctx, `
			UPDATE vehicles SET
				reminders = reminders || jsonb_build_object($2::text, $3::int),
				reminder_states = reminder_states || jsonb_build_object($2::text, $4::jsonb),
				updated_at = now()
			WHERE id = $1`, id, itemID, months, encoded)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVehicleNotFound
	}
	return nil
}

func (s *Store) MarkDistanceNotified(ctx context.Context, id, itemID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles SET
			reminder_states = jsonb_set(reminder_states, ARRAY[$2::text],
				(reminder_states -> $2::text) || jsonb_build_object('distanceNotified', true, 'notifiedAt', $3::timestamptz)),
			updated_at = now()
		WHERE id = $1 AND reminder_states ? $2::text`, id, itemID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOr(ctx, id, repository.ErrReminderNotSet)
	}
	return nil
}

const tripColumns = `id, vehicle_id, user_id, start_location, end_location, distance, path, date`

func (s *Store) AppendTrip(ctx context.Context, trip *models.Trip) error {
	start, err := json.Marshal(trip.StartLocation)
	if err != nil {
		return err
	}
	end, err := json.Marshal(trip.EndLocation)
	if err != nil {
		return err
	}
	path := trip.Path
	if path == nil {
		path = []models.PathPoint{}
	}
	encodedPath, err := json.Marshal(path)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			start_location = EXCLUDED.start_location,
			end_location = EXCLUDED.end_location,
			distance = EXCLUDED.distance,
			path = EXCLUDED.path,
			date = EXCLUDED.date`,
		trip.ID, trip.VehicleID, trip.UserID, start, end, trip.Distance, encodedPath, trip.Date)
	return err
}

func (s *Store) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	trip, err := scanTrip(s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrTripNotFound
	}
	return trip, err
}

func (s *Store) ListTrips(ctx context.Context, vehicleID string, limit int) ([]*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE vehicle_id = $1 ORDER BY date DESC`
	args := []any{vehicleID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, trip)
	}
	return out, rows.Err()
}

func (s *Store) SumTripDistances(ctx context.Context, vehicleID string) (float64, int64, error) {
	var (
		total float64
		count int64
	)
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(distance), 0), COUNT(*) FROM trips WHERE vehicle_id = $1`, vehicleID).
		Scan(&total, &count)
	return total, count, err
}

func (s *Store) AddMonthlyDistance(ctx context.Context, vehicleID, period, tripID string, km float64) (*models.MonthlyDistance, error) {
	m := &models.MonthlyDistance{VehicleID: vehicleID, Period: period}
	err := s.db.QueryRow(ctx, `
		WITH counted AS (
			INSERT INTO monthly_distance_trips (trip_id, vehicle_id, period)
			VALUES ($3, $1, $2)
			ON CONFLICT (trip_id) DO NOTHING
			RETURNING trip_id
		)
		INSERT INTO monthly_distances (vehicle_id, period, total_distance, created_at, updated_at)
		SELECT $1, $2, $4, now(), now() FROM counted
		ON CONFLICT (vehicle_id, period) DO UPDATE SET
			total_distance = monthly_distances.total_distance + EXCLUDED.total_distance,
			updated_at = now()
		RETURNING total_distance, created_at, updated_at`, vehicleID, period, tripID, km).
		Scan(&m.TotalDistance, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// the trip was counted by an earlier attempt
		return s.GetMonthlyDistance(ctx, vehicleID, period)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert monthly distance: %w", err)
	}
	return m, nil
}

func (s *Store) GetMonthlyDistance(ctx context.Context, vehicleID, period string) (*models.MonthlyDistance, error) {
	m := &models.MonthlyDistance{VehicleID: vehicleID, Period: period}
	err := s.db.QueryRow(ctx, `
		SELECT total_distance, created_at, updated_at FROM monthly_distances
		WHERE vehicle_id = $1 AND period = $2`, vehicleID, period).
		Scan(&m.TotalDistance, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanVehicle(row pgx.Row) (*models.Vehicle, error) {
	var (
		v         models.Vehicle
		hasTotal  bool
		total     float64
		reminders []byte
		states    []byte
	)
	err := row.Scan(&v.ID, &v.OwnerID, &v.Name, &v.PlateNumber, &v.Make, &v.Model, &v.Year, &v.Odometer,
		&hasTotal, &total, &reminders, &states, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hasTotal {
		v.TotalDistance = &total
	}
	v.Reminders = map[string]int{}
	if len(reminders) > 0 {
		if err := json.Unmarshal(reminders, &v.Reminders); err != nil {
			return nil, fmt.Errorf("decode reminders: %w", err)
		}
	}
	v.ReminderStates = map[string]models.ReminderState{}
	if len(states) > 0 {
		if err := json.Unmarshal(states, &v.ReminderStates); err != nil {
			return nil, fmt.Errorf("decode reminder states: %w", err)
		}
	}
	return &v, nil
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var (
		t          models.Trip
		start, end []byte
		path       []byte
	)
	if err := row.Scan(&t.ID, &t.VehicleID, &t.UserID, &start, &end, &t.Distance, &path, &t.Date); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		raw []byte
		dst any
	}{{start, &t.StartLocation}, {end, &t.EndLocation}, {path, &t.Path}} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("decode trip %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

var _ repository.Store = (*Store)(nil)
