package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		plate_number    TEXT NOT NULL DEFAULT '',
		make            TEXT NOT NULL DEFAULT '',
		model           TEXT NOT NULL DEFAULT '',
		year            INTEGER NOT NULL DEFAULT 0,
		odometer        DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_distance  DOUBLE PRECISION,
		reminders       JSONB NOT NULL DEFAULT '{}'::jsonb,
		reminder_states JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS vehicles_owner_idx ON vehicles (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id             TEXT PRIMARY KEY,
		vehicle_id     TEXT NOT NULL REFERENCES vehicles (id),
		user_id        TEXT NOT NULL,
		start_location JSONB,
		end_location   JSONB,
		distance       DOUBLE PRECISION NOT NULL CHECK (distance >= 0),
		path           JSONB NOT NULL DEFAULT '[]'::jsonb,
		date           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trips_vehicle_date_idx ON trips (vehicle_id, date DESC)`,
	`CREATE TABLE IF NOT EXISTS monthly_distances (
		vehicle_id     TEXT NOT NULL,
		period         TEXT NOT NULL,
		total_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (vehicle_id, period)
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_distance_trips (
		trip_id    TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		period     TEXT NOT NULL
	)`,
}

// EnsureSchema creates the tables used by Store when they do not exist.
func EnsureSchema(ctx context.Context, db Querier) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
