package repository

import (
	"context"

	"odometer-backend/pkg/database"

	"go.mongodb.org/mongo-driver/mongo"
)

// MongoStore serves vehicles, trips and monthly aggregates from one database.
type MongoStore struct {
	*VehicleRepository
	*TripRepository
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		VehicleRepository: NewVehicleRepository(db),
		TripRepository:    NewTripRepository(db),
		db:                db,
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return database.Health(ctx, s.db)
}
