package repository

import (
	"context"
	"errors"
	"time"

	"odometer-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TripRepository struct {
	collection        *mongo.Collection
	monthlyCollection *mongo.Collection
}

func NewTripRepository(db *mongo.Database) *TripRepository {
	return &TripRepository{
		collection:        db.Collection("trips"),
		monthlyCollection: db.Collection("monthly_distances"),
	}
}

func (r *TripRepository) AppendTrip(ctx context.Context, trip *models.Trip) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": trip.ID}, trip, options.Replace().SetUpsert(true))
	return err
}

func (r *TripRepository) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var trip models.Trip
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&trip); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return &trip, nil
}

func (r *TripRepository) ListTrips(ctx context.Context, vehicleID string, limit int) ([]*models.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"vehicle_id": vehicleID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var trips []*models.Trip
	for cursor.Next(ctx) {
		var trip models.Trip
		if err := cursor.Decode(&trip); err != nil {
			return nil, err
		}
		trips = append(trips, &trip)
	}

	return trips, cursor.Err()
}

func (r *TripRepository) SumTripDistances(ctx context.Context, vehicleID string) (float64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pipeline := []bson.M{
		{"$match": bson.M{"vehicle_id": vehicleID}},
		{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$distance"},
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, err
	}
	defer cursor.Close(ctx)

	var result struct {
		Total float64 `bson:"total"`
		Count int64   `bson:"count"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return 0, 0, err
		}
	}

	return result.Total, result.Count, cursor.Err()
}

func (r *TripRepository) AddMonthlyDistance(ctx context.Context, vehicleID, period, tripID string, km float64) (*models.MonthlyDistance, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	update := bson.M{
		"$inc":      bson.M{"total_distance": km},
		"$set":      bson.M{"updated_at": now},
		"$addToSet": bson.M{"trip_ids": tripID},
		"$setOnInsert": bson.M{
			"vehicle_id": vehicleID,
			"period":     period,
			"created_at": now,
		},
	}

	// a bucket that already lists the trip does not match, and the upsert
	// then collides on _id
	result := r.monthlyCollection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": monthlyKey(vehicleID, period), "trip_ids": bson.M{"$ne": tripID}},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var monthly models.MonthlyDistance
	if err := result.Decode(&monthly); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.GetMonthlyDistance(ctx, vehicleID, period)
		}
		return nil, err
	}
	return &monthly, nil
}

func (r *TripRepository) GetMonthlyDistance(ctx context.Context, vehicleID, period string) (*models.MonthlyDistance, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var monthly models.MonthlyDistance
	err := r.monthlyCollection.FindOne(ctx, bson.M{"_id": monthlyKey(vehicleID, period)}).Decode(&monthly)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &models.MonthlyDistance{VehicleID: vehicleID, Period: period}, nil
		}
		return nil, err
	}
	return &monthly, nil
}

func monthlyKey(vehicleID, period string) string {
	return vehicleID + ":" + period
}
