package repository

import (
	"context"
	"errors"
	"time"

	"odometer-backend/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queryTimeout = 10 * time.Second

type VehicleRepository struct {
	collection *mongo.Collection
}

func NewVehicleRepository(db *mongo.Database) *VehicleRepository {
	return &VehicleRepository{
		collection: db.Collection("vehicles"),
	}
}

func (r *VehicleRepository) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	if vehicle.Reminders == nil {
		vehicle.Reminders = map[string]int{}
	}
	if vehicle.ReminderStates == nil {
		vehicle.ReminderStates = map[string]models.ReminderState{}
	}
	vehicle.CreatedAt = time.Now()
	vehicle.UpdatedAt = vehicle.CreatedAt

	_, err := r.collection.InsertOne(ctx, vehicle)
	return err
}

func (r *VehicleRepository) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var vehicle models.Vehicle
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&vehicle)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVehicleNotFound
		}
		return nil, err
	}

	return &vehicle, nil
}

func (r *VehicleRepository) ListVehicles(ctx context.Context, ownerID string) ([]*models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var vehicles []*models.Vehicle
	for cursor.Next(ctx) {
		var vehicle models.Vehicle
		if err := cursor.Decode(&vehicle); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, &vehicle)
	}

	return vehicles, cursor.Err()
}

func (r *VehicleRepository) UpdateOdometer(ctx context.Context, id string, expected *float64, next float64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{"_id": id}
	if expected != nil {
		filter["$or"] = bson.A{
			bson.M{"total_distance": *expected},
			bson.M{"total_distance": bson.M{"$exists": false}, "odometer": *expected},
		}
	} else {
		filter["total_distance"] = bson.M{"$exists": false}
		filter["$or"] = bson.A{
			bson.M{"odometer": bson.M{"$exists": false}},
			bson.M{"odometer": bson.M{"$lte": 0}},
		}
	}

	update := bson.M{
		"$set": bson.M{
			"odometer":       next,
			"total_distance": next,
			"updated_at":     time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.missOr(ctx, id, ErrOdometerConflict)
	}
	return nil
}

func (r *VehicleRepository) SaveReminder(ctx context.Context, id, itemID string, months int, state *models.ReminderState) error {
	if err := ValidateItemID(itemID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var update bson.M
	if state == nil {
		update = bson.M{
			"$unset": bson.M{
				"reminders." + itemID:       "",
				"reminder_states." + itemID: "",
			},
			"$set": bson.M{"updated_at": time.Now()},
		}
	} else {
		update = bson.M{
			"$set": bson.M{
				"reminders." + itemID:       months,
				"reminder_states." + itemID: state,
				"updated_at":                time.Now(),
			},
		}
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrVehicleNotFound
	}
	return nil
}

func (r *VehicleRepository) MarkDistanceNotified(ctx context.Context, id, itemID string, at time.Time) error {
	if err := ValidateItemID(itemID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	prefix := "reminder_states." + itemID
	update := bson.M{
		"$set": bson.M{
			prefix + ".distance_notified": true,
			prefix + ".notified_at":       at,
			"updated_at":                  time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id, prefix: bson.M{"$exists": true}}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.missOr(ctx, id, ErrReminderNotSet)
	}
	return nil
}

// missOr explains an update that matched nothing: the vehicle is gone, or
// it exists and the rest of the filter did not hold.
func (r *VehicleRepository) missOr(ctx context.Context, id string, filterErr error) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrVehicleNotFound
	}
	return filterErr
}
