package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	VehiclesCollection        = "vehicles"
	DriversCollection         = "drivers"
	TripsCollection           = "trips"
	CostsCollection           = "costs"
	NotificationsCollection   = "notifications"
	MaintenanceCollectionName = "maintenance"
)

// ConnectMongo connects to MongoDB at uri and verifies the connection.
func ConnectMongo(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

func objectID(kind, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid %s ID %q: %w", kind, id, ErrNotFound)
	}
	return oid, nil
}

// MongoRegistry implements Registry on the vehicles and drivers collections.
type MongoRegistry struct {
	Vehicles *mongo.Collection
	Drivers  *mongo.Collection
}

// NewMongoRegistry creates a registry backed by database.
func NewMongoRegistry(database *mongo.Database) *MongoRegistry {
	return &MongoRegistry{
		Vehicles: database.Collection(VehiclesCollection),
		Drivers:  database.Collection(DriversCollection),
	}
}

// InsertVehicle inserts a vehicle record into the collection.
func (r *MongoRegistry) InsertVehicle(ctx context.Context, vehicle models.Vehicle) error {
	if r.Vehicles == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	vehicle.CreatedAt = time.Now()
	vehicle.UpdatedAt = vehicle.CreatedAt
	_, err := r.Vehicles.InsertOne(ctx, vehicle)
	return err
}

// InsertDriver inserts a driver record into the collection.
func (r *MongoRegistry) InsertDriver(ctx context.Context, driver models.Driver) error {
	if r.Drivers == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	driver.CreatedAt = time.Now()
	driver.UpdatedAt = driver.CreatedAt
	_, err := r.Drivers.InsertOne(ctx, driver)
	return err
}

// FindVehicleByID finds a vehicle by its ID.
func (r *MongoRegistry) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	if r.Vehicles == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("vehicle", id)
	if err != nil {
		return nil, err
	}

	var vehicle models.Vehicle
	err = r.Vehicles.FindOne(ctx, bson.M{"_id": oid}).Decode(&vehicle)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &vehicle, nil
}

// FindDriverByID finds a driver by its ID.
func (r *MongoRegistry) FindDriverByID(ctx context.Context, id string) (*models.Driver, error) {
	if r.Drivers == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("driver", id)
	if err != nil {
		return nil, err
	}

	var driver models.Driver
	err = r.Drivers.FindOne(ctx, bson.M{"_id": oid}).Decode(&driver)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("driver %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &driver, nil
}

// TransitionVehicle conditionally changes a vehicle's status.
func (r *MongoRegistry) TransitionVehicle(ctx context.Context, id string, t StatusTransition) (bool, error) {
	return transition(ctx, r.Vehicles, "vehicle", id, t)
}

// TransitionDriver conditionally changes a driver's status.
func (r *MongoRegistry) TransitionDriver(ctx context.Context, id string, t StatusTransition) (bool, error) {
	return transition(ctx, r.Drivers, "driver", id, t)
}

// transition is a single UpdateOne whose filter carries the precondition, so the
// check and the write are atomic on the server.
func transition(ctx context.Context, coll *mongo.Collection, kind, id string, t StatusTransition) (bool, error) {
	if coll == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID(kind, id)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": oid, "status": t.From}
	if t.ExpectTrip != "" {
		filter["current_trip_id"] = t.ExpectTrip
	}
	update := bson.M{"$set": bson.M{
		"status":          t.To,
		"current_trip_id": t.SetTrip,
		"updated_at":      time.Now(),
	}}
	result, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("transition %s %s %s->%s: %w", kind, id, t.From, t.To, err)
	}
	return result.MatchedCount == 1, nil
}

// RecordVehicleTrip folds a completed trip into the vehicle totals.
func (r *MongoRegistry) RecordVehicleTrip(ctx context.Context, id string, endOdometer, distanceKm, fuelCost float64) error {
	return r.updateByID(ctx, r.Vehicles, "vehicle", id, bson.M{
		"$inc": bson.M{
			"total_trips":       1,
			"total_distance_km": distanceKm,
			"total_fuel_cost":   fuelCost,
		},
		"$max": bson.M{"current_odometer": endOdometer},
		"$set": bson.M{"updated_at": time.Now()},
	})
}

// AddVehicleMaintenanceCost increments the vehicle's maintenance total.
func (r *MongoRegistry) AddVehicleMaintenanceCost(ctx context.Context, id string, cost float64) error {
	return r.updateByID(ctx, r.Vehicles, "vehicle", id, bson.M{
		"$inc": bson.M{"total_maintenance_cost": cost},
		"$set": bson.M{"updated_at": time.Now()},
	})
}

// IncrementDriverTrips increments the driver's assignment and completion counters.
func (r *MongoRegistry) IncrementDriverTrips(ctx context.Context, id string, assigned, completed int64) error {
	return r.updateByID(ctx, r.Drivers, "driver", id, bson.M{
		"$inc": bson.M{
			"total_trips_assigned":  assigned,
			"total_trips_completed": completed,
		},
		"$set": bson.M{"updated_at": time.Now()},
	})
}

func (r *MongoRegistry) updateByID(ctx context.Context, coll *mongo.Collection, kind, id string, update bson.M) error {
	if coll == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID(kind, id)
	if err != nil {
		return err
	}
	result, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// MongoCollection wraps a single MongoDB collection holding trips, costs,
// notifications or maintenance records.
type MongoCollection struct {
	Collection *mongo.Collection
}

// InsertTrip inserts a trip record into the collection.
func (c *MongoCollection) InsertTrip(ctx context.Context, trip models.Trip) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	trip.CreatedAt = time.Now()
	trip.UpdatedAt = trip.CreatedAt
	_, err := c.Collection.InsertOne(ctx, trip)
	return err
}

// FindTripByID finds a trip by its ID.
func (c *MongoCollection) FindTripByID(ctx context.Context, id string) (*models.Trip, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("trip", id)
	if err != nil {
		return nil, err
	}
	var trip models.Trip
	err = c.Collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&trip)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("trip %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &trip, nil
}

// TransitionTrip updates a trip only while its status is one of from.
func (c *MongoCollection) TransitionTrip(ctx context.Context, id string, from []models.TripStatus, u TripUpdate) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("trip", id)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": oid, "status": bson.M{"$in": from}}
	result, err := c.Collection.UpdateOne(ctx, filter, bson.M{"$set": u.setDocument()})
	if err != nil {
		return false, fmt.Errorf("transition trip %s: %w", id, err)
	}
	return result.MatchedCount == 1, nil
}

// DeleteTrip deletes a trip while its status is one of allowed.
func (c *MongoCollection) DeleteTrip(ctx context.Context, id string, allowed []models.TripStatus) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("trip", id)
	if err != nil {
		return false, err
	}
	result, err := c.Collection.DeleteOne(ctx, bson.M{"_id": oid, "status": bson.M{"$in": allowed}})
	if err != nil {
		return false, err
	}
	return result.DeletedCount == 1, nil
}

func (u TripUpdate) setDocument() bson.M {
	set := bson.M{"status": u.Status, "updated_at": time.Now()}
	if u.DriverID != nil {
		set["driver_id"] = *u.DriverID
	}
	if u.StartOdometer != nil {
		set["start_odometer"] = *u.StartOdometer
	}
	if u.EndOdometer != nil {
		set["end_odometer"] = *u.EndOdometer
	}
	if u.DistanceKm != nil {
		set["distance_km"] = *u.DistanceKm
	}
	if u.ActualCost != nil {
		set["actual_cost"] = *u.ActualCost
	}
	if u.DispatchedAt != nil {
		set["dispatched_at"] = *u.DispatchedAt
	}
	if u.CompletedAt != nil {
		set["completed_at"] = *u.CompletedAt
	}
	if u.CancelledAt != nil {
		set["cancelled_at"] = *u.CancelledAt
	}
	return set
}

// InsertCost inserts a cost record into the collection.
func (c *MongoCollection) InsertCost(ctx context.Context, cost models.Cost) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	cost.CreatedAt = time.Now()
	cost.UpdatedAt = cost.CreatedAt
	_, err := c.Collection.InsertOne(ctx, cost)
	return err
}

// InsertNotification inserts a notification into the collection.
func (c *MongoCollection) InsertNotification(ctx context.Context, n models.Notification) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := c.Collection.InsertOne(ctx, n)
	return err
}

// InsertMaintenance inserts a maintenance record into the collection.
func (c *MongoCollection) InsertMaintenance(ctx context.Context, maintenance models.Maintenance) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	maintenance.CreatedAt = time.Now()
	maintenance.UpdatedAt = maintenance.CreatedAt
	_, err := c.Collection.InsertOne(ctx, maintenance)
	return err
}

// FindMaintenanceByID finds a maintenance record by its ID.
func (c *MongoCollection) FindMaintenanceByID(ctx context.Context, id string) (*models.Maintenance, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("maintenance", id)
	if err != nil {
		return nil, err
	}
	var maintenance models.Maintenance
	err = c.Collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&maintenance)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("maintenance %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &maintenance, nil
}

// CompleteMaintenance marks an in-progress maintenance record as completed.
func (c *MongoCollection) CompleteMaintenance(ctx context.Context, id string, cost float64, at time.Time) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("maintenance", id)
	if err != nil {
		return false, err
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": oid, "status": models.MaintenanceStatusInProgress},
		bson.M{"$set": bson.M{
			"status":       models.MaintenanceStatusCompleted,
			"cost":         cost,
			"completed_at": at,
			"updated_at":   time.Now(),
		}},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// DeleteMaintenance deletes a maintenance record by its ID.
func (c *MongoCollection) DeleteMaintenance(ctx context.Context, id string) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	oid, err := objectID("maintenance", id)
	if err != nil {
		return err
	}
	_, err = c.Collection.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

var (
	_ Registry               = (*MongoRegistry)(nil)
	_ TripCollection         = (*MongoCollection)(nil)
	_ CostCollection         = (*MongoCollection)(nil)
	_ NotificationCollection = (*MongoCollection)(nil)
	_ MaintenanceCollection  = (*MongoCollection)(nil)
)
