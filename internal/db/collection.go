package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ErrNotFound is returned (wrapped) when a referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// StatusTransition describes a conditional status change of a vehicle or driver.
// It commits only if the stored status equals From and, when ExpectTrip is set,
// the stored holder equals ExpectTrip. On commit the holder is replaced by SetTrip.
type StatusTransition struct {
	From       string
	To         string
	ExpectTrip string
	SetTrip    string
}

// Registry is the durable store of vehicles and drivers. Status is only ever
// changed through the Transition* methods.
type Registry interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) error
	InsertDriver(ctx context.Context, driver models.Driver) error
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	FindDriverByID(ctx context.Context, id string) (*models.Driver, error)

	// TransitionVehicle and TransitionDriver report false with a nil error when the
	// precondition did not hold; nothing is written in that case.
	TransitionVehicle(ctx context.Context, id string, t StatusTransition) (bool, error)
	TransitionDriver(ctx context.Context, id string, t StatusTransition) (bool, error)

	// RecordVehicleTrip adds one trip with its distance and fuel cost to the vehicle
	// totals and raises the odometer to endOdometer. It never lowers the odometer.
	RecordVehicleTrip(ctx context.Context, id string, endOdometer, distanceKm, fuelCost float64) error
	AddVehicleMaintenanceCost(ctx context.Context, id string, cost float64) error
	IncrementDriverTrips(ctx context.Context, id string, assigned, completed int64) error
}

// TripUpdate lists the fields written together with a trip status change.
// Nil pointers leave the stored value untouched.
type TripUpdate struct {
	Status        models.TripStatus
	DriverID      *string
	StartOdometer *float64
	EndOdometer   *float64
	DistanceKm    *float64
	ActualCost    *float64
	DispatchedAt  *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// TripCollection defines the interface for trip data operations.
type TripCollection interface {
	InsertTrip(ctx context.Context, trip models.Trip) error
	FindTripByID(ctx context.Context, id string) (*models.Trip, error)
	// TransitionTrip applies u only if the stored status is one of from.
	TransitionTrip(ctx context.Context, id string, from []models.TripStatus, u TripUpdate) (bool, error)
	// DeleteTrip removes the trip only if its stored status is one of allowed.
	DeleteTrip(ctx context.Context, id string, allowed []models.TripStatus) (bool, error)
}

// CostCollection defines the interface for expense records.
type CostCollection interface {
	InsertCost(ctx context.Context, cost models.Cost) error
}

// NotificationCollection stores role-targeted notifications.
type NotificationCollection interface {
	InsertNotification(ctx context.Context, n models.Notification) error
}

// MaintenanceCollection defines the interface for maintenance records.
type MaintenanceCollection interface {
	InsertMaintenance(ctx context.Context, m models.Maintenance) error
	FindMaintenanceByID(ctx context.Context, id string) (*models.Maintenance, error)
	// CompleteMaintenance moves an in-progress record to completed with its final cost.
	CompleteMaintenance(ctx context.Context, id string, cost float64, at time.Time) (bool, error)
	DeleteMaintenance(ctx context.Context, id string) error
}
