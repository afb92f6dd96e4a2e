// Package dispatch coordinates the trip lifecycle: it allocates a vehicle and a
// driver exclusively to a trip, enforces the eligibility rules, and keeps trip,
// vehicle and driver state consistent across concurrent requests.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/emitter"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Emitter receives the derived records of committed transitions. Implementations
// must not fail the caller.
type Emitter interface {
	FuelExpense(ctx context.Context, trip *models.Trip, vehicle *models.Vehicle, distance, cost float64, actor models.Actor)
	Lifecycle(ctx context.Context, ev emitter.Event)
}

// CreateTripInput carries the fields a caller supplies for a new trip.
type CreateTripInput struct {
	VehicleID     string            `json:"vehicle_id"`
	DriverID      string            `json:"driver_id,omitempty"`
	Origin        string            `json:"origin"`
	Destination   string            `json:"destination"`
	CargoWeight   float64           `json:"cargo_weight"`
	CargoUnit     models.WeightUnit `json:"cargo_unit,omitempty"`
	EstimatedCost float64           `json:"estimated_cost"`
	Revenue       float64           `json:"revenue"`
	Notes         string            `json:"notes,omitempty"`
}

// Coordinator executes trip lifecycle operations. It holds no lock of its own;
// exclusivity comes from the conditional transitions of the storage layer.
type Coordinator struct {
	registry db.Registry
	trips    db.TripCollection
	emitter  Emitter
	metrics  metrics.Recorder
	log      *logrus.Entry
	now      func() time.Time
	newID    func() primitive.ObjectID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for eligibility and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMetrics records the outcome of every operation on rec.
func WithMetrics(rec metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = rec }
}

// WithLogger sets the logger entry.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates a Coordinator over the given stores.
func NewCoordinator(registry db.Registry, trips db.TripCollection, em Emitter, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		trips:    trips,
		emitter:  em,
		metrics:  metrics.Nop{},
		log:      logrus.NewEntry(logrus.StandardLogger()),
		now:      time.Now,
		newID:    primitive.NewObjectID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "dispatch")
	return c
}

// GetTrip returns the trip with the given id.
func (c *Coordinator) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	return c.loadTrip(ctx, "GetTrip", tripID)
}

// CreateTrip creates a trip. A dispatching actor gets the trip dispatched
// immediately, which requires a driver and allocates both resources. A planning
// actor gets a draft that reserves nothing.
func (c *Coordinator) CreateTrip(ctx context.Context, in CreateTripInput, actor models.Actor) (trip *models.Trip, err error) {
	const op = "CreateTrip"
	defer func() { c.metrics.RecordTransition(op, err) }()

	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	if !actor.Role.CanDispatch() && !actor.Role.CanPlan() {
		return nil, apperrors.Validation(op, apperrors.RuleRoleNotPermitted,
			"role %q may not create trips", actor.Role)
	}
	vehicle, err := c.loadVehicle(ctx, op, in.VehicleID)
	if err != nil {
		return nil, err
	}

	t := models.Trip{
		ID:            c.newID(),
		VehicleID:     in.VehicleID,
		DriverID:      in.DriverID,
		Origin:        in.Origin,
		Destination:   in.Destination,
		CargoWeight:   in.CargoWeight,
		CargoUnit:     in.CargoUnit,
		Status:        models.TripStatusDraft,
		EstimatedCost: in.EstimatedCost,
		Revenue:       in.Revenue,
		CreatedBy:     actor.UserID,
		Notes:         in.Notes,
	}

	if !actor.Role.CanDispatch() {
		if err := c.trips.InsertTrip(ctx, t); err != nil {
			return nil, fmt.Errorf("%s: insert trip: %w", op, err)
		}
		c.log.WithFields(logrus.Fields{"trip_id": t.ID.Hex(), "vehicle_id": t.VehicleID}).Info("Created draft trip")
		c.emitter.Lifecycle(ctx, emitter.Event{Type: models.EventTripCreated, Trip: t, Actor: actor})
		return &t, nil
	}

	if in.DriverID == "" {
		return nil, apperrors.Validation(op, apperrors.RuleDriverRequired, "a driver is required to dispatch a trip")
	}
	driver, err := c.loadDriver(ctx, op, in.DriverID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if err := CheckEligibility(vehicle, driver, t.CargoKg(), now); err != nil {
		return nil, err
	}

	tripID := t.ID.Hex()
	if err := c.allocate(ctx, op, tripID, in.VehicleID, in.DriverID); err != nil {
		return nil, err
	}
	startOdometer, err := c.heldOdometer(ctx, op, tripID, in.VehicleID, in.DriverID)
	if err != nil {
		return nil, err
	}

	t.Status = models.TripStatusDispatched
	t.StartOdometer = startOdometer
	t.DispatchedAt = &now
	if err := c.trips.InsertTrip(ctx, t); err != nil {
		if cerr := c.compensateBoth(ctx, op, tripID, in.VehicleID, in.DriverID); cerr != nil {
			return nil, errors.Join(fmt.Errorf("%s: insert trip: %w", op, err), cerr)
		}
		return nil, fmt.Errorf("%s: insert trip: %w", op, err)
	}
	c.countAssignment(ctx, op, tripID, in.DriverID)

	c.log.WithFields(logrus.Fields{
		"trip_id":    tripID,
		"vehicle_id": in.VehicleID,
		"driver_id":  in.DriverID,
	}).Info("Created dispatched trip")
	c.emitter.Lifecycle(ctx, emitter.Event{Type: models.EventTripDispatched, Trip: t, Actor: actor})
	return &t, nil
}

// DispatchTrip moves a draft to dispatched. driverID overrides the driver
// recorded on the draft when it is non-empty.
func (c *Coordinator) DispatchTrip(ctx context.Context, tripID, driverID string, actor models.Actor) (trip *models.Trip, err error) {
	const op = "DispatchTrip"
	defer func() { c.metrics.RecordTransition(op, err) }()

	if !actor.Role.CanDispatch() {
		return nil, apperrors.Validation(op, apperrors.RuleRoleNotPermitted,
			"role %q may not dispatch trips", actor.Role)
	}
	trip, err = c.loadTrip(ctx, op, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusDraft {
		return nil, apperrors.InvalidState(op, "trip %s is %s, only draft trips can be dispatched", tripID, trip.Status)
	}
	effective := driverID
	if effective == "" {
		effective = trip.DriverID
	}
	if effective == "" {
		return nil, apperrors.Validation(op, apperrors.RuleDriverRequired, "trip %s has no driver", tripID)
	}

	vehicle, err := c.loadVehicle(ctx, op, trip.VehicleID)
	if err != nil {
		return nil, err
	}
	driver, err := c.loadDriver(ctx, op, effective)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if err := CheckEligibility(vehicle, driver, trip.CargoKg(), now); err != nil {
		return nil, err
	}

	if err := c.allocate(ctx, op, tripID, trip.VehicleID, effective); err != nil {
		return nil, err
	}
	startOdometer, err := c.heldOdometer(ctx, op, tripID, trip.VehicleID, effective)
	if err != nil {
		return nil, err
	}

	update := db.TripUpdate{
		Status:        models.TripStatusDispatched,
		DriverID:      &effective,
		StartOdometer: &startOdometer,
		DispatchedAt:  &now,
	}
	ok, err := c.trips.TransitionTrip(ctx, tripID, []models.TripStatus{models.TripStatusDraft}, update)
	if err != nil || !ok {
		if cerr := c.compensateBoth(ctx, op, tripID, trip.VehicleID, effective); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			return nil, fmt.Errorf("%s: update trip %s: %w", op, tripID, err)
		}
		return nil, apperrors.InvalidState(op, "trip %s left draft while being dispatched", tripID)
	}
	c.countAssignment(ctx, op, tripID, effective)

	trip.Status = models.TripStatusDispatched
	trip.DriverID = effective
	trip.StartOdometer = startOdometer
	trip.DispatchedAt = &now

	c.log.WithFields(logrus.Fields{
		"trip_id":    tripID,
		"vehicle_id": trip.VehicleID,
		"driver_id":  effective,
	}).Info("Dispatched trip")
	c.emitter.Lifecycle(ctx, emitter.Event{Type: models.EventTripDispatched, Trip: *trip, Actor: actor})
	return trip, nil
}

// CompleteTrip closes a dispatched trip at endOdometer, releases its resources,
// rolls the trip into the vehicle and driver totals and emits the fuel expense.
func (c *Coordinator) CompleteTrip(ctx context.Context, tripID string, endOdometer float64, actor models.Actor) (trip *models.Trip, err error) {
	const op = "CompleteTrip"
	defer func() { c.metrics.RecordTransition(op, err) }()

	if !actor.Role.HasPermission("complete_trip") {
		return nil, apperrors.Validation(op, apperrors.RuleRoleNotPermitted,
			"role %q may not complete trips", actor.Role)
	}
	trip, err = c.loadTrip(ctx, op, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusDispatched {
		return nil, apperrors.InvalidState(op, "trip %s is %s, only dispatched trips can be completed", tripID, trip.Status)
	}
	if !finite(endOdometer) || endOdometer <= trip.StartOdometer {
		return nil, apperrors.Validation(op, apperrors.RuleOdometerNotIncreasing,
			"end odometer %.1f must be greater than start odometer %.1f", endOdometer, trip.StartOdometer)
	}
	vehicle, err := c.loadVehicle(ctx, op, trip.VehicleID)
	if err != nil {
		return nil, err
	}

	distance := endOdometer - trip.StartOdometer
	fuelCost := distance * vehicle.FuelRate()
	now := c.now()
	update := db.TripUpdate{
		Status:      models.TripStatusCompleted,
		EndOdometer: &endOdometer,
		DistanceKm:  &distance,
		ActualCost:  &fuelCost,
		CompletedAt: &now,
	}
	ok, err := c.trips.TransitionTrip(ctx, tripID, []models.TripStatus{models.TripStatusDispatched}, update)
	if err != nil {
		return nil, fmt.Errorf("%s: update trip %s: %w", op, tripID, err)
	}
	if !ok {
		return nil, apperrors.InvalidState(op, "trip %s is no longer dispatched", tripID)
	}
	trip.Status = models.TripStatusCompleted
	trip.EndOdometer = endOdometer
	trip.DistanceKm = distance
	trip.ActualCost = fuelCost
	trip.CompletedAt = &now

	log := c.log.WithFields(logrus.Fields{
		"trip_id":    tripID,
		"vehicle_id": trip.VehicleID,
		"driver_id":  trip.DriverID,
	})

	// Totals go in before the release so the next claimant reads the new odometer.
	var errs []error
	if err := c.registry.RecordVehicleTrip(ctx, trip.VehicleID, endOdometer, distance, fuelCost); err != nil {
		log.WithError(err).Error("Failed to record vehicle trip totals")
		errs = append(errs, apperrors.Internal(op, err, "record totals of vehicle %s", trip.VehicleID))
	}
	ok, err = c.registry.TransitionVehicle(ctx, trip.VehicleID, releaseVehicle(tripID))
	if err != nil || !ok {
		log.WithError(err).Error("Completed trip could not release its vehicle")
		errs = append(errs, apperrors.Internal(op, err, "release vehicle %s held by trip %s", trip.VehicleID, tripID))
	}
	ok, err = c.registry.TransitionDriver(ctx, trip.DriverID, releaseDriver(tripID))
	if err != nil || !ok {
		log.WithError(err).Error("Completed trip could not release its driver")
		errs = append(errs, apperrors.Internal(op, err, "release driver %s held by trip %s", trip.DriverID, tripID))
	}
	if err := c.registry.IncrementDriverTrips(ctx, trip.DriverID, 0, 1); err != nil {
		log.WithError(err).Error("Failed to count completed trip for driver")
		errs = append(errs, apperrors.Internal(op, err, "count completion for driver %s", trip.DriverID))
	}

	c.emitter.FuelExpense(ctx, trip, vehicle, distance, fuelCost, actor)
	c.emitter.Lifecycle(ctx, emitter.Event{Type: models.EventTripCompleted, Trip: *trip, Actor: actor})

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	log.WithFields(logrus.Fields{"distance_km": distance, "fuel_cost": fuelCost}).Info("Completed trip")
	return trip, nil
}

// CancelTrip cancels a draft or dispatched trip. Resources are released only
// where this trip still holds them, so repeating a release is harmless.
func (c *Coordinator) CancelTrip(ctx context.Context, tripID string, actor models.Actor) (trip *models.Trip, err error) {
	const op = "CancelTrip"
	defer func() { c.metrics.RecordTransition(op, err) }()

	if !actor.Role.HasPermission("cancel_trip") {
		return nil, apperrors.Validation(op, apperrors.RuleRoleNotPermitted,
			"role %q may not cancel trips", actor.Role)
	}
	trip, err = c.loadTrip(ctx, op, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == models.TripStatusCancelled {
		// A cancelled trip still holds its resources when an earlier release failed.
		released, err := c.releaseHeld(ctx, op, tripID, trip)
		if err != nil {
			c.log.WithError(err).WithField("trip_id", tripID).Error("Cancelled trip could not release its resources")
			return nil, err
		}
		if released {
			c.log.WithField("trip_id", tripID).Info("Released resources of cancelled trip")
			c.emitter.Lifecycle(ctx, emitter.Event{Type: models.EventTripCancelled, Trip: *trip, Actor: actor})
			return trip, nil
		}
	}
	if trip.Status.IsTerminal() {
		return nil, apperrors.InvalidState(op, "trip %s is already %s", tripID, trip.Status)
	}

	// Conditioned on the observed status so a concurrent dispatch is never
	// cancelled without releasing what it claimed.
	observed := trip.Status
	now := c.now()
	update := db.TripUpdate{Status: models.TripStatusCancelled, CancelledAt: &now}
	ok, err := c.trips.TransitionTrip(ctx, tripID, []models.TripStatus{observed}, update)
	if err != nil {
		return nil, fmt.Errorf("%s: update trip %s: %w", op, tripID, err)
	}
	if !ok {
		return nil, apperrors.InvalidState(op, "trip %s changed while being cancelled", tripID)
	}
	trip.Status = models.TripStatusCancelled
	trip.CancelledAt = &now

	log := c.log.WithFields(logrus.Fields{"trip_id": tripID, "previous_status": observed})
	if observed == models.TripStatusDispatched {
		if _, err := c.releaseHeld(ctx, op, tripID, trip); err != nil {
			log.WithError(err).Error("Cancelled trip could not release its resources")
			return nil, err
		}
	}

	log.Info("Cancelled trip")
	c.emitter.Lifecycle(ctx, emitter.Event{Type: models.EventTripCancelled, Trip: *trip, Actor: actor})
	return trip, nil
}

// ReleaseHeld frees the vehicle and driver still held by a completed or
// cancelled trip after a failed release. Only admins may call it. Releasing a
// trip whose completion is still in flight makes that completion report an
// internal inconsistency.
func (c *Coordinator) ReleaseHeld(ctx context.Context, tripID string, actor models.Actor) (trip *models.Trip, err error) {
	const op = "ReleaseHeld"
	defer func() { c.metrics.RecordTransition(op, err) }()

	if actor.Role != models.RoleAdmin {
		return nil, apperrors.Validation(op, apperrors.RuleRoleNotPermitted,
			"role %q may not release trip resources", actor.Role)
	}
	trip, err = c.loadTrip(ctx, op, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.Status.IsTerminal() {
		return nil, apperrors.InvalidState(op, "trip %s is %s, only closed trips can release resources", tripID, trip.Status)
	}
	released, err := c.releaseHeld(ctx, op, tripID, trip)
	if err != nil {
		c.log.WithError(err).WithField("trip_id", tripID).Error("Closed trip could not release its resources")
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"trip_id": tripID, "status": trip.Status, "released": released}).Info("Released resources of closed trip")
	return trip, nil
}

var deletableStatuses = []models.TripStatus{models.TripStatusDraft, models.TripStatusCancelled}

// DeleteTrip removes a draft or cancelled trip.
func (c *Coordinator) DeleteTrip(ctx context.Context, tripID string, actor models.Actor) (err error) {
	const op = "DeleteTrip"
	defer func() { c.metrics.RecordTransition(op, err) }()

	if !actor.Role.HasPermission("delete_trip") {
		return apperrors.Validation(op, apperrors.RuleRoleNotPermitted,
			"role %q may not delete trips", actor.Role)
	}
	trip, err := c.loadTrip(ctx, op, tripID)
	if err != nil {
		return err
	}
	if !slices.Contains(deletableStatuses, trip.Status) {
		return apperrors.InvalidState(op, "trip %s is %s, only draft or cancelled trips can be deleted", tripID, trip.Status)
	}
	ok, err := c.trips.DeleteTrip(ctx, tripID, deletableStatuses)
	if err != nil {
		return fmt.Errorf("%s: delete trip %s: %w", op, tripID, err)
	}
	if !ok {
		return apperrors.InvalidState(op, "trip %s changed while being deleted", tripID)
	}
	c.log.WithField("trip_id", tripID).Info("Deleted trip")
	return nil
}

// releaseHeld frees the vehicle and driver of trip where tripID still holds them.
// It reports whether anything was released.
func (c *Coordinator) releaseHeld(ctx context.Context, op, tripID string, trip *models.Trip) (bool, error) {
	var errs []error
	released, err := c.registry.TransitionVehicle(ctx, trip.VehicleID, releaseVehicle(tripID))
	if err != nil {
		errs = append(errs, apperrors.Internal(op, err, "release vehicle %s held by trip %s", trip.VehicleID, tripID))
	}
	if trip.DriverID != "" {
		ok, err := c.registry.TransitionDriver(ctx, trip.DriverID, releaseDriver(tripID))
		if err != nil {
			errs = append(errs, apperrors.Internal(op, err, "release driver %s held by trip %s", trip.DriverID, tripID))
		}
		released = released || ok
	}
	return released, errors.Join(errs...)
}

// heldOdometer re-reads the vehicle once the trip holds it. The odometer of a
// held vehicle cannot move, so the value is the trip's start odometer.
func (c *Coordinator) heldOdometer(ctx context.Context, op, tripID, vehicleID, driverID string) (float64, error) {
	v, err := c.registry.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		if cerr := c.compensateBoth(ctx, op, tripID, vehicleID, driverID); cerr != nil {
			return 0, cerr
		}
		return 0, fmt.Errorf("%s: reload vehicle %s: %w", op, vehicleID, err)
	}
	return v.CurrentOdometer, nil
}

// countAssignment bumps the driver's assigned counter. The trip is already
// dispatched at this point, so a failure is logged rather than returned.
func (c *Coordinator) countAssignment(ctx context.Context, op, tripID, driverID string) {
	if err := c.registry.IncrementDriverTrips(ctx, driverID, 1, 0); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"op":        op,
			"trip_id":   tripID,
			"driver_id": driverID,
		}).Error("Failed to count trip assignment for driver")
	}
}

func (c *Coordinator) loadTrip(ctx context.Context, op, id string) (*models.Trip, error) {
	t, err := c.trips.FindTripByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound(op, "trip %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load trip %s: %w", op, id, err)
	}
	return t, nil
}

func (c *Coordinator) loadVehicle(ctx context.Context, op, id string) (*models.Vehicle, error) {
	v, err := c.registry.FindVehicleByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound(op, "vehicle %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load vehicle %s: %w", op, id, err)
	}
	return v, nil
}

func (c *Coordinator) loadDriver(ctx context.Context, op, id string) (*models.Driver, error) {
	d, err := c.registry.FindDriverByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound(op, "driver %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load driver %s: %w", op, id, err)
	}
	return d, nil
}

func validateInput(op string, in CreateTripInput) error {
	switch {
	case in.VehicleID == "":
		return apperrors.Validation(op, apperrors.RuleInvalidInput, "vehicle_id is required")
	case in.Origin == "" || in.Destination == "":
		return apperrors.Validation(op, apperrors.RuleInvalidInput, "origin and destination are required")
	case !finite(in.CargoWeight) || !finite(in.EstimatedCost) || !finite(in.Revenue):
		return apperrors.Validation(op, apperrors.RuleInvalidInput, "cargo_weight, estimated_cost and revenue must be finite")
	case in.CargoWeight < 0:
		return apperrors.Validation(op, apperrors.RuleInvalidInput, "cargo_weight must not be negative")
	case !models.IsValidWeightUnit(in.CargoUnit):
		return apperrors.Validation(op, apperrors.RuleInvalidInput, "unknown cargo_unit %q", in.CargoUnit)
	case in.EstimatedCost < 0 || in.Revenue < 0:
		return apperrors.Validation(op, apperrors.RuleInvalidInput, "estimated_cost and revenue must not be negative")
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
