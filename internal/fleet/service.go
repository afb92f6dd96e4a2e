// Package fleet manages the vehicle and driver lifecycles that share resources
// with trip dispatch: registration, duty changes, suspension, maintenance and
// retirement. Every status change is a conditional transition, so none of them
// can take a vehicle or driver away from a trip in flight.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service executes fleet operations.
type Service struct {
	registry    db.Registry
	maintenance db.MaintenanceCollection
	costs       db.CostCollection
	metrics     metrics.Recorder
	log         *logrus.Entry
	now         func() time.Time
}

// NewService creates a Service. A nil recorder disables metrics.
func NewService(registry db.Registry, maintenance db.MaintenanceCollection, costs db.CostCollection, rec metrics.Recorder, log *logrus.Entry) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		registry:    registry,
		maintenance: maintenance,
		costs:       costs,
		metrics:     rec,
		log:         log.WithField("component", "fleet"),
		now:         time.Now,
	}
}

// RegisterVehicle validates and stores a new vehicle. The vehicle starts available
// with zeroed totals.
func (s *Service) RegisterVehicle(ctx context.Context, v models.Vehicle) (vehicle *models.Vehicle, err error) {
	const op = "RegisterVehicle"
	defer func() { s.metrics.RecordTransition(op, err) }()

	switch {
	case v.Name == "" || v.LicensePlate == "":
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "name and license_plate are required")
	case !models.IsValidVehicleType(v.Type):
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "unknown vehicle type %q", v.Type)
	case v.MaxLoadCapacity <= 0:
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "max_load_capacity must be positive")
	case !models.IsValidWeightUnit(v.CapacityUnit):
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "unknown capacity_unit %q", v.CapacityUnit)
	case v.CurrentOdometer < 0 || v.FuelCostPerKm < 0:
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "current_odometer and fuel_cost_per_km must not be negative")
	}

	v.ID = primitive.NewObjectID()
	v.Status = models.VehicleStatusAvailable
	v.CurrentTripID = ""
	v.TotalTrips, v.TotalDistanceKm, v.TotalFuelCost, v.TotalMaintenanceCost = 0, 0, 0, 0
	if err := s.registry.InsertVehicle(ctx, v); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.WithFields(logrus.Fields{"vehicle_id": v.ID.Hex(), "type": v.Type}).Info("Registered vehicle")
	return &v, nil
}

// RegisterDriver validates and stores a new driver. Drivers start off duty unless
// registered on duty.
func (s *Service) RegisterDriver(ctx context.Context, d models.Driver) (driver *models.Driver, err error) {
	const op = "RegisterDriver"
	defer func() { s.metrics.RecordTransition(op, err) }()

	switch {
	case d.Name == "" || d.LicenseNumber == "":
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "name and license_number are required")
	case len(d.LicenseCategory) == 0:
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "license_category must not be empty")
	case d.LicenseExpiry.IsZero():
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "license_expiry is required")
	}
	for _, c := range d.LicenseCategory {
		if !models.IsValidVehicleType(c) {
			return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "unknown license category %q", c)
		}
	}
	if d.Status != models.DriverStatusOnDuty {
		d.Status = models.DriverStatusOffDuty
	}

	d.ID = primitive.NewObjectID()
	d.CurrentTripID = ""
	d.TotalTripsAssigned, d.TotalTripsCompleted = 0, 0
	if err := s.registry.InsertDriver(ctx, d); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.WithField("driver_id", d.ID.Hex()).Info("Registered driver")
	return &d, nil
}

// GetVehicle returns the vehicle with the given id.
func (s *Service) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return s.loadVehicle(ctx, "GetVehicle", id)
}

// GetDriver returns the driver with the given id.
func (s *Service) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	return s.loadDriver(ctx, "GetDriver", id)
}

// SetDriverDuty moves a driver between off_duty and on_duty. Setting the duty a
// driver already has is a no-op. A driver on a trip is ResourceUnavailable and a
// suspended driver is InvalidState.
func (s *Service) SetDriverDuty(ctx context.Context, id string, onDuty bool) (driver *models.Driver, err error) {
	const op = "SetDriverDuty"
	defer func() { s.metrics.RecordTransition(op, err) }()

	from, to := models.DriverStatusOnDuty, models.DriverStatusOffDuty
	if onDuty {
		from, to = to, from
	}
	current, err := s.loadDriver(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	return s.transitionDriver(ctx, op, current, []models.DriverStatus{from}, to)
}

// SuspendDriver takes an on_duty or off_duty driver out of rotation.
func (s *Service) SuspendDriver(ctx context.Context, id string) (driver *models.Driver, err error) {
	const op = "SuspendDriver"
	defer func() { s.metrics.RecordTransition(op, err) }()

	current, err := s.loadDriver(ctx, op, id)
	if err != nil {
		return nil, err
	}
	return s.transitionDriver(ctx, op, current,
		[]models.DriverStatus{models.DriverStatusOnDuty, models.DriverStatusOffDuty}, models.DriverStatusSuspended)
}

// ReinstateDriver returns a suspended driver to off_duty.
func (s *Service) ReinstateDriver(ctx context.Context, id string) (driver *models.Driver, err error) {
	const op = "ReinstateDriver"
	defer func() { s.metrics.RecordTransition(op, err) }()

	current, err := s.loadDriver(ctx, op, id)
	if err != nil {
		return nil, err
	}
	return s.transitionDriver(ctx, op, current, []models.DriverStatus{models.DriverStatusSuspended}, models.DriverStatusOffDuty)
}

// RetireVehicle permanently removes an available or in_shop vehicle from service.
func (s *Service) RetireVehicle(ctx context.Context, id string) (vehicle *models.Vehicle, err error) {
	const op = "RetireVehicle"
	defer func() { s.metrics.RecordTransition(op, err) }()

	current, err := s.loadVehicle(ctx, op, id)
	if err != nil {
		return nil, err
	}
	return s.transitionVehicle(ctx, op, current,
		[]models.VehicleStatus{models.VehicleStatusAvailable, models.VehicleStatusInShop}, models.VehicleStatusRetired)
}

func (s *Service) transitionDriver(ctx context.Context, op string, d *models.Driver, from []models.DriverStatus, to models.DriverStatus) (*models.Driver, error) {
	id := d.ID.Hex()
	if !slices.Contains(from, d.Status) {
		if d.Status == models.DriverStatusOnTrip {
			return nil, apperrors.ResourceUnavailable(op, "driver %s is on trip %s", id, d.CurrentTripID)
		}
		return nil, apperrors.InvalidState(op, "driver %s is %s", id, d.Status)
	}
	ok, err := s.registry.TransitionDriver(ctx, id, db.StatusTransition{From: string(d.Status), To: string(to)})
	if err != nil {
		return nil, fmt.Errorf("%s: driver %s: %w", op, id, err)
	}
	if !ok {
		return nil, apperrors.ResourceUnavailable(op, "driver %s changed status concurrently", id)
	}
	s.log.WithFields(logrus.Fields{"driver_id": id, "from": d.Status, "to": to}).Info("Driver status changed")
	d.Status = to
	return d, nil
}

func (s *Service) transitionVehicle(ctx context.Context, op string, v *models.Vehicle, from []models.VehicleStatus, to models.VehicleStatus) (*models.Vehicle, error) {
	id := v.ID.Hex()
	if !slices.Contains(from, v.Status) {
		if v.Status == models.VehicleStatusOnTrip {
			return nil, apperrors.ResourceUnavailable(op, "vehicle %s is on trip %s", id, v.CurrentTripID)
		}
		return nil, apperrors.InvalidState(op, "vehicle %s is %s", id, v.Status)
	}
	ok, err := s.registry.TransitionVehicle(ctx, id, db.StatusTransition{From: string(v.Status), To: string(to)})
	if err != nil {
		return nil, fmt.Errorf("%s: vehicle %s: %w", op, id, err)
	}
	if !ok {
		return nil, apperrors.ResourceUnavailable(op, "vehicle %s changed status concurrently", id)
	}
	s.log.WithFields(logrus.Fields{"vehicle_id": id, "from": v.Status, "to": to}).Info("Vehicle status changed")
	v.Status = to
	return v, nil
}

func (s *Service) loadVehicle(ctx context.Context, op, id string) (*models.Vehicle, error) {
	v, err := s.registry.FindVehicleByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound(op, "vehicle %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load vehicle %s: %w", op, id, err)
	}
	return v, nil
}

func (s *Service) loadDriver(ctx context.Context, op, id string) (*models.Driver, error) {
	d, err := s.registry.FindDriverByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound(op, "driver %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load driver %s: %w", op, id, err)
	}
	return d, nil
}
