package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StartMaintenance sends an available vehicle to the shop and opens a maintenance
// record for it. If the record cannot be stored the vehicle goes back to available.
func (s *Service) StartMaintenance(ctx context.Context, m models.Maintenance, actor models.Actor) (record *models.Maintenance, err error) {
	const op = "StartMaintenance"
	defer func() { s.metrics.RecordTransition(op, err) }()

	if m.VehicleID == "" || m.ServiceType == "" {
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "vehicle_id and service_type are required")
	}
	if m.Cost < 0 {
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "cost must not be negative")
	}
	vehicle, err := s.loadVehicle(ctx, op, m.VehicleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.transitionVehicle(ctx, op, vehicle,
		[]models.VehicleStatus{models.VehicleStatusAvailable}, models.VehicleStatusInShop); err != nil {
		return nil, err
	}

	now := s.now()
	m.ID = primitive.NewObjectID()
	m.Status = models.MaintenanceStatusInProgress
	m.CreatedBy = actor.UserID
	m.CompletedAt = nil
	if m.ServiceDate.IsZero() {
		m.ServiceDate = now
	}
	if err := s.maintenance.InsertMaintenance(ctx, m); err != nil {
		back := db.StatusTransition{From: string(models.VehicleStatusInShop), To: string(models.VehicleStatusAvailable)}
		if ok, rerr := s.registry.TransitionVehicle(ctx, m.VehicleID, back); rerr != nil || !ok {
			s.log.WithError(rerr).WithField("vehicle_id", m.VehicleID).Error("Failed to return vehicle from shop")
			return nil, apperrors.Internal(op, errors.Join(err, rerr), "vehicle %s left in shop without a record", m.VehicleID)
		}
		return nil, fmt.Errorf("%s: insert maintenance: %w", op, err)
	}
	s.log.WithFields(logrus.Fields{
		"maintenance_id": m.ID.Hex(),
		"vehicle_id":     m.VehicleID,
		"service_type":   m.ServiceType,
	}).Info("Started maintenance")
	return &m, nil
}

// CompleteMaintenance closes an in-progress record at the final cost, returns the
// vehicle to available, adds the cost to the vehicle totals and records a
// maintenance expense. A vehicle retired while in the shop stays retired.
func (s *Service) CompleteMaintenance(ctx context.Context, id string, cost float64, actor models.Actor) (record *models.Maintenance, err error) {
	const op = "CompleteMaintenance"
	defer func() { s.metrics.RecordTransition(op, err) }()

	if cost < 0 {
		return nil, apperrors.Validation(op, apperrors.RuleInvalidInput, "cost must not be negative")
	}
	m, err := s.maintenance.FindMaintenanceByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound(op, "maintenance %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load maintenance %s: %w", op, id, err)
	}
	if m.Status != models.MaintenanceStatusInProgress {
		return nil, apperrors.InvalidState(op, "maintenance %s is %s", id, m.Status)
	}

	now := s.now()
	ok, err := s.maintenance.CompleteMaintenance(ctx, id, cost, now)
	if err != nil {
		return nil, fmt.Errorf("%s: complete maintenance %s: %w", op, id, err)
	}
	if !ok {
		return nil, apperrors.InvalidState(op, "maintenance %s was completed concurrently", id)
	}
	m.Status = models.MaintenanceStatusCompleted
	m.Cost = cost
	m.CompletedAt = &now

	log := s.log.WithFields(logrus.Fields{"maintenance_id": id, "vehicle_id": m.VehicleID})
	var errs []error
	back := db.StatusTransition{From: string(models.VehicleStatusInShop), To: string(models.VehicleStatusAvailable)}
	ok, err = s.registry.TransitionVehicle(ctx, m.VehicleID, back)
	if err != nil || !ok {
		v, verr := s.registry.FindVehicleByID(ctx, m.VehicleID)
		if verr != nil || v.Status != models.VehicleStatusRetired {
			log.WithError(err).Error("Completed maintenance could not return vehicle to service")
			errs = append(errs, apperrors.Internal(op, err, "return vehicle %s from shop", m.VehicleID))
		}
	}
	if err := s.registry.AddVehicleMaintenanceCost(ctx, m.VehicleID, cost); err != nil {
		log.WithError(err).Error("Failed to add maintenance cost to vehicle")
		errs = append(errs, apperrors.Internal(op, err, "add maintenance cost to vehicle %s", m.VehicleID))
	}
	expense := models.Cost{
		ID:          primitive.NewObjectID(),
		VehicleID:   m.VehicleID,
		Category:    models.CostCategoryMaintenance,
		Description: fmt.Sprintf("Maintenance: %s", m.ServiceType),
		Amount:      cost,
		Date:        now,
		CreatedBy:   actor.UserID,
		Status:      "pending",
	}
	if err := s.costs.InsertCost(ctx, expense); err != nil {
		s.metrics.RecordDerivedFailure("maintenance_expense")
		log.WithError(err).Error("Failed to record maintenance expense")
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	log.WithField("cost", cost).Info("Completed maintenance")
	return m, nil
}
