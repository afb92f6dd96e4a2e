package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func claimVehicle(tripID string) db.StatusTransition {
	return db.StatusTransition{
		From:    string(models.VehicleStatusAvailable),
		To:      string(models.VehicleStatusOnTrip),
		SetTrip: tripID,
	}
}

func releaseVehicle(tripID string) db.StatusTransition {
	return db.StatusTransition{
		From:       string(models.VehicleStatusOnTrip),
		To:         string(models.VehicleStatusAvailable),
		ExpectTrip: tripID,
	}
}

func claimDriver(tripID string) db.StatusTransition {
	return db.StatusTransition{
		From:    string(models.DriverStatusOnDuty),
		To:      string(models.DriverStatusOnTrip),
		SetTrip: tripID,
	}
}

func releaseDriver(tripID string) db.StatusTransition {
	return db.StatusTransition{
		From:       string(models.DriverStatusOnTrip),
		To:         string(models.DriverStatusOnDuty),
		ExpectTrip: tripID,
	}
}

// allocate claims the vehicle and then the driver for tripID. If the driver claim
// does not commit, the vehicle claim is reverted before returning, so on error
// neither resource is held by tripID.
func (c *Coordinator) allocate(ctx context.Context, op, tripID, vehicleID, driverID string) error {
	ok, err := c.registry.TransitionVehicle(ctx, vehicleID, claimVehicle(tripID))
	if err != nil {
		return fmt.Errorf("%s: claim vehicle %s: %w", op, vehicleID, err)
	}
	if !ok {
		return apperrors.ResourceUnavailable(op, "vehicle %s was claimed by another trip", vehicleID)
	}

	ok, err = c.registry.TransitionDriver(ctx, driverID, claimDriver(tripID))
	if err == nil && ok {
		return nil
	}

	// The driver release is keyed on tripID, so it is a no-op unless the failed
	// call actually committed.
	if cerr := c.compensate(ctx, op, tripID, vehicleID, driverID, err != nil); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("%s: claim driver %s: %w", op, driverID, err)
	}
	return apperrors.ResourceUnavailable(op, "driver %s was claimed by another trip", driverID)
}

// compensate reverts the claims tripID holds on the vehicle and, when
// includeDriver is set, on the driver.
func (c *Coordinator) compensate(ctx context.Context, op, tripID, vehicleID, driverID string, includeDriver bool) error {
	ok, err := c.registry.TransitionVehicle(ctx, vehicleID, releaseVehicle(tripID))
	if err != nil || !ok {
		c.log.WithError(err).WithFields(logrus.Fields{
			"op":         op,
			"trip_id":    tripID,
			"vehicle_id": vehicleID,
		}).Error("Failed to revert vehicle claim")
		return apperrors.Internal(op, err, "revert claim of vehicle %s for trip %s", vehicleID, tripID)
	}
	if includeDriver {
		if _, err := c.registry.TransitionDriver(ctx, driverID, releaseDriver(tripID)); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"op":        op,
				"trip_id":   tripID,
				"driver_id": driverID,
			}).Error("Failed to revert driver claim")
			return apperrors.Internal(op, err, "revert claim of driver %s for trip %s", driverID, tripID)
		}
	}
	return nil
}

// compensateBoth reverts both claims of a fully allocated trip that did not
// reach dispatched.
func (c *Coordinator) compensateBoth(ctx context.Context, op, tripID, vehicleID, driverID string) error {
	if err := c.compensate(ctx, op, tripID, vehicleID, driverID, false); err != nil {
		return err
	}
	ok, err := c.registry.TransitionDriver(ctx, driverID, releaseDriver(tripID))
	if err != nil || !ok {
		c.log.WithError(err).WithFields(logrus.Fields{
			"op":        op,
			"trip_id":   tripID,
			"driver_id": driverID,
		}).Error("Failed to revert driver claim")
		return apperrors.Internal(op, err, "revert claim of driver %s for trip %s", driverID, tripID)
	}
	return nil
}
