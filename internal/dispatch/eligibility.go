package dispatch

import (
	"time"

	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// CheckEligibility verifies that driver may take vehicle with cargoKg of cargo at now.
// It has no side effects. The returned error names the first violated rule.
func CheckEligibility(vehicle *models.Vehicle, driver *models.Driver, cargoKg float64, now time.Time) error {
	const op = "eligibility"
	if vehicle.Status != models.VehicleStatusAvailable {
		return apperrors.Validation(op, apperrors.RuleVehicleUnavailable,
			"vehicle %s is %s", vehicle.ID.Hex(), vehicle.Status)
	}
	if driver.Status != models.DriverStatusOnDuty {
		return apperrors.Validation(op, apperrors.RuleDriverUnavailable,
			"driver %s is %s", driver.ID.Hex(), driver.Status)
	}
	if !driver.LicenseValidAt(now) {
		return apperrors.Validation(op, apperrors.RuleLicenseExpired,
			"driver %s license expired on %s", driver.ID.Hex(), driver.LicenseExpiry.Format(time.DateOnly))
	}
	if !driver.CanOperate(vehicle.Type) {
		return apperrors.Validation(op, apperrors.RuleLicenseCategoryMismatch,
			"driver %s is not licensed for %s", driver.ID.Hex(), vehicle.Type)
	}
	if maxKg := vehicle.MaxLoadKg(); cargoKg > maxKg {
		return apperrors.Validation(op, apperrors.RuleOverload,
			"cargo %.0f kg exceeds vehicle capacity %.0f kg", cargoKg, maxKg)
	}
	return nil
}
