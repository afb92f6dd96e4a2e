package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var manager = models.Actor{UserID: "u-manager", Role: models.RoleManager}

type failingMaintenance struct {
	db.MaintenanceCollection
	err error
}

func (f *failingMaintenance) InsertMaintenance(context.Context, models.Maintenance) error {
	return f.err
}

func newTestService(t *testing.T) (*Service, *db.MemoryStore, *test.Hook) {
	t.Helper()
	store := db.NewMemoryStore()
	logger, hook := test.NewNullLogger()
	return NewService(store, store, store, nil, logrus.NewEntry(logger)), store, hook
}

func registerVehicle(t *testing.T, s *Service) *models.Vehicle {
	t.Helper()
	v, err := s.RegisterVehicle(t.Context(), models.Vehicle{
		Name:            "Truck-01",
		LicensePlate:    "FL-1001",
		Type:            models.VehicleTypeTruck,
		MaxLoadCapacity: 5,
		CapacityUnit:    models.WeightUnitTons,
		CurrentOdometer: 42000,
		FuelCostPerKm:   12,
	})
	require.NoError(t, err)
	return v
}

func registerDriver(t *testing.T, s *Service, status models.DriverStatus) *models.Driver {
	t.Helper()
	d, err := s.RegisterDriver(t.Context(), models.Driver{
		Name:            "Sam",
		LicenseNumber:   "DL-2002",
		LicenseCategory: []models.VehicleType{models.VehicleTypeTruck},
		LicenseExpiry:   time.Now().AddDate(2, 0, 0),
		Status:          status,
	})
	require.NoError(t, err)
	return d
}

func TestRegisterVehicle(t *testing.T) {
	s, store, _ := newTestService(t)
	v := registerVehicle(t, s)

	stored, err := store.FindVehicleByID(t.Context(), v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusAvailable, stored.Status)
	assert.Equal(t, 5000.0, stored.MaxLoadKg())

	_, err = s.RegisterVehicle(t.Context(), models.Vehicle{Name: "x", LicensePlate: "y", Type: "boat", MaxLoadCapacity: 1})
	assert.Equal(t, apperrors.RuleInvalidInput, apperrors.RuleOf(err))

	_, err = s.RegisterVehicle(t.Context(), models.Vehicle{Name: "x", LicensePlate: "y", Type: models.VehicleTypeVan})
	assert.Equal(t, apperrors.RuleInvalidInput, apperrors.RuleOf(err))
}

func TestRegisterDriver(t *testing.T) {
	s, _, _ := newTestService(t)

	assert.Equal(t, models.DriverStatusOffDuty, registerDriver(t, s, "").Status)
	assert.Equal(t, models.DriverStatusOffDuty, registerDriver(t, s, models.DriverStatusOnTrip).Status)
	assert.Equal(t, models.DriverStatusOnDuty, registerDriver(t, s, models.DriverStatusOnDuty).Status)

	_, err := s.RegisterDriver(t.Context(), models.Driver{Name: "x", LicenseNumber: "y", LicenseExpiry: time.Now()})
	assert.Equal(t, apperrors.RuleInvalidInput, apperrors.RuleOf(err))
}

func TestDriverDutyFlow(t *testing.T) {
	s, _, _ := newTestService(t)
	d := registerDriver(t, s, "")
	id := d.ID.Hex()

	got, err := s.SetDriverDuty(t.Context(), id, true)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusOnDuty, got.Status)

	got, err = s.SetDriverDuty(t.Context(), id, true)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusOnDuty, got.Status)

	got, err = s.SuspendDriver(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusSuspended, got.Status)

	_, err = s.SetDriverDuty(t.Context(), id, true)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	got, err = s.ReinstateDriver(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusOffDuty, got.Status)

	_, err = s.ReinstateDriver(t.Context(), id)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
}

func TestDriverOnTripIsUnavailable(t *testing.T) {
	s, store, _ := newTestService(t)
	d := registerDriver(t, s, models.DriverStatusOnDuty)
	id := d.ID.Hex()
	ok, err := store.TransitionDriver(t.Context(), id, db.StatusTransition{From: "on_duty", To: "on_trip", SetTrip: "trip-1"})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.SuspendDriver(t.Context(), id)
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
	_, err = s.SetDriverDuty(t.Context(), id, false)
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))

	stored, err := store.FindDriverByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusOnTrip, stored.Status)
	assert.Equal(t, "trip-1", stored.CurrentTripID)
}

func TestMaintenanceFlow(t *testing.T) {
	s, store, _ := newTestService(t)
	v := registerVehicle(t, s)
	vID := v.ID.Hex()

	record, err := s.StartMaintenance(t.Context(), models.Maintenance{VehicleID: vID, ServiceType: "brake_service"}, manager)
	require.NoError(t, err)
	assert.Equal(t, models.MaintenanceStatusInProgress, record.Status)
	assert.False(t, record.ServiceDate.IsZero())

	stored, err := store.FindVehicleByID(t.Context(), vID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusInShop, stored.Status)

	_, err = s.StartMaintenance(t.Context(), models.Maintenance{VehicleID: vID, ServiceType: "inspection"}, manager)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	done, err := s.CompleteMaintenance(t.Context(), record.ID.Hex(), 350, manager)
	require.NoError(t, err)
	assert.Equal(t, models.MaintenanceStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	stored, err = store.FindVehicleByID(t.Context(), vID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusAvailable, stored.Status)
	assert.Equal(t, 350.0, stored.TotalMaintenanceCost)

	costs := store.Costs()
	require.Len(t, costs, 1)
	assert.Equal(t, models.CostCategoryMaintenance, costs[0].Category)
	assert.Equal(t, 350.0, costs[0].Amount)

	_, err = s.CompleteMaintenance(t.Context(), record.ID.Hex(), 10, manager)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
}

func TestStartMaintenance_VehicleOnTrip(t *testing.T) {
	s, store, _ := newTestService(t)
	v := registerVehicle(t, s)
	ok, err := store.TransitionVehicle(t.Context(), v.ID.Hex(), db.StatusTransition{From: "available", To: "on_trip", SetTrip: "trip-9"})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.StartMaintenance(t.Context(), models.Maintenance{VehicleID: v.ID.Hex(), ServiceType: "oil_change"}, manager)
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))

	stored, err := store.FindVehicleByID(t.Context(), v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "trip-9", stored.CurrentTripID)
}

func TestStartMaintenance_InsertFailureReturnsVehicle(t *testing.T) {
	store := db.NewMemoryStore()
	logger, _ := test.NewNullLogger()
	s := NewService(store, &failingMaintenance{MaintenanceCollection: store, err: errors.New("disk full")}, store, nil, logrus.NewEntry(logger))
	v := registerVehicle(t, s)

	_, err := s.StartMaintenance(t.Context(), models.Maintenance{VehicleID: v.ID.Hex(), ServiceType: "inspection"}, manager)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := store.FindVehicleByID(t.Context(), v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusAvailable, stored.Status)
}

func TestRetireVehicle(t *testing.T) {
	s, store, _ := newTestService(t)
	v := registerVehicle(t, s)
	record, err := s.StartMaintenance(t.Context(), models.Maintenance{VehicleID: v.ID.Hex(), ServiceType: "inspection"}, manager)
	require.NoError(t, err)

	retired, err := s.RetireVehicle(t.Context(), v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusRetired, retired.Status)

	_, err = s.RetireVehicle(t.Context(), v.ID.Hex())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	_, err = s.CompleteMaintenance(t.Context(), record.ID.Hex(), 80, manager)
	require.NoError(t, err)
	stored, err := store.FindVehicleByID(t.Context(), v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusRetired, stored.Status)
	assert.Equal(t, 80.0, stored.TotalMaintenanceCost)

	_, err = s.RetireVehicle(t.Context(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
