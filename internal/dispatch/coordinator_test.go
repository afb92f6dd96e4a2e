package dispatch

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/emitter"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	dispatcher = models.Actor{UserID: "u-dispatch", Role: models.RoleDispatcher}
	manager    = models.Actor{UserID: "u-manager", Role: models.RoleManager}
	admin      = models.Actor{UserID: "u-admin", Role: models.RoleAdmin}
	viewer     = models.Actor{UserID: "u-viewer", Role: models.RoleViewer}
)

// faultyRegistry injects failures into selected transitions.
type faultyRegistry struct {
	db.Registry
	rejectDriverClaim  bool
	driverClaimErr     error
	rejectVehicleFree  bool
	rejectDriverFree   bool
	vehicleTotalsError error
	releaseErrOnce     error
}

// releaseFails returns releaseErrOnce for the first keyed release only.
func (r *faultyRegistry) releaseFails(t db.StatusTransition) error {
	if t.ExpectTrip == "" || r.releaseErrOnce == nil {
		return nil
	}
	err := r.releaseErrOnce
	r.releaseErrOnce = nil
	return err
}

func (r *faultyRegistry) TransitionVehicle(ctx context.Context, id string, t db.StatusTransition) (bool, error) {
	if err := r.releaseFails(t); err != nil {
		return false, err
	}
	if r.rejectVehicleFree && t.ExpectTrip != "" {
		return false, nil
	}
	return r.Registry.TransitionVehicle(ctx, id, t)
}

func (r *faultyRegistry) TransitionDriver(ctx context.Context, id string, t db.StatusTransition) (bool, error) {
	if t.SetTrip != "" {
		if r.driverClaimErr != nil {
			return false, r.driverClaimErr
		}
		if r.rejectDriverClaim {
			return false, nil
		}
	}
	if r.rejectDriverFree && t.ExpectTrip != "" {
		return false, nil
	}
	return r.Registry.TransitionDriver(ctx, id, t)
}

func (r *faultyRegistry) RecordVehicleTrip(ctx context.Context, id string, endOdometer, distanceKm, fuelCost float64) error {
	if r.vehicleTotalsError != nil {
		return r.vehicleTotalsError
	}
	return r.Registry.RecordVehicleTrip(ctx, id, endOdometer, distanceKm, fuelCost)
}

// faultyTrips injects failures into the trip store.
type faultyTrips struct {
	db.TripCollection
	insertErr      error
	loseTransition bool
}

func (f *faultyTrips) InsertTrip(ctx context.Context, trip models.Trip) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.TripCollection.InsertTrip(ctx, trip)
}

func (f *faultyTrips) TransitionTrip(ctx context.Context, id string, from []models.TripStatus, u db.TripUpdate) (bool, error) {
	if f.loseTransition {
		return false, nil
	}
	return f.TripCollection.TransitionTrip(ctx, id, from, u)
}

type recordedOutcome struct {
	op  string
	err error
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *outcomeRecorder) RecordTransition(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{op: op, err: err})
}

func (r *outcomeRecorder) RecordDerivedFailure(string) {}

func newCoordinator(t *testing.T, registry db.Registry, trips db.TripCollection, store *db.MemoryStore, opts ...Option) (*Coordinator, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	em := emitter.New(&emitter.CostStoreSink{Costs: store}, &emitter.InboxSink{Notifications: store}, nil, entry)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithLogger(entry)}, opts...)
	return NewCoordinator(registry, trips, em, opts...), hook
}

func newMemoryCoordinator(t *testing.T) (*Coordinator, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	c, _ := newCoordinator(t, store, store, store)
	return c, store
}

func addVehicle(t *testing.T, store *db.MemoryStore, mutate ...func(*models.Vehicle)) string {
	t.Helper()
	v := models.Vehicle{
		ID:              primitive.NewObjectID(),
		Name:            "Van-05",
		LicensePlate:    "FL-0005",
		Type:            models.VehicleTypeVan,
		MaxLoadCapacity: 500,
		CapacityUnit:    models.WeightUnitKg,
		Status:          models.VehicleStatusAvailable,
		CurrentOdometer: 10000,
		FuelCostPerKm:   8,
	}
	for _, m := range mutate {
		m(&v)
	}
	require.NoError(t, store.InsertVehicle(t.Context(), v))
	return v.ID.Hex()
}

func addDriver(t *testing.T, store *db.MemoryStore, mutate ...func(*models.Driver)) string {
	t.Helper()
	d := models.Driver{
		ID:              primitive.NewObjectID(),
		Name:            "Alex",
		LicenseNumber:   "DL-1001",
		LicenseCategory: []models.VehicleType{models.VehicleTypeVan, models.VehicleTypeTruck},
		LicenseExpiry:   fixedNow.AddDate(1, 0, 0),
		Status:          models.DriverStatusOnDuty,
	}
	for _, m := range mutate {
		m(&d)
	}
	require.NoError(t, store.InsertDriver(t.Context(), d))
	return d.ID.Hex()
}

func tripInput(vehicleID, driverID string, cargoKg float64) CreateTripInput {
	return CreateTripInput{
		VehicleID:     vehicleID,
		DriverID:      driverID,
		Origin:        "Depot A",
		Destination:   "Warehouse B",
		CargoWeight:   cargoKg,
		CargoUnit:     models.WeightUnitKg,
		EstimatedCost: 900,
		Revenue:       1500,
	}
}

func vehicleOf(t *testing.T, store *db.MemoryStore, id string) *models.Vehicle {
	t.Helper()
	v, err := store.FindVehicleByID(t.Context(), id)
	require.NoError(t, err)
	return v
}

func driverOf(t *testing.T, store *db.MemoryStore, id string) *models.Driver {
	t.Helper()
	d, err := store.FindDriverByID(t.Context(), id)
	require.NoError(t, err)
	return d
}

func assertReleased(t *testing.T, store *db.MemoryStore, vehicleID, driverID string) {
	t.Helper()
	v := vehicleOf(t, store, vehicleID)
	assert.Equal(t, models.VehicleStatusAvailable, v.Status)
	assert.Empty(t, v.CurrentTripID)
	d := driverOf(t, store, driverID)
	assert.Equal(t, models.DriverStatusOnDuty, d.Status)
	assert.Empty(t, d.CurrentTripID)
}

func TestCreateTrip_DispatcherDispatchesImmediately(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 450), dispatcher)
	require.NoError(t, err)

	assert.Equal(t, models.TripStatusDispatched, trip.Status)
	assert.Equal(t, 10000.0, trip.StartOdometer)
	require.NotNil(t, trip.DispatchedAt)
	assert.Equal(t, fixedNow, *trip.DispatchedAt)
	assert.Equal(t, dispatcher.UserID, trip.CreatedBy)

	v := vehicleOf(t, store, vID)
	assert.Equal(t, models.VehicleStatusOnTrip, v.Status)
	assert.Equal(t, trip.ID.Hex(), v.CurrentTripID)
	d := driverOf(t, store, dID)
	assert.Equal(t, models.DriverStatusOnTrip, d.Status)
	assert.Equal(t, trip.ID.Hex(), d.CurrentTripID)
	assert.Equal(t, int64(1), d.TotalTripsAssigned)

	stored, err := c.GetTrip(t.Context(), trip.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, stored.Status)

	notes := store.Notifications()
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, models.EventTripDispatched, n.Type)
		assert.Equal(t, dispatcher.UserID, n.ExcludeUserID)
	}
}

func TestCreateTrip_AdminDispatchesImmediately(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), admin)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, trip.Status)
}

func TestCreateTrip_ManagerCreatesDraft(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store, func(d *models.Driver) { d.Status = models.DriverStatusOffDuty })

	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 450), manager)
	require.NoError(t, err)

	assert.Equal(t, models.TripStatusDraft, trip.Status)
	assert.Equal(t, dID, trip.DriverID)
	assert.Nil(t, trip.DispatchedAt)

	assert.Equal(t, models.VehicleStatusAvailable, vehicleOf(t, store, vID).Status)
	d := driverOf(t, store, dID)
	assert.Equal(t, models.DriverStatusOffDuty, d.Status)
	assert.Zero(t, d.TotalTripsAssigned)

	notes := store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, models.RoleManager, notes[0].Role)
	assert.Equal(t, models.EventTripCreated, notes[0].Type)
	assert.Equal(t, manager.UserID, notes[0].ExcludeUserID)
}

func TestCreateTrip_Rejections(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	tests := []struct {
		name  string
		input CreateTripInput
		actor models.Actor
		kind  error
		rule  apperrors.Rule
	}{
		{name: "viewer", input: tripInput(vID, dID, 10), actor: viewer, kind: apperrors.ErrValidation, rule: apperrors.RuleRoleNotPermitted},
		{name: "dispatcher without driver", input: tripInput(vID, "", 10), actor: dispatcher, kind: apperrors.ErrValidation, rule: apperrors.RuleDriverRequired},
		{name: "missing origin", input: CreateTripInput{VehicleID: vID, Destination: "B"}, actor: manager, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "negative cargo", input: tripInput(vID, dID, -1), actor: manager, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "NaN cargo", input: tripInput(vID, dID, math.NaN()), actor: dispatcher, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "infinite cargo", input: tripInput(vID, dID, math.Inf(1)), actor: dispatcher, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "NaN estimated cost", input: func() CreateTripInput { in := tripInput(vID, dID, 1); in.EstimatedCost = math.NaN(); return in }(), actor: manager, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "infinite revenue", input: func() CreateTripInput { in := tripInput(vID, dID, 1); in.Revenue = math.Inf(-1); return in }(), actor: manager, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "unknown unit", input: func() CreateTripInput { in := tripInput(vID, dID, 1); in.CargoUnit = "lbs"; return in }(), actor: manager, kind: apperrors.ErrValidation, rule: apperrors.RuleInvalidInput},
		{name: "unknown vehicle", input: tripInput(primitive.NewObjectID().Hex(), dID, 10), actor: manager, kind: apperrors.ErrNotFound},
		{name: "unknown driver", input: tripInput(vID, primitive.NewObjectID().Hex(), 10), actor: dispatcher, kind: apperrors.ErrNotFound},
		{name: "overload", input: tripInput(vID, dID, 501), actor: dispatcher, kind: apperrors.ErrValidation, rule: apperrors.RuleOverload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trip, err := c.CreateTrip(t.Context(), tt.input, tt.actor)
			assert.Nil(t, trip)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			if tt.rule != "" {
				assert.Equal(t, tt.rule, apperrors.RuleOf(err))
			}
		})
	}
	assertReleased(t, store, vID, dID)
}

func TestCreateTrip_CapacityIsComparedInKilograms(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store, func(v *models.Vehicle) {
		v.MaxLoadCapacity = 1
		v.CapacityUnit = models.WeightUnitTons
	})
	dID := addDriver(t, store)

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 1200), dispatcher)
	assert.Equal(t, apperrors.RuleOverload, apperrors.RuleOf(err))
	assertReleased(t, store, vID, dID)

	in := tripInput(vID, dID, 0.9)
	in.CargoUnit = models.WeightUnitTons
	trip, err := c.CreateTrip(t.Context(), in, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, trip.Status)
}

func TestCreateTrip_ExpiredLicense(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store, func(d *models.Driver) { d.LicenseExpiry = fixedNow.AddDate(0, 0, -1) })

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, apperrors.RuleLicenseExpired, apperrors.RuleOf(err))
	assertReleased(t, store, vID, dID)
}

func TestCreateTrip_ConcurrentClaimsOfOneVehicle(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)

	const workers = 20
	drivers := make([]string, workers)
	for i := range drivers {
		drivers[i] = addDriver(t, store)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*models.Trip
		losers  []error
	)
	for _, dID := range drivers {
		wg.Add(1)
		go func(dID string) {
			defer wg.Done()
			trip, err := c.CreateTrip(context.Background(), tripInput(vID, dID, 100), dispatcher)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, err)
				return
			}
			winners = append(winners, trip)
		}(dID)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, losers, workers-1)
	for _, err := range losers {
		unavailable := errors.Is(err, apperrors.ErrResourceUnavailable) ||
			apperrors.RuleOf(err) == apperrors.RuleVehicleUnavailable
		assert.True(t, unavailable, "unexpected error %v", err)
	}

	winner := winners[0]
	assert.Equal(t, winner.ID.Hex(), vehicleOf(t, store, vID).CurrentTripID)
	for _, dID := range drivers {
		d := driverOf(t, store, dID)
		if dID == winner.DriverID {
			assert.Equal(t, models.DriverStatusOnTrip, d.Status)
			continue
		}
		assert.Equal(t, models.DriverStatusOnDuty, d.Status, "driver %s left claimed", dID)
		assert.Zero(t, d.TotalTripsAssigned)
	}
}

func TestCreateTrip_ConcurrentClaimsOfOneDriver(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	dID := addDriver(t, store)

	const workers = 20
	vehicles := make([]string, workers)
	for i := range vehicles {
		vehicles[i] = addVehicle(t, store)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, vID := range vehicles {
		wg.Add(1)
		go func(vID string) {
			defer wg.Done()
			if _, err := c.CreateTrip(context.Background(), tripInput(vID, dID, 100), dispatcher); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(vID)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	onTrip := 0
	for _, vID := range vehicles {
		if vehicleOf(t, store, vID).Status == models.VehicleStatusOnTrip {
			onTrip++
		}
	}
	assert.Equal(t, 1, onTrip, "losing vehicle claims must be reverted")
	assert.Equal(t, int64(1), driverOf(t, store, dID).TotalTripsAssigned)
}

func TestCreateTrip_DriverClaimRejectedRevertsVehicle(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store, rejectDriverClaim: true}
	c, _ := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
	assertReleased(t, store, vID, dID)
}

func TestCreateTrip_DriverClaimErrorRevertsVehicle(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store, driverClaimErr: errors.New("connection reset")}
	c, _ := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assertReleased(t, store, vID, dID)
}

func TestCreateTrip_InsertFailureRevertsBothClaims(t *testing.T) {
	store := db.NewMemoryStore()
	trips := &faultyTrips{TripCollection: store, insertErr: errors.New("write conflict")}
	c, _ := newCoordinator(t, store, trips, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.Error(t, err)
	assertReleased(t, store, vID, dID)
	assert.Zero(t, driverOf(t, store, dID).TotalTripsAssigned)
}

func TestCreateTrip_CompensationFailureIsInternal(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store, rejectDriverClaim: true, rejectVehicleFree: true}
	c, hook := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInternal))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestDispatchTrip_FromDraft(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store, func(v *models.Vehicle) { v.CurrentOdometer = 2500 })
	dID := addDriver(t, store)

	draft, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 300), manager)
	require.NoError(t, err)

	trip, err := c.DispatchTrip(t.Context(), draft.ID.Hex(), "", dispatcher)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, trip.Status)
	assert.Equal(t, dID, trip.DriverID)
	assert.Equal(t, 2500.0, trip.StartOdometer)
	require.NotNil(t, trip.DispatchedAt)

	stored, err := c.GetTrip(t.Context(), draft.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, stored.Status)
	assert.Equal(t, 2500.0, stored.StartOdometer)
	assert.Equal(t, int64(1), driverOf(t, store, dID).TotalTripsAssigned)
	assert.Equal(t, draft.ID.Hex(), vehicleOf(t, store, vID).CurrentTripID)
}

func TestDispatchTrip_DriverOverride(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	planned := addDriver(t, store, func(d *models.Driver) { d.Status = models.DriverStatusOffDuty })
	override := addDriver(t, store)

	draft, err := c.CreateTrip(t.Context(), tripInput(vID, planned, 100), manager)
	require.NoError(t, err)

	_, err = c.DispatchTrip(t.Context(), draft.ID.Hex(), "", dispatcher)
	assert.Equal(t, apperrors.RuleDriverUnavailable, apperrors.RuleOf(err))

	trip, err := c.DispatchTrip(t.Context(), draft.ID.Hex(), override, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, override, trip.DriverID)
	assert.Equal(t, models.DriverStatusOffDuty, driverOf(t, store, planned).Status)
}

func TestDispatchTrip_Rejections(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	noDriver, err := c.CreateTrip(t.Context(), tripInput(vID, "", 100), manager)
	require.NoError(t, err)
	_, err = c.DispatchTrip(t.Context(), noDriver.ID.Hex(), "", dispatcher)
	assert.Equal(t, apperrors.RuleDriverRequired, apperrors.RuleOf(err))

	_, err = c.DispatchTrip(t.Context(), noDriver.ID.Hex(), dID, manager)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))

	_, err = c.DispatchTrip(t.Context(), primitive.NewObjectID().Hex(), dID, dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	dispatched, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	_, err = c.DispatchTrip(t.Context(), dispatched.ID.Hex(), "", dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
}

func TestDispatchTrip_LostTripRaceRevertsClaims(t *testing.T) {
	store := db.NewMemoryStore()
	trips := &faultyTrips{TripCollection: store}
	c, _ := newCoordinator(t, store, trips, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	draft, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), manager)
	require.NoError(t, err)

	trips.loseTransition = true
	_, err = c.DispatchTrip(t.Context(), draft.ID.Hex(), "", dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
	assertReleased(t, store, vID, dID)
	assert.Zero(t, driverOf(t, store, dID).TotalTripsAssigned)
}

func TestDispatchTrip_ConcurrentDispatchOfOneDraft(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	draft, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), manager)
	require.NoError(t, err)

	const workers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.DispatchTrip(context.Background(), draft.ID.Hex(), "", dispatcher); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(1), driverOf(t, store, dID).TotalTripsAssigned)
	assert.Equal(t, draft.ID.Hex(), vehicleOf(t, store, vID).CurrentTripID)
}

func TestCompleteTrip_UpdatesTotalsAndRecordsFuelExpense(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 450), dispatcher)
	require.NoError(t, err)

	done, err := c.CompleteTrip(t.Context(), trip.ID.Hex(), 10120, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, done.Status)
	assert.Equal(t, 120.0, done.DistanceKm)
	assert.Equal(t, 960.0, done.ActualCost)
	assert.Equal(t, 10120.0, done.EndOdometer)
	require.NotNil(t, done.CompletedAt)

	v := vehicleOf(t, store, vID)
	assert.Equal(t, models.VehicleStatusAvailable, v.Status)
	assert.Empty(t, v.CurrentTripID)
	assert.Equal(t, 10120.0, v.CurrentOdometer)
	assert.Equal(t, int64(1), v.TotalTrips)
	assert.Equal(t, 120.0, v.TotalDistanceKm)
	assert.Equal(t, 960.0, v.TotalFuelCost)

	d := driverOf(t, store, dID)
	assert.Equal(t, models.DriverStatusOnDuty, d.Status)
	assert.Equal(t, int64(1), d.TotalTripsAssigned)
	assert.Equal(t, int64(1), d.TotalTripsCompleted)

	costs := store.Costs()
	require.Len(t, costs, 1)
	assert.Equal(t, models.CostCategoryFuel, costs[0].Category)
	assert.Equal(t, 960.0, costs[0].Amount)
	assert.Equal(t, trip.ID.Hex(), costs[0].TripID)
	assert.Contains(t, costs[0].Description, "Depot A → Warehouse B")
}

func TestCompleteTrip_OdometerMustIncrease(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	for _, end := range []float64{10000, 9000, math.NaN(), math.Inf(1)} {
		_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), end, dispatcher)
		assert.Equal(t, apperrors.RuleOdometerNotIncreasing, apperrors.RuleOf(err))
	}

	stored, err := c.GetTrip(t.Context(), trip.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, stored.Status)
	v := vehicleOf(t, store, vID)
	assert.Equal(t, models.VehicleStatusOnTrip, v.Status)
	assert.Equal(t, 10000.0, v.CurrentOdometer)
	assert.Empty(t, store.Costs())
}

func TestCompleteTrip_OnlyDispatchedTrips(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	draft, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), manager)
	require.NoError(t, err)
	_, err = c.CompleteTrip(t.Context(), draft.ID.Hex(), 10100, dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	trip, err := c.DispatchTrip(t.Context(), draft.ID.Hex(), "", dispatcher)
	require.NoError(t, err)
	_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), 10100, dispatcher)
	require.NoError(t, err)
	_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), 10200, dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	v := vehicleOf(t, store, vID)
	assert.Equal(t, int64(1), v.TotalTrips)
	assert.Equal(t, 10100.0, v.CurrentOdometer)
}

func TestCompleteTrip_NextTripStartsAtNewOdometer(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	first, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	_, err = c.CompleteTrip(t.Context(), first.ID.Hex(), 10120, dispatcher)
	require.NoError(t, err)

	second, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 10120.0, second.StartOdometer)
}

func TestCompleteTrip_ReleaseFailureIsInternal(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store}
	c, hook := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	registry.rejectVehicleFree = true
	_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), 10050, dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInternal))

	// The trip stays completed and the driver is still released.
	stored, err := c.GetTrip(t.Context(), trip.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, stored.Status)
	assert.Equal(t, models.DriverStatusOnDuty, driverOf(t, store, dID).Status)
	assert.Len(t, store.Costs(), 1)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "Completed trip could not release its vehicle" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestCompleteTrip_DriverReleaseFailureIsInternal(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store}
	c, _ := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	registry.rejectDriverFree = true
	_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), 10050, dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInternal))
	assert.Equal(t, models.VehicleStatusAvailable, vehicleOf(t, store, vID).Status)
}

func TestCompleteAndCancelRace(t *testing.T) {
	for range 20 {
		c, store := newMemoryCoordinator(t)
		vID := addVehicle(t, store)
		dID := addDriver(t, store)
		trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
		require.NoError(t, err)

		var (
			wg                     sync.WaitGroup
			completeErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, completeErr = c.CompleteTrip(context.Background(), trip.ID.Hex(), 10100, dispatcher)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = c.CancelTrip(context.Background(), trip.ID.Hex(), dispatcher)
		}()
		wg.Wait()

		require.True(t, (completeErr == nil) != (cancelErr == nil), "complete=%v cancel=%v", completeErr, cancelErr)
		loser := completeErr
		if loser == nil {
			loser = cancelErr
		}
		assert.True(t, errors.Is(loser, apperrors.ErrInvalidState))
		assertReleased(t, store, vID, dID)

		v := vehicleOf(t, store, vID)
		if completeErr == nil {
			assert.Equal(t, int64(1), v.TotalTrips)
		} else {
			assert.Zero(t, v.TotalTrips)
			assert.Empty(t, store.Costs())
		}
	}
}

func TestCancelTrip_DispatchedReleasesResources(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	cancelled, err := c.CancelTrip(t.Context(), trip.ID.Hex(), dispatcher)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assertReleased(t, store, vID, dID)

	d := driverOf(t, store, dID)
	assert.Equal(t, int64(1), d.TotalTripsAssigned)
	assert.Zero(t, d.TotalTripsCompleted)

	_, err = c.CancelTrip(t.Context(), trip.ID.Hex(), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
}

func TestCancelTrip_LateReleaseDoesNotTouchNewHolder(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	first, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	_, err = c.CancelTrip(t.Context(), first.ID.Hex(), dispatcher)
	require.NoError(t, err)

	second, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	// A repeated release on behalf of the first trip must not commit.
	ok, err := store.TransitionVehicle(t.Context(), vID, releaseVehicle(first.ID.Hex()))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.TransitionDriver(t.Context(), dID, releaseDriver(first.ID.Hex()))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, second.ID.Hex(), vehicleOf(t, store, vID).CurrentTripID)
	assert.Equal(t, second.ID.Hex(), driverOf(t, store, dID).CurrentTripID)
}

func TestCancelTrip_DraftNotifiesCounterpart(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	draft, err := c.CreateTrip(t.Context(), tripInput(vID, "", 100), manager)
	require.NoError(t, err)

	_, err = c.CancelTrip(t.Context(), draft.ID.Hex(), manager)
	require.NoError(t, err)

	var cancelled []models.Notification
	for _, n := range store.Notifications() {
		if n.Type == models.EventTripCancelled {
			cancelled = append(cancelled, n)
		}
	}
	require.Len(t, cancelled, 1)
	assert.Equal(t, models.RoleDispatcher, cancelled[0].Role)
	assert.Equal(t, models.VehicleStatusAvailable, vehicleOf(t, store, vID).Status)
}

func TestCancelTrip_TerminalTrips(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), 10010, dispatcher)
	require.NoError(t, err)

	_, err = c.CancelTrip(t.Context(), trip.ID.Hex(), admin)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	_, err = c.CancelTrip(t.Context(), primitive.NewObjectID().Hex(), admin)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDeleteTrip(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	draft, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), manager)
	require.NoError(t, err)
	err = c.DeleteTrip(t.Context(), draft.ID.Hex(), dispatcher)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))
	require.NoError(t, c.DeleteTrip(t.Context(), draft.ID.Hex(), manager))
	_, err = c.GetTrip(t.Context(), draft.ID.Hex())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	dispatched, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	err = c.DeleteTrip(t.Context(), dispatched.ID.Hex(), manager)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	_, err = c.CancelTrip(t.Context(), dispatched.ID.Hex(), dispatcher)
	require.NoError(t, err)
	require.NoError(t, c.DeleteTrip(t.Context(), dispatched.ID.Hex(), admin))

	err = c.DeleteTrip(t.Context(), dispatched.ID.Hex(), manager)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCancelTrip_RetryReleasesAfterFailedRelease(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store}
	c, _ := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	registry.releaseErrOnce = errors.New("socket timeout")
	_, err = c.CancelTrip(t.Context(), trip.ID.Hex(), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInternal), "got %v", err)

	stored, err := c.GetTrip(t.Context(), trip.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCancelled, stored.Status)
	v := vehicleOf(t, store, vID)
	assert.Equal(t, models.VehicleStatusOnTrip, v.Status)
	assert.Equal(t, trip.ID.Hex(), v.CurrentTripID)

	cancelled, err := c.CancelTrip(t.Context(), trip.ID.Hex(), dispatcher)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCancelled, cancelled.Status)
	assertReleased(t, store, vID, dID)

	_, err = c.CancelTrip(t.Context(), trip.ID.Hex(), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
}

func TestReleaseHeld_RecoversCompletedTrip(t *testing.T) {
	store := db.NewMemoryStore()
	registry := &faultyRegistry{Registry: store}
	c, _ := newCoordinator(t, registry, store, store)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)

	_, err = c.ReleaseHeld(t.Context(), trip.ID.Hex(), admin)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))

	registry.rejectVehicleFree = true
	_, err = c.CompleteTrip(t.Context(), trip.ID.Hex(), 10050, dispatcher)
	require.True(t, errors.Is(err, apperrors.ErrInternal))
	assert.Equal(t, trip.ID.Hex(), vehicleOf(t, store, vID).CurrentTripID)
	registry.rejectVehicleFree = false

	_, err = c.CancelTrip(t.Context(), trip.ID.Hex(), dispatcher)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
	_, err = c.ReleaseHeld(t.Context(), trip.ID.Hex(), dispatcher)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))

	released, err := c.ReleaseHeld(t.Context(), trip.ID.Hex(), admin)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, released.Status)
	assertReleased(t, store, vID, dID)
	assert.Equal(t, 10050.0, vehicleOf(t, store, vID).CurrentOdometer)

	next, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 10050.0, next.StartOdometer)
}

func TestLifecycle_RoleChecks(t *testing.T) {
	c, store := newMemoryCoordinator(t)
	vID := addVehicle(t, store)
	dID := addDriver(t, store)
	trip, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	id := trip.ID.Hex()

	_, err = c.CompleteTrip(t.Context(), id, 10100, viewer)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))
	_, err = c.CompleteTrip(t.Context(), id, 10100, manager)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))
	_, err = c.CancelTrip(t.Context(), id, viewer)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))
	err = c.DeleteTrip(t.Context(), id, viewer)
	assert.Equal(t, apperrors.RuleRoleNotPermitted, apperrors.RuleOf(err))

	stored, err := c.GetTrip(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusDispatched, stored.Status)
	assert.Equal(t, models.VehicleStatusOnTrip, vehicleOf(t, store, vID).Status)

	_, err = c.CancelTrip(t.Context(), id, manager)
	require.NoError(t, err)
	assertReleased(t, store, vID, dID)
}

func TestCoordinator_RecordsOutcomes(t *testing.T) {
	store := db.NewMemoryStore()
	rec := &outcomeRecorder{}
	c, _ := newCoordinator(t, store, store, store, WithMetrics(rec))
	vID := addVehicle(t, store)
	dID := addDriver(t, store)

	_, err := c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.NoError(t, err)
	_, err = c.CreateTrip(t.Context(), tripInput(vID, dID, 100), dispatcher)
	require.Error(t, err)

	require.Len(t, rec.outcomes, 2)
	assert.Equal(t, "CreateTrip", rec.outcomes[0].op)
	assert.NoError(t, rec.outcomes[0].err)
	assert.Equal(t, apperrors.RuleVehicleUnavailable, apperrors.RuleOf(rec.outcomes[1].err))
}
