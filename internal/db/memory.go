package db

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// MemoryStore is an in-process implementation of every collection interface.
// A single mutex makes each method atomic, which is what the conditional
// transitions rely on. It backs the memory storage mode and the tests.
type MemoryStore struct {
	mu            sync.Mutex
	vehicles      map[string]models.Vehicle
	drivers       map[string]models.Driver
	trips         map[string]models.Trip
	maintenance   map[string]models.Maintenance
	costs         []models.Cost
	notifications []models.Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:    make(map[string]models.Vehicle),
		drivers:     make(map[string]models.Driver),
		trips:       make(map[string]models.Trip),
		maintenance: make(map[string]models.Maintenance),
	}
}

func (s *MemoryStore) InsertVehicle(_ context.Context, vehicle models.Vehicle) error {
	if vehicle.ID.IsZero() {
		return fmt.Errorf("vehicle ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vehicles[vehicle.ID.Hex()]; exists {
		return fmt.Errorf("vehicle %s already exists", vehicle.ID.Hex())
	}
	vehicle.CreatedAt = time.Now()
	vehicle.UpdatedAt = vehicle.CreatedAt
	s.vehicles[vehicle.ID.Hex()] = vehicle
	return nil
}

func (s *MemoryStore) InsertDriver(_ context.Context, driver models.Driver) error {
	if driver.ID.IsZero() {
		return fmt.Errorf("driver ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.drivers[driver.ID.Hex()]; exists {
		return fmt.Errorf("driver %s already exists", driver.ID.Hex())
	}
	driver.CreatedAt = time.Now()
	driver.UpdatedAt = driver.CreatedAt
	driver.LicenseCategory = slices.Clone(driver.LicenseCategory)
	s.drivers[driver.ID.Hex()] = driver
	return nil
}

func (s *MemoryStore) FindVehicleByID(_ context.Context, id string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	return &v, nil
}

func (s *MemoryStore) FindDriverByID(_ context.Context, id string) (*models.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	d.LicenseCategory = slices.Clone(d.LicenseCategory)
	return &d, nil
}

func (s *MemoryStore) TransitionVehicle(_ context.Context, id string, t StatusTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return false, nil
	}
	if string(v.Status) != t.From || (t.ExpectTrip != "" && v.CurrentTripID != t.ExpectTrip) {
		return false, nil
	}
	v.Status = models.VehicleStatus(t.To)
	v.CurrentTripID = t.SetTrip
	v.UpdatedAt = time.Now()
	s.vehicles[id] = v
	return true, nil
}

func (s *MemoryStore) TransitionDriver(_ context.Context, id string, t StatusTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return false, nil
	}
	if string(d.Status) != t.From || (t.ExpectTrip != "" && d.CurrentTripID != t.ExpectTrip) {
		return false, nil
	}
	d.Status = models.DriverStatus(t.To)
	d.CurrentTripID = t.SetTrip
	d.UpdatedAt = time.Now()
	s.drivers[id] = d
	return true, nil
}

func (s *MemoryStore) RecordVehicleTrip(_ context.Context, id string, endOdometer, distanceKm, fuelCost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	v.TotalTrips++
	v.TotalDistanceKm += distanceKm
	v.TotalFuelCost += fuelCost
	v.CurrentOdometer = max(v.CurrentOdometer, endOdometer)
	v.UpdatedAt = time.Now()
	s.vehicles[id] = v
	return nil
}

func (s *MemoryStore) AddVehicleMaintenanceCost(_ context.Context, id string, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	v.TotalMaintenanceCost += cost
	v.UpdatedAt = time.Now()
	s.vehicles[id] = v
	return nil
}

func (s *MemoryStore) IncrementDriverTrips(_ context.Context, id string, assigned, completed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	d.TotalTripsAssigned += assigned
	d.TotalTripsCompleted += completed
	d.UpdatedAt = time.Now()
	s.drivers[id] = d
	return nil
}

func (s *MemoryStore) InsertTrip(_ context.Context, trip models.Trip) error {
	if trip.ID.IsZero() {
		return fmt.Errorf("trip ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trips[trip.ID.Hex()]; exists {
		return fmt.Errorf("trip %s already exists", trip.ID.Hex())
	}
	trip.CreatedAt = time.Now()
	trip.UpdatedAt = trip.CreatedAt
	s.trips[trip.ID.Hex()] = trip
	return nil
}

func (s *MemoryStore) FindTripByID(_ context.Context, id string) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

func (s *MemoryStore) TransitionTrip(_ context.Context, id string, from []models.TripStatus, u TripUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || !slices.Contains(from, t.Status) {
		return false, nil
	}
	u.apply(&t)
	s.trips[id] = t
	return true, nil
}

func (s *MemoryStore) DeleteTrip(_ context.Context, id string, allowed []models.TripStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || !slices.Contains(allowed, t.Status) {
		return false, nil
	}
	delete(s.trips, id)
	return true, nil
}

func (u TripUpdate) apply(t *models.Trip) {
	t.Status = u.Status
	t.UpdatedAt = time.Now()
	if u.DriverID != nil {
		t.DriverID = *u.DriverID
	}
	if u.StartOdometer != nil {
		t.StartOdometer = *u.StartOdometer
	}
	if u.EndOdometer != nil {
		t.EndOdometer = *u.EndOdometer
	}
	if u.DistanceKm != nil {
		t.DistanceKm = *u.DistanceKm
	}
	if u.ActualCost != nil {
		t.ActualCost = *u.ActualCost
	}
	if u.DispatchedAt != nil {
		at := *u.DispatchedAt
		t.DispatchedAt = &at
	}
	if u.CompletedAt != nil {
		at := *u.CompletedAt
		t.CompletedAt = &at
	}
	if u.CancelledAt != nil {
		at := *u.CancelledAt
		t.CancelledAt = &at
	}
}

func (s *MemoryStore) InsertCost(_ context.Context, cost models.Cost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cost.CreatedAt = time.Now()
	cost.UpdatedAt = cost.CreatedAt
	s.costs = append(s.costs, cost)
	return nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStore) InsertMaintenance(_ context.Context, m models.Maintenance) error {
	if m.ID.IsZero() {
		return fmt.Errorf("maintenance ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	s.maintenance[m.ID.Hex()] = m
	return nil
}

func (s *MemoryStore) FindMaintenanceByID(_ context.Context, id string) (*models.Maintenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maintenance[id]
	if !ok {
		return nil, fmt.Errorf("maintenance %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

func (s *MemoryStore) CompleteMaintenance(_ context.Context, id string, cost float64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maintenance[id]
	if !ok || m.Status != models.MaintenanceStatusInProgress {
		return false, nil
	}
	m.Status = models.MaintenanceStatusCompleted
	m.Cost = cost
	m.CompletedAt = &at
	m.UpdatedAt = time.Now()
	s.maintenance[id] = m
	return true, nil
}

func (s *MemoryStore) DeleteMaintenance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.maintenance, id)
	return nil
}

// Costs returns a copy of every stored expense record.
func (s *MemoryStore) Costs() []models.Cost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.costs)
}

// Notifications returns a copy of every stored notification.
func (s *MemoryStore) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notifications)
}

var (
	_ Registry               = (*MemoryStore)(nil)
	_ TripCollection         = (*MemoryStore)(nil)
	_ CostCollection         = (*MemoryStore)(nil)
	_ NotificationCollection = (*MemoryStore)(nil)
	_ MaintenanceCollection  = (*MemoryStore)(nil)
)
