package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultFuelCostPerKm is applied when a vehicle has no per-kilometer fuel rate.
const DefaultFuelCostPerKm = 10.0

type VehicleType string

const (
	VehicleTypeTruck VehicleType = "truck"
	VehicleTypeVan   VehicleType = "van"
	VehicleTypeBike  VehicleType = "bike"
)

// IsValidVehicleType checks if a vehicle type is known
func IsValidVehicleType(t VehicleType) bool {
	switch t {
	case VehicleTypeTruck, VehicleTypeVan, VehicleTypeBike:
		return true
	default:
		return false
	}
}

type VehicleStatus string

const (
	VehicleStatusAvailable VehicleStatus = "available"
	VehicleStatusOnTrip    VehicleStatus = "on_trip"
	VehicleStatusInShop    VehicleStatus = "in_shop"
	VehicleStatusRetired   VehicleStatus = "retired"
)

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                 string             `bson:"name" json:"name"`
	LicensePlate         string             `bson:"license_plate" json:"license_plate"`
	Type                 VehicleType        `bson:"type" json:"type"`
	MaxLoadCapacity      float64            `bson:"max_load_capacity" json:"max_load_capacity"`
	CapacityUnit         WeightUnit         `bson:"capacity_unit" json:"capacity_unit"`
	Status               VehicleStatus      `bson:"status" json:"status"`
	CurrentTripID        string             `bson:"current_trip_id" json:"current_trip_id,omitempty"`
	CurrentOdometer      float64            `bson:"current_odometer" json:"current_odometer"` // in kilometers
	FuelCostPerKm        float64            `bson:"fuel_cost_per_km" json:"fuel_cost_per_km"`
	TotalTrips           int64              `bson:"total_trips" json:"total_trips"`
	TotalDistanceKm      float64            `bson:"total_distance_km" json:"total_distance_km"`
	TotalFuelCost        float64            `bson:"total_fuel_cost" json:"total_fuel_cost"`
	TotalMaintenanceCost float64            `bson:"total_maintenance_cost" json:"total_maintenance_cost"`
	CreatedAt            time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `bson:"updated_at" json:"updated_at"`
}

// MaxLoadKg returns the load capacity normalized to kilograms.
func (v *Vehicle) MaxLoadKg() float64 {
	return v.CapacityUnit.ToKilograms(v.MaxLoadCapacity)
}

// FuelRate returns the per-kilometer fuel cost, falling back to DefaultFuelCostPerKm.
func (v *Vehicle) FuelRate() float64 {
	if v.FuelCostPerKm <= 0 {
		return DefaultFuelCostPerKm
	}
	return v.FuelCostPerKm
}
