package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DriverStatus string

const (
	DriverStatusOnDuty    DriverStatus = "on_duty"
	DriverStatusOffDuty   DriverStatus = "off_duty"
	DriverStatusOnTrip    DriverStatus = "on_trip"
	DriverStatusSuspended DriverStatus = "suspended"
)

// Driver represents a licensed driver in the fleet.
type Driver struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                string             `bson:"name" json:"name"`
	LicenseNumber       string             `bson:"license_number" json:"license_number"`
	LicenseCategory     []VehicleType      `bson:"license_category" json:"license_category"`
	LicenseExpiry       time.Time          `bson:"license_expiry" json:"license_expiry"`
	Status              DriverStatus       `bson:"status" json:"status"`
	CurrentTripID       string             `bson:"current_trip_id" json:"current_trip_id,omitempty"`
	TotalTripsAssigned  int64              `bson:"total_trips_assigned" json:"total_trips_assigned"`
	TotalTripsCompleted int64              `bson:"total_trips_completed" json:"total_trips_completed"`
	CreatedAt           time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

// CanOperate reports whether the driver's license covers the vehicle type.
func (d *Driver) CanOperate(t VehicleType) bool {
	for _, c := range d.LicenseCategory {
		if c == t {
			return true
		}
	}
	return false
}

// LicenseValidAt reports whether the license is still valid at instant t.
func (d *Driver) LicenseValidAt(t time.Time) bool {
	return t.Before(d.LicenseExpiry)
}
