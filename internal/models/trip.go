package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TripStatus string

const (
	TripStatusDraft      TripStatus = "draft"
	TripStatusDispatched TripStatus = "dispatched"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// Trip represents a single origin to destination assignment of a vehicle and driver.
type Trip struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID     string             `json:"vehicle_id" bson:"vehicle_id"`
	DriverID      string             `json:"driver_id,omitempty" bson:"driver_id"`
	Origin        string             `json:"origin" bson:"origin"`
	Destination   string             `json:"destination" bson:"destination"`
	CargoWeight   float64            `json:"cargo_weight" bson:"cargo_weight"`
	CargoUnit     WeightUnit         `json:"cargo_unit" bson:"cargo_unit"`
	Status        TripStatus         `json:"status" bson:"status"`
	StartOdometer float64            `json:"start_odometer" bson:"start_odometer"`
	EndOdometer   float64            `json:"end_odometer,omitempty" bson:"end_odometer"`
	DistanceKm    float64            `json:"distance_km,omitempty" bson:"distance_km"`
	DispatchedAt  *time.Time         `json:"dispatched_at,omitempty" bson:"dispatched_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	EstimatedCost float64            `json:"estimated_cost" bson:"estimated_cost"` // in USD
	ActualCost    float64            `json:"actual_cost" bson:"actual_cost"`       // in USD
	Revenue       float64            `json:"revenue" bson:"revenue"`               // in USD
	CreatedBy     string             `json:"created_by" bson:"created_by"`
	Notes         string             `json:"notes,omitempty" bson:"notes"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// CargoKg returns the cargo weight normalized to kilograms.
func (t *Trip) CargoKg() float64 {
	return t.CargoUnit.ToKilograms(t.CargoWeight)
}
