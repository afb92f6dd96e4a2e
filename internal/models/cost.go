package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CostCategoryFuel        = "fuel"
	CostCategoryMaintenance = "maintenance"
)

// Cost represents a fleet expense record.
type Cost struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID   string             `json:"vehicle_id" bson:"vehicle_id"`
	TripID      string             `json:"trip_id,omitempty" bson:"trip_id,omitempty"`
	Category    string             `json:"category" bson:"category"` // "fuel", "maintenance", "insurance", "tolls", "other"
	Description string             `json:"description" bson:"description"`
	Amount      float64            `json:"amount" bson:"amount"`                         // in USD
	Distance    float64            `json:"distance,omitempty" bson:"distance,omitempty"` // in kilometers
	Date        time.Time          `json:"date" bson:"date"`
	CreatedBy   string             `json:"created_by" bson:"created_by"`
	Status      string             `json:"status" bson:"status"` // "pending", "paid", "disputed", "cancelled"
	Notes       string             `json:"notes" bson:"notes"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}
