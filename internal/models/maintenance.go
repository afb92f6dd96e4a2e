package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MaintenanceStatus string

const (
	MaintenanceStatusInProgress MaintenanceStatus = "in_progress"
	MaintenanceStatusCompleted  MaintenanceStatus = "completed"
)

// Maintenance represents a vehicle maintenance record. A vehicle stays in_shop while
// one of its records is in progress.
type Maintenance struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID   string             `json:"vehicle_id" bson:"vehicle_id"`
	ServiceType string             `json:"service_type" bson:"service_type"` // "oil_change", "tire_rotation", "brake_service", "inspection"
	Description string             `json:"description" bson:"description"`
	ServiceDate time.Time          `json:"service_date" bson:"service_date"`
	Cost        float64            `json:"cost" bson:"cost"` // in USD
	Technician  string             `json:"technician" bson:"technician"`
	Status      MaintenanceStatus  `json:"status" bson:"status"`
	CreatedBy   string             `json:"created_by" bson:"created_by"`
	CompletedAt *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	Notes       string             `json:"notes" bson:"notes"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}
