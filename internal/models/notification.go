package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EventType string

const (
	EventTripCreated    EventType = "trip_created"
	EventTripDispatched EventType = "trip_dispatched"
	EventTripCompleted  EventType = "trip_completed"
	EventTripCancelled  EventType = "trip_cancelled"
)

// Notification is a role-targeted message about a trip lifecycle event.
type Notification struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	EventID       string             `json:"event_id" bson:"event_id"`
	Role          Role               `json:"role" bson:"role"`
	Type          EventType          `json:"type" bson:"type"`
	Title         string             `json:"title" bson:"title"`
	Message       string             `json:"message" bson:"message"`
	TripID        string             `json:"trip_id" bson:"trip_id"`
	ExcludeUserID string             `json:"exclude_user_id,omitempty" bson:"exclude_user_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
}
