package emitter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event is a trip lifecycle transition that may produce notifications.
type Event struct {
	Type  models.EventType
	Trip  models.Trip
	Actor models.Actor
}

// FuelExpense builds the fuel expense record for a completed trip.
func FuelExpense(trip *models.Trip, vehicle *models.Vehicle, distance, cost float64, actor models.Actor, now time.Time) models.Cost {
	return models.Cost{
		ID:        primitive.NewObjectID(),
		VehicleID: vehicle.ID.Hex(),
		TripID:    trip.ID.Hex(),
		Category:  models.CostCategoryFuel,
		Description: fmt.Sprintf("Fuel for trip %s → %s (%.1f km @ %.2f/km)",
			trip.Origin, trip.Destination, distance, vehicle.FuelRate()),
		Amount:    cost,
		Distance:  distance,
		Date:      now,
		CreatedBy: actor.UserID,
		Status:    "pending",
	}
}

// Notifications builds the role-targeted notifications for ev. It returns nil for
// events nobody is notified about, such as a trip created already dispatched.
func Notifications(ev Event, now time.Time) []models.Notification {
	route := fmt.Sprintf("%s → %s", ev.Trip.Origin, ev.Trip.Destination)
	var (
		roles   []models.Role
		title   string
		message string
	)
	switch ev.Type {
	case models.EventTripCreated:
		if ev.Trip.Status != models.TripStatusDraft {
			return nil
		}
		roles = []models.Role{models.RoleManager}
		title = "New trip request"
		message = fmt.Sprintf("Trip %s is awaiting dispatch", route)
	case models.EventTripDispatched:
		roles = []models.Role{models.RoleManager, models.RoleDispatcher}
		title = "Trip dispatched"
		message = fmt.Sprintf("Trip %s has been dispatched", route)
	case models.EventTripCompleted:
		roles = []models.Role{models.RoleManager, models.RoleDispatcher}
		title = "Trip completed"
		message = fmt.Sprintf("Trip %s completed after %.1f km", route, ev.Trip.DistanceKm)
	case models.EventTripCancelled:
		roles = counterpartRoles(ev.Actor.Role)
		title = "Trip cancelled"
		message = fmt.Sprintf("Trip %s was cancelled", route)
	default:
		return nil
	}

	eventID := uuid.NewString()
	out := make([]models.Notification, 0, len(roles))
	for _, role := range roles {
		out = append(out, models.Notification{
			ID:            primitive.NewObjectID(),
			EventID:       eventID,
			Role:          role,
			Type:          ev.Type,
			Title:         title,
			Message:       message,
			TripID:        ev.Trip.ID.Hex(),
			ExcludeUserID: ev.Actor.UserID,
			CreatedAt:     now,
		})
	}
	return out
}

// counterpartRoles returns who hears about a cancellation made by role.
func counterpartRoles(role models.Role) []models.Role {
	switch role {
	case models.RoleDispatcher:
		return []models.Role{models.RoleManager}
	case models.RoleManager:
		return []models.Role{models.RoleDispatcher}
	default:
		return []models.Role{models.RoleManager, models.RoleDispatcher}
	}
}
