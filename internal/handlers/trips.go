package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// TripService is the trip lifecycle the handlers expose.
type TripService interface {
	CreateTrip(ctx context.Context, in dispatch.CreateTripInput, actor models.Actor) (*models.Trip, error)
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)
	DispatchTrip(ctx context.Context, tripID, driverID string, actor models.Actor) (*models.Trip, error)
	CompleteTrip(ctx context.Context, tripID string, endOdometer float64, actor models.Actor) (*models.Trip, error)
	CancelTrip(ctx context.Context, tripID string, actor models.Actor) (*models.Trip, error)
	ReleaseHeld(ctx context.Context, tripID string, actor models.Actor) (*models.Trip, error)
	DeleteTrip(ctx context.Context, tripID string, actor models.Actor) error
}

// DispatchRequest optionally overrides the driver of a draft.
type DispatchRequest struct {
	DriverID string `json:"driver_id,omitempty"`
}

// CompleteRequest carries the odometer reading at the end of a trip.
type CompleteRequest struct {
	EndOdometer *float64 `json:"end_odometer"`
}

// TripHandler handles trip lifecycle requests
type TripHandler struct {
	trips TripService
	log   *logrus.Entry
}

// NewTripHandler creates a new trip handler
func NewTripHandler(trips TripService, log *logrus.Entry) *TripHandler {
	return &TripHandler{trips: trips, log: log}
}

// Create handles POST /api/trips
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var in dispatch.CreateTripInput
	if err := decodeJSON(w, r, &in); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	trip, err := h.trips.CreateTrip(r.Context(), in, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// Get handles GET /api/trips/{id}
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	trip, err := h.trips.GetTrip(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Dispatch handles POST /api/trips/{id}/dispatch
func (h *TripHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var req DispatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	trip, err := h.trips.DispatchTrip(r.Context(), r.PathValue("id"), req.DriverID, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Complete handles POST /api/trips/{id}/complete
func (h *TripHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var req CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.EndOdometer == nil {
		http.Error(w, "end_odometer is required", http.StatusBadRequest)
		return
	}

	trip, err := h.trips.CompleteTrip(r.Context(), r.PathValue("id"), *req.EndOdometer, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Cancel handles POST /api/trips/{id}/cancel
func (h *TripHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	trip, err := h.trips.CancelTrip(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Release handles POST /api/trips/{id}/release
func (h *TripHandler) Release(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	trip, err := h.trips.ReleaseHeld(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// Delete handles DELETE /api/trips/{id}
func (h *TripHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	if err := h.trips.DeleteTrip(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
