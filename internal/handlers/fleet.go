package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// FleetService is the vehicle and driver management the handlers expose.
type FleetService interface {
	RegisterVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error)
	RegisterDriver(ctx context.Context, d models.Driver) (*models.Driver, error)
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	SetDriverDuty(ctx context.Context, id string, onDuty bool) (*models.Driver, error)
	SuspendDriver(ctx context.Context, id string) (*models.Driver, error)
	ReinstateDriver(ctx context.Context, id string) (*models.Driver, error)
	RetireVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	StartMaintenance(ctx context.Context, m models.Maintenance, actor models.Actor) (*models.Maintenance, error)
	CompleteMaintenance(ctx context.Context, id string, cost float64, actor models.Actor) (*models.Maintenance, error)
}

// DutyRequest toggles a driver's duty.
type DutyRequest struct {
	OnDuty bool `json:"on_duty"`
}

// CompleteMaintenanceRequest carries the final cost of a maintenance job.
type CompleteMaintenanceRequest struct {
	Cost float64 `json:"cost"`
}

// FleetHandler handles vehicle, driver and maintenance requests
type FleetHandler struct {
	fleet FleetService
	log   *logrus.Entry
}

// NewFleetHandler creates a new fleet handler
func NewFleetHandler(fleet FleetService, log *logrus.Entry) *FleetHandler {
	return &FleetHandler{fleet: fleet, log: log}
}

// CreateVehicle handles POST /api/vehicles
func (h *FleetHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := decodeJSON(w, r, &v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	vehicle, err := h.fleet.RegisterVehicle(r.Context(), v)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

// GetVehicle handles GET /api/vehicles/{id}
func (h *FleetHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.fleet.GetVehicle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// RetireVehicle handles POST /api/vehicles/{id}/retire
func (h *FleetHandler) RetireVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.fleet.RetireVehicle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

// CreateDriver handles POST /api/drivers
func (h *FleetHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := decodeJSON(w, r, &d); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	driver, err := h.fleet.RegisterDriver(r.Context(), d)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, driver)
}

// GetDriver handles GET /api/drivers/{id}
func (h *FleetHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := h.fleet.GetDriver(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

// SetDuty handles POST /api/drivers/{id}/duty
func (h *FleetHandler) SetDuty(w http.ResponseWriter, r *http.Request) {
	var req DutyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	driver, err := h.fleet.SetDriverDuty(r.Context(), r.PathValue("id"), req.OnDuty)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

// Suspend handles POST /api/drivers/{id}/suspend
func (h *FleetHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	driver, err := h.fleet.SuspendDriver(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

// Reinstate handles POST /api/drivers/{id}/reinstate
func (h *FleetHandler) Reinstate(w http.ResponseWriter, r *http.Request) {
	driver, err := h.fleet.ReinstateDriver(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

// StartMaintenance handles POST /api/maintenance
func (h *FleetHandler) StartMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	var m models.Maintenance
	if err := decodeJSON(w, r, &m); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	record, err := h.fleet.StartMaintenance(r.Context(), m, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// CompleteMaintenance handles POST /api/maintenance/{id}/complete
func (h *FleetHandler) CompleteMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	var req CompleteMaintenanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	record, err := h.fleet.CompleteMaintenance(r.Context(), r.PathValue("id"), req.Cost, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
