package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Register mounts the trip and fleet routes on mux. Every route checks the
// caller's permission; authentication itself is applied around the mux.
func Register(mux *http.ServeMux, trips *TripHandler, fleet *FleetHandler, authMW *middleware.AuthMiddleware) {
	perm := func(action string, h http.HandlerFunc) http.Handler {
		return authMW.RequirePermission(action)(h)
	}

	mux.Handle("POST /api/trips", perm("create_trip", trips.Create))
	mux.Handle("GET /api/trips/{id}", perm("view_trips", trips.Get))
	mux.Handle("POST /api/trips/{id}/dispatch", perm("dispatch_trip", trips.Dispatch))
	mux.Handle("POST /api/trips/{id}/complete", perm("complete_trip", trips.Complete))
	mux.Handle("POST /api/trips/{id}/cancel", perm("cancel_trip", trips.Cancel))
	mux.Handle("POST /api/trips/{id}/release", authMW.RequireRole(models.RoleAdmin)(http.HandlerFunc(trips.Release)))
	mux.Handle("DELETE /api/trips/{id}", perm("delete_trip", trips.Delete))

	mux.Handle("POST /api/vehicles", authMW.RequireRole(models.RoleManager)(http.HandlerFunc(fleet.CreateVehicle)))
	mux.Handle("GET /api/vehicles/{id}", perm("view_trips", fleet.GetVehicle))
	mux.Handle("POST /api/vehicles/{id}/retire", authMW.RequireRole(models.RoleManager)(http.HandlerFunc(fleet.RetireVehicle)))

	mux.Handle("POST /api/drivers", perm("manage_drivers", fleet.CreateDriver))
	mux.Handle("GET /api/drivers/{id}", perm("view_trips", fleet.GetDriver))
	mux.Handle("POST /api/drivers/{id}/duty", perm("manage_drivers", fleet.SetDuty))
	mux.Handle("POST /api/drivers/{id}/suspend", perm("manage_drivers", fleet.Suspend))
	mux.Handle("POST /api/drivers/{id}/reinstate", perm("manage_drivers", fleet.Reinstate))

	mux.Handle("POST /api/maintenance", perm("manage_maintenance", fleet.StartMaintenance))
	mux.Handle("POST /api/maintenance/{id}/complete", perm("manage_maintenance", fleet.CompleteMaintenance))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
