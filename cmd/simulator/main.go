package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Cities used as trip endpoints
var cities = []string{
	"London", "New York", "Madrid", "Nicosia", "Bogotá", "Paris", "Istanbul", "Cardiff",
	"Los Angeles", "San Francisco", "Berlin", "Tokyo", "Sydney", "Singapore", "São Paulo",
	"Toronto", "Dubai", "Mumbai", "Johannesburg", "Melbourne",
}

// APIError is a non-2xx response from the dispatch API.
type APIError struct {
	Status int
	Body   handlers.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Rule != "" {
		return fmt.Sprintf("api status %d: %s (%s)", e.Status, e.Body.Error, e.Body.Rule)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body.Error)
}

// Client calls the dispatch API with a fixed bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, &apiErr.Body) != nil {
			apiErr.Body.Error = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func createVehicle(ctx context.Context, c *Client, n int) (*models.Vehicle, error) {
	vehicle := models.Vehicle{
		Name:            fmt.Sprintf("Van-%02d", n),
		LicensePlate:    fmt.Sprintf("SIM-%04d", n),
		Type:            models.VehicleTypeVan,
		MaxLoadCapacity: 500 + float64(rand.Intn(5))*100,
		CapacityUnit:    models.WeightUnitKg,
		CurrentOdometer: float64(10000 + rand.Intn(50000)),
		FuelCostPerKm:   6 + float64(rand.Intn(5)),
	}
	var created models.Vehicle
	if err := c.post(ctx, "/api/vehicles", vehicle, &created); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"vehicle_id": created.ID.Hex(),
		"name":       created.Name,
		"odometer":   created.CurrentOdometer,
	}).Info("Created vehicle")
	return &created, nil
}

func createDriver(ctx context.Context, c *Client, n int) (*models.Driver, error) {
	driver := models.Driver{
		Name:            fmt.Sprintf("Driver %02d", n),
		LicenseNumber:   fmt.Sprintf("DL-SIM-%04d", n),
		LicenseCategory: []models.VehicleType{models.VehicleTypeVan},
		LicenseExpiry:   time.Now().AddDate(1, 0, 0),
		Status:          models.DriverStatusOnDuty,
	}
	var created models.Driver
	if err := c.post(ctx, "/api/drivers", driver, &created); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"driver_id": created.ID.Hex(), "name": created.Name}).Info("Created driver")
	return &created, nil
}

// Stats counts the outcomes of one simulation round.
type Stats struct {
	Attempts  int
	Created   int
	Rejected  int
	Failed    int
	Completed int
	Cancelled int
}

// Simulator races trip creations against a small fleet and checks that no
// vehicle or driver ends up on two dispatched trips at once.
type Simulator struct {
	client     *Client
	vehicles   []*models.Vehicle
	drivers    []*models.Driver
	cancelRate float64
	rng        *rand.Rand
	mu         sync.Mutex
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) tripInput() dispatch.CreateTripInput {
	v := s.vehicles[s.intn(len(s.vehicles))]
	d := s.drivers[s.intn(len(s.drivers))]
	origin := cities[s.intn(len(cities))]
	destination := cities[s.intn(len(cities))]
	return dispatch.CreateTripInput{
		VehicleID:     v.ID.Hex(),
		DriverID:      d.ID.Hex(),
		Origin:        origin,
		Destination:   destination,
		CargoWeight:   float64(50 + s.intn(400)),
		CargoUnit:     models.WeightUnitKg,
		EstimatedCost: 500,
		Revenue:       1500,
	}
}

// Round fires concurrent dispatched-trip creations, verifies exclusivity over
// the trips that were accepted, then completes or cancels every one of them.
func (s *Simulator) Round(ctx context.Context, concurrency int) (Stats, error) {
	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		stats   = Stats{Attempts: concurrency}
		created []*models.Trip
	)
	for i := 0; i < concurrency; i++ {
		input := s.tripInput()
		wg.Add(1)
		go func() {
			defer wg.Done()
			var trip models.Trip
			err := s.client.post(ctx, "/api/trips", input, &trip)
			resMu.Lock()
			defer resMu.Unlock()
			if err == nil {
				created = append(created, &trip)
				stats.Created++
				return
			}
			if isRejection(err) {
				stats.Rejected++
				return
			}
			stats.Failed++
			log.WithError(err).Warn("Trip creation failed")
		}()
	}
	wg.Wait()

	if err := checkExclusive(created); err != nil {
		return stats, err
	}

	for _, trip := range created {
		wg.Add(1)
		go func(trip *models.Trip) {
			defer wg.Done()
			id := trip.ID.Hex()
			var err error
			cancel := s.float() < s.cancelRate
			if cancel {
				err = s.client.post(ctx, "/api/trips/"+id+"/cancel", nil, nil)
			} else {
				end := trip.StartOdometer + float64(10+s.intn(300))
				err = s.client.post(ctx, "/api/trips/"+id+"/complete", handlers.CompleteRequest{EndOdometer: &end}, nil)
			}
			resMu.Lock()
			defer resMu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				log.WithError(err).WithField("trip_id", id).Warn("Trip close failed")
			case cancel:
				stats.Cancelled++
			default:
				stats.Completed++
			}
		}(trip)
	}
	wg.Wait()
	return stats, nil
}

// isRejection reports whether the API refused a trip because its vehicle or
// driver was taken, as opposed to a transport or server failure.
func isRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict || apiErr.Status == http.StatusUnprocessableEntity
}

// checkExclusive fails when two accepted trips share a vehicle or a driver.
func checkExclusive(trips []*models.Trip) error {
	vehicles := make(map[string]string, len(trips))
	drivers := make(map[string]string, len(trips))
	for _, t := range trips {
		id := t.ID.Hex()
		if other, ok := vehicles[t.VehicleID]; ok {
			return fmt.Errorf("vehicle %s held by trips %s and %s", t.VehicleID, other, id)
		}
		vehicles[t.VehicleID] = id
		if t.DriverID == "" {
			continue
		}
		if other, ok := drivers[t.DriverID]; ok {
			return fmt.Errorf("driver %s held by trips %s and %s", t.DriverID, other, id)
		}
		drivers[t.DriverID] = id
	}
	return nil
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func main() {
	apiURL := os.Getenv("SIM_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8081"
	}
	secret := os.Getenv("JWT_SECRET")
	fleetSize := envInt("FLEET_SIZE", 5)
	driverCount := envInt("SIM_DRIVERS", fleetSize)
	concurrency := envInt("SIM_CONCURRENCY", 4*fleetSize)
	rounds := envInt("SIM_ROUNDS", 10)

	log.WithFields(log.Fields{
		"api_url":     apiURL,
		"fleet_size":  fleetSize,
		"drivers":     driverCount,
		"concurrency": concurrency,
		"rounds":      rounds,
	}).Info("Starting dispatch simulation")

	tokens := auth.NewService(secret, time.Hour)
	managerToken, err := tokens.GenerateToken("sim-manager", "simulator", models.RoleManager)
	if err != nil {
		log.WithError(err).Fatal("Failed to mint manager token")
	}
	dispatcherToken, err := tokens.GenerateToken("sim-dispatcher", "simulator", models.RoleDispatcher)
	if err != nil {
		log.WithError(err).Fatal("Failed to mint dispatcher token")
	}

	ctx := context.Background()
	manager := NewClient(apiURL, managerToken)
	sim := &Simulator{
		client:     NewClient(apiURL, dispatcherToken),
		cancelRate: 0.2,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := 0; i < fleetSize; i++ {
		v, err := createVehicle(ctx, manager, i+1)
		if err != nil {
			log.WithError(err).Error("Failed to create vehicle")
			continue
		}
		sim.vehicles = append(sim.vehicles, v)
	}
	for i := 0; i < driverCount; i++ {
		d, err := createDriver(ctx, sim.client, i+1)
		if err != nil {
			log.WithError(err).Error("Failed to create driver")
			continue
		}
		sim.drivers = append(sim.drivers, d)
	}
	if len(sim.vehicles) == 0 || len(sim.drivers) == 0 {
		log.Error("No fleet created. Ensure JWT_SECRET matches the server and the API is reachable. Exiting.")
		os.Exit(1)
	}

	for r := 1; r <= rounds; r++ {
		stats, err := sim.Round(ctx, concurrency)
		entry := log.WithFields(log.Fields{
			"round":     r,
			"attempts":  stats.Attempts,
			"created":   stats.Created,
			"rejected":  stats.Rejected,
			"failed":    stats.Failed,
			"completed": stats.Completed,
			"cancelled": stats.Cancelled,
		})
		if err != nil {
			entry.WithError(err).Fatal("Exclusivity violated")
		}
		entry.Info("Round finished")
	}
	log.Info("Dispatch simulation finished")
}
