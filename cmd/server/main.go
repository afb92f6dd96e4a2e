package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/emitter"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/logging"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
)

type stores struct {
	registry      db.Registry
	trips         db.TripCollection
	costs         db.CostCollection
	notifications db.NotificationCollection
	maintenance   db.MaintenanceCollection
}

func openStores(cfg *config.Config, log *logrus.Entry) (*stores, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("Using in-memory storage; data is lost on restart")
		store := db.NewMemoryStore()
		return &stores{registry: store, trips: store, costs: store, notifications: store, maintenance: store}, func() {}, nil
	}

	client, err := db.ConnectMongo(cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	database := client.Database(cfg.MongoDB)
	s := &stores{
		registry:      db.NewMongoRegistry(database),
		trips:         &db.MongoCollection{Collection: database.Collection(db.TripsCollection)},
		costs:         &db.MongoCollection{Collection: database.Collection(db.CostsCollection)},
		notifications: &db.MongoCollection{Collection: database.Collection(db.NotificationsCollection)},
		maintenance:   &db.MongoCollection{Collection: database.Collection(db.MaintenanceCollectionName)},
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}
	return s, closeFn, nil
}

// buildHandler wires storage, the coordinator and the HTTP surface. The returned
// cleanup releases the storage and broker connections.
func buildHandler(cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (http.Handler, func(), error) {
	log := logging.Component(logger, "server")

	s, closeStores, err := openStores(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := []func(){closeStores}
	runCleanup := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	rec, err := metrics.NewPromRecorderWithRegistry(reg)
	if err != nil {
		runCleanup()
		return nil, nil, err
	}

	var notifier emitter.NotificationSink = &emitter.InboxSink{Notifications: s.notifications}
	if cfg.MQTTBroker != "" {
		mqttSink, err := emitter.NewMQTTSink(emitter.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         1,
		}, logging.Component(logger, "mqtt"))
		if err != nil {
			// Notifications still reach the inbox without the broker.
			log.WithError(err).Error("MQTT sink disabled")
		} else {
			notifier = emitter.NewMultiSink(notifier, mqttSink)
			cleanup = append(cleanup, mqttSink.Close)
		}
	}

	em := emitter.New(&emitter.CostStoreSink{Costs: s.costs}, notifier, rec, logging.Component(logger, "emitter"))
	coordinator := dispatch.NewCoordinator(s.registry, s.trips, em,
		dispatch.WithLogger(logrus.NewEntry(logger)),
		dispatch.WithMetrics(rec),
	)
	fleetService := fleet.NewService(s.registry, s.maintenance, s.costs, rec, logrus.NewEntry(logger))

	authMW := middleware.NewAuthMiddleware(auth.NewService(cfg.JWTSecret, cfg.JWTExpiry))
	rateLimiter := middleware.NewRateLimitMiddleware()

	mux := http.NewServeMux()
	handlers.Register(mux,
		handlers.NewTripHandler(coordinator, logging.Component(logger, "http")),
		handlers.NewFleetHandler(fleetService, logging.Component(logger, "http")),
		authMW,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = authMW.Authenticate(mux)
	handler = rateLimiter.RateLimit(cfg.RateLimitRequests, int(cfg.RateLimitWindow.Seconds()))(handler)
	handler = middleware.RequestLogger(logging.Component(logger, "http"))(handler)
	return handler, runCleanup, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Component(logger, "server")

	handler, cleanup, err := buildHandler(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		log.WithError(err).Fatal("Failed to start")
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "storage": cfg.Storage}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}
