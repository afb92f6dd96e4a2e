// Package emitter turns trip lifecycle outcomes into derived records: fuel
// expenses on completion and role-targeted notifications on every transition.
// Delivery is best-effort. Failures are logged and counted, never returned.
package emitter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// ExpenseSink stores synthesized expense records.
type ExpenseSink interface {
	RecordFuelExpense(ctx context.Context, cost models.Cost) error
}

// NotificationSink delivers a notification to every user holding its role.
type NotificationSink interface {
	NotifyRole(ctx context.Context, n models.Notification) error
}

// Emitter drives the sinks for the coordinator.
type Emitter struct {
	expenses ExpenseSink
	notifier NotificationSink
	metrics  metrics.Recorder
	log      *logrus.Entry
	now      func() time.Time
}

// New creates an Emitter. A nil recorder disables metrics.
func New(expenses ExpenseSink, notifier NotificationSink, rec metrics.Recorder, log *logrus.Entry) *Emitter {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Emitter{
		expenses: expenses,
		notifier: notifier,
		metrics:  rec,
		log:      log,
		now:      time.Now,
	}
}

// FuelExpense records the fuel expense of a completed trip.
func (e *Emitter) FuelExpense(ctx context.Context, trip *models.Trip, vehicle *models.Vehicle, distance, cost float64, actor models.Actor) {
	record := FuelExpense(trip, vehicle, distance, cost, actor, e.now())
	if err := e.expenses.RecordFuelExpense(ctx, record); err != nil {
		e.metrics.RecordDerivedFailure("fuel_expense")
		e.log.WithError(err).WithFields(logrus.Fields{
			"trip_id":    record.TripID,
			"vehicle_id": record.VehicleID,
			"amount":     record.Amount,
		}).Error("Failed to record fuel expense")
	}
}

// Lifecycle sends the notifications for ev.
func (e *Emitter) Lifecycle(ctx context.Context, ev Event) {
	for _, n := range Notifications(ev, e.now()) {
		if err := e.notifier.NotifyRole(ctx, n); err != nil {
			e.metrics.RecordDerivedFailure("notification")
			e.log.WithError(err).WithFields(logrus.Fields{
				"trip_id": n.TripID,
				"event":   n.Type,
				"role":    n.Role,
			}).Error("Failed to send notification")
		}
	}
}
