package emitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// CostStoreSink writes expenses to a cost collection.
type CostStoreSink struct {
	Costs db.CostCollection
}

func (s *CostStoreSink) RecordFuelExpense(ctx context.Context, cost models.Cost) error {
	if err := s.Costs.InsertCost(ctx, cost); err != nil {
		return fmt.Errorf("insert fuel expense for trip %s: %w", cost.TripID, err)
	}
	return nil
}

// InboxSink stores notifications so clients can read them per role.
type InboxSink struct {
	Notifications db.NotificationCollection
}

func (s *InboxSink) NotifyRole(ctx context.Context, n models.Notification) error {
	if err := s.Notifications.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("store %s notification for %s: %w", n.Type, n.Role, err)
	}
	return nil
}

// MultiSink fans a notification out to several sinks. Every sink is attempted.
type MultiSink struct {
	Sinks []NotificationSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...NotificationSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) NotifyRole(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.NotifyRole(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
