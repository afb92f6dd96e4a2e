// Package metrics records trip lifecycle outcomes and derived-record failures.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ukydev/fleet-dispatch/internal/apperrors"
)

// Recorder receives lifecycle observations. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordTransition(op string, err error)
	RecordDerivedFailure(record string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordTransition(string, error) {}
func (Nop) RecordDerivedFailure(string)    {}

// Outcome maps an operation result to a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrValidation):
		return "validation"
	case errors.Is(err, apperrors.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, apperrors.ErrResourceUnavailable):
		return "resource_unavailable"
	case errors.Is(err, apperrors.ErrInternal):
		return "internal"
	default:
		return "error"
	}
}

// PromRecorder records observations in Prometheus counters.
type PromRecorder struct {
	transitions *prometheus.CounterVec
	derived     *prometheus.CounterVec
}

// NewPromRecorder registers the counters on the default Prometheus registerer.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromRecorderWithRegistry registers the counters on reg. A nil registerer
// defaults to the global Prometheus registerer.
func NewPromRecorderWithRegistry(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_trip_operations_total",
		Help: "Trip lifecycle operations by operation and outcome",
	}, []string{"op", "outcome"})
	derived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_derived_record_failures_total",
		Help: "Expense or notification records that could not be delivered",
	}, []string{"record"})

	if err := reg.Register(transitions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			transitions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(derived); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			derived = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	return &PromRecorder{transitions: transitions, derived: derived}, nil
}

// RecordTransition counts one lifecycle operation.
func (r *PromRecorder) RecordTransition(op string, err error) {
	r.transitions.WithLabelValues(op, Outcome(err)).Inc()
}

// RecordDerivedFailure counts one lost expense or notification record.
func (r *PromRecorder) RecordDerivedFailure(record string) {
	r.derived.WithLabelValues(record).Inc()
}
