// Package promobserver exports transition outcomes as Prometheus counters.
package promobserver

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

// Failure reasons used as the "reason" label.
const (
	ReasonUnknownTransition = "unknown_transition"
	ReasonInvalidState      = "invalid_state"
	ReasonLockTimeout       = "lock_timeout"
	ReasonPersistence       = "persistence"
	ReasonOther             = "other"
)

// unresolved replaces the status field and transition labels of names the
// registry does not know.
const unresolved = "unknown"

// Observer implements transition.Observer.
type Observer struct {
	applied *prometheus.CounterVec
	failed  *prometheus.CounterVec
}

// New registers the counters with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		applied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statekit_transitions_applied_total",
			Help: "Transitions applied, by entity type, status field, transition and resulting state",
		}, []string{"entity_type", "status_field", "transition", "to_state"}),

		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statekit_transitions_failed_total",
			Help: "Transitions rejected or failed, by entity type, status field, transition and reason",
		}, []string{"entity_type", "status_field", "transition", "reason"}),
	}
}

func (o *Observer) TransitionApplied(_ context.Context, r transition.Record) {
	o.applied.WithLabelValues(r.EntityType, r.StatusField, r.Transition, r.ToState).Inc()
}

// TransitionFailed counts a failure. Unknown transitions share one series
// with "unknown" field and transition labels.
func (o *Observer) TransitionFailed(_ context.Context, entityType, statusField, name string, err error) {
	reason := Reason(err)
	if reason == ReasonUnknownTransition {
		statusField, name = unresolved, unresolved
	}
	o.failed.WithLabelValues(entityType, statusField, name, reason).Inc()
}

// Reason classifies err into one of the Reason* labels.
func Reason(err error) string {
	switch {
	case errors.Is(err, transition.ErrUnknownTransition):
		return ReasonUnknownTransition
	case errors.Is(err, transition.ErrInvalidState):
		return ReasonInvalidState
	case errors.Is(err, transition.ErrLockTimeout):
		return ReasonLockTimeout
	case errors.Is(err, transition.ErrPersistence):
		return ReasonPersistence
	default:
		return ReasonOther
	}
}
