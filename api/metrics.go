/*
metrics.go - Prometheus instrumentation for loom operations

Counters are incremented in the handlers, next to the engine calls whose
outcomes they count. The /metrics endpoint is wired in server.go.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the operation counters exposed on /metrics.
type Metrics struct {
	InstancesGenerated prometheus.Counter
	InstancesDeleted   prometheus.Counter
	Allocations        prometheus.Counter
	Cancellations      prometheus.Counter
	SicknessReports    prometheus.Counter
	OptimiseFailures   prometheus.Counter
}

// NewMetrics registers the counters on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry so
// parallel tests don't collide on registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InstancesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_instances_generated_total",
			Help: "Program instances materialized by window generation.",
		}),
		InstancesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_instances_deleted_total",
			Help: "Program instances removed by window shrink or regeneration.",
		}),
		Allocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_allocations_created_total",
			Help: "Participant allocations created.",
		}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_cancellations_total",
			Help: "Participant cancellations processed.",
		}),
		SicknessReports: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_sickness_reports_total",
			Help: "Staff sickness reports processed (replaced or flagged).",
		}),
		OptimiseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_optimise_failures_total",
			Help: "Allocation sub-steps that completed with insufficient resources.",
		}),
	}
}
