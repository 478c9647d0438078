package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
	)

	ReconciliationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_failures_total",
			Help: "Total number of reconciliation cycles abandoned on error",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_step_duration_seconds",
			Help:    "Time taken by each reconciliation step in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// Dataplane metrics
	TunnelPortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_tunnel_ports_total",
			Help: "Number of tunnel ports towards remote chassis",
		},
	)

	BoundPortsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_bound_ports_total",
			Help: "Number of logical ports bound into the dataplane by locality",
		},
		[]string{"locality"},
	)

	DeferredPortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_deferred_ports_total",
			Help: "Total number of port bindings deferred for a missing dataplane port number",
		},
	)

	RouterPortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_router_ports_total",
			Help: "Number of router ports programmed into the dataplane",
		},
	)

	FlowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_flows_total",
			Help: "Number of flow entries by table",
		},
		[]string{"table"},
	)

	// Key allocation metrics
	KeyAllocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_key_allocations_total",
			Help: "Total number of tunnel keys allocated",
		},
	)

	KeyAllocationConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_key_allocation_conflicts_total",
			Help: "Total number of version conflicts retried during key allocation",
		},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationFailuresTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationStepDuration)
	prometheus.MustRegister(TunnelPortsTotal)
	prometheus.MustRegister(BoundPortsTotal)
	prometheus.MustRegister(DeferredPortsTotal)
	prometheus.MustRegister(RouterPortsTotal)
	prometheus.MustRegister(FlowsTotal)
	prometheus.MustRegister(KeyAllocationsTotal)
	prometheus.MustRegister(KeyAllocationConflictsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
