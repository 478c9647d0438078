/*
Package metrics provides Prometheus metrics and component health for the
burrow agent.

All metrics are package-level variables registered with the default registry
in init(), so any package can update them directly:

	metrics.ReconciliationCyclesTotal.Inc()
	metrics.BoundPortsTotal.WithLabelValues("local").Set(3)

# Metrics

Reconciliation:

	burrow_reconciliation_cycles_total              counter
	burrow_reconciliation_failures_total            counter
	burrow_reconciliation_duration_seconds          histogram
	burrow_reconciliation_step_duration_seconds     histogram {step}

Step labels are snapshot, switch, register, tunnels, ports and routers.

Dataplane:

	burrow_tunnel_ports_total                       gauge
	burrow_bound_ports_total                        gauge {locality=local|remote}
	burrow_deferred_ports_total                     counter
	burrow_router_ports_total                       gauge
	burrow_flows_total                              gauge {table}

Tunnel keys:

	burrow_key_allocations_total                    counter
	burrow_key_allocation_conflicts_total           counter

The dataplane gauges are refreshed by a Collector every
DefaultCollectInterval from the local cache, the flow pipeline and the
switch. Counters are updated inline by the code that does the work.

# Timing

Timer measures an operation and records it into a histogram:

	timer := metrics.NewTimer()
	err := r.cycle(ctx)
	timer.ObserveDuration(metrics.ReconciliationDuration)

# Component health

Components (datastore, vswitch, dataplane, reconciler) report their state
with UpdateComponent or UpdateComponentErr. GetReadiness reports ready only
when every component is registered and healthy. HealthHandler serves the
component table as JSON.

# Example queries

	# cycle failure ratio
	rate(burrow_reconciliation_failures_total[5m]) / rate(burrow_reconciliation_cycles_total[5m])

	# slowest step
	topk(1, histogram_quantile(0.95, sum by (step, le) (rate(burrow_reconciliation_step_duration_seconds_bucket[5m]))))

	# ports stuck waiting for a dataplane port number
	increase(burrow_deferred_ports_total[10m]) > 0
*/
package metrics
