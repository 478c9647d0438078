/*
Package reconciler drives the northbound logical network model into the
local dataplane.

The Reconciler is a level-triggered control loop. Every cycle it takes one
snapshot of the northbound store and one of the local switch, then runs the
steps below in order against those snapshots only:

	snapshot → switch sync → register chassis → tunnels → ports → routers

Work is tracked in a cache.LocalState. An entry in the cache means the
change has been applied to the flow pipeline; an entry missing from it means
it has not. Each step compares the snapshot with the cache and issues only
the add and remove calls needed to close the gap, so a cycle over unchanged
input has no side effects.

# Lifecycle

	INIT → WAIT_DATAPLANE_READY → RUNNING

Run initializes the switch and starts the flow pipeline, then polls the
pipeline's readiness every ReadyPollInterval with no timeout. Once ready it
runs a cycle every Interval until its context is cancelled.

# Steps

Chassis registration adds the local chassis to the store when neither the
snapshot nor a direct lookup finds it. Two agents racing on the same name
both succeed.

TunnelMesh creates one tunnel port per remote chassis and deletes tunnel
ports whose chassis left the store. It carries on past a failing port and
returns the joined errors.

Ports binds every logical port it has not cached yet. A port bound to this
chassis needs a local VIF ofport; any other port needs the tunnel ofport of
its chassis. When the ofport is not known yet the port is skipped and picked
up by a later cycle. Cached ports missing from the store are unbound. A
port that changes in the store is not re-bound: it must be deleted and
recreated.

Routers adds all ports of at most one new router per cycle. For routers it
has seen, it diffs the port sets by whole-record equality and removes then
adds the difference. Routers removed from the store are left programmed.

# Failures

Any error or panic ends the cycle. It is logged, counted in
burrow_reconciliation_failures_total, published as a cycle.failed event and
recorded in LastCycle. Nothing is rolled back; the next cycle starts from
whatever the cache holds.
*/
package reconciler
