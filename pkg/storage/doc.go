/*
Package storage provides the northbound store backends for burrow.

The northbound store holds the cluster-wide logical network model that every
chassis agent reconciles against. It is organised as five tables:

	chassis     <name>   → Chassis      one row per registered host
	lswitch     <name>   → LogicalSwitch
	lport       <id>     → LogicalPort  tunnel key, binding chassis, addresses
	lrouter     <name>   → LogicalRouter, ports embedded
	tunnel_key  "1"      → counter      source of unique tunnel keys

Records are stored as JSON. Agent-local port attributes (types.PortExternal)
are excluded from the encoding and never reach the store.

# Backends

Two implementations satisfy the Store interface:

  - BoltStore keeps the tables as buckets in a single BoltDB file. It fits a
    lab or single-host deployment where the agent and the admin tooling run
    on the same machine. Snapshot reads every bucket inside one read
    transaction.
  - EtcdStore keeps the tables under a key prefix in an etcd cluster shared
    by every chassis. Snapshot is a single prefix range read, so all tables
    come from the same revision.

# Interfaces

Northbound is the narrow view a reconciling agent uses: chassis registration,
enumeration of ports and routers, Snapshot, and the versioned tunnel key
counter consumed by keyalloc.Allocator. Admin is the write path used by the
`burrow nb` and `burrow apply` commands. Store combines the two.

# Tunnel key counter

The counter is read together with a version token and written back with a
compare-and-swap guarded by that token:

  - BoltStore keeps an explicit version next to the value and compares it
    inside an update transaction.
  - EtcdStore uses the key's ModRevision and a Txn comparing it.

A lost race surfaces as keyalloc.ErrVersionConflict and the allocator retries.
*/
package storage
