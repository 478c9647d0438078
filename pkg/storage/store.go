package storage

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/keyalloc"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record that exists
	ErrAlreadyExists = errors.New("already exists")
)

// Table names, shared by every backend
const (
	TableChassis   = "chassis"
	TableLPort     = "lport"
	TableLSwitch   = "lswitch"
	TableLRouter   = "lrouter"
	TableTunnelKey = "tunnel_key"
)

// Tables lists every table a northbound store holds
var Tables = []string{TableChassis, TableLPort, TableLSwitch, TableLRouter, TableTunnelKey}

// Snapshot is a consistent view of the northbound tables taken at one point
// in time. A reconciliation cycle reads only from its snapshot.
type Snapshot struct {
	Chassis  []*types.Chassis
	Switches []*types.LogicalSwitch
	Ports    []*types.LogicalPort
	Routers  []*types.LogicalRouter
}

// Northbound is what a local agent needs from the shared store
type Northbound interface {
	keyalloc.Counter

	GetChassis(ctx context.Context, name string) (*types.Chassis, error)
	ListChassis(ctx context.Context) ([]*types.Chassis, error)
	AddChassis(ctx context.Context, chassis *types.Chassis) error

	ListLogicalPorts(ctx context.Context) ([]*types.LogicalPort, error)
	ListRouters(ctx context.Context) ([]*types.LogicalRouter, error)

	// Snapshot reads every table in one consistent view
	Snapshot(ctx context.Context) (*Snapshot, error)

	Close() error
}

// Admin is the write path used by administrative tooling
type Admin interface {
	// Setup drops and recreates every table
	Setup(ctx context.Context) error

	DeleteChassis(ctx context.Context, name string) error

	CreateLogicalSwitch(ctx context.Context, lswitch *types.LogicalSwitch) error
	GetLogicalSwitch(ctx context.Context, name string) (*types.LogicalSwitch, error)
	ListLogicalSwitches(ctx context.Context) ([]*types.LogicalSwitch, error)
	UpdateLogicalSwitch(ctx context.Context, lswitch *types.LogicalSwitch) error
	DeleteLogicalSwitch(ctx context.Context, name string) error

	CreateLogicalPort(ctx context.Context, lport *types.LogicalPort) error
	GetLogicalPort(ctx context.Context, id string) (*types.LogicalPort, error)
	UpdateLogicalPort(ctx context.Context, lport *types.LogicalPort) error
	DeleteLogicalPort(ctx context.Context, id string) error

	CreateRouter(ctx context.Context, router *types.LogicalRouter) error
	GetRouter(ctx context.Context, name string) (*types.LogicalRouter, error)
	DeleteRouter(ctx context.Context, name string) error
	// AddRouterPort appends a port to an existing router
	AddRouterPort(ctx context.Context, router string, port types.LogicalRouterPort) error
	// DeleteRouterPort removes every port of the router attached to lswitch
	DeleteRouterPort(ctx context.Context, router, lswitch string) error
}

// Store is a full northbound backend
type Store interface {
	Northbound
	Admin
}

// counterRecord is the stored form of the tunnel key counter
type counterRecord struct {
	Value   uint64 `json:"value"`
	Version int64  `json:"version"`
}

// counterKey is the single row of the tunnel_key table
const counterKey = "1"

func removeRouterPorts(router *types.LogicalRouter, lswitch string) bool {
	kept := router.Ports[:0]
	removed := false
	for _, p := range router.Ports {
		if p.NetworkID == lswitch {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	router.Ports = kept
	return removed
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
