// Package vswitch programs tunnel ports into the local switch and reports
// which dataplane port number each logical port and remote chassis maps to.
package vswitch

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrPortNotFound is returned when deleting a port the switch does not have
var ErrPortNotFound = errors.New("port not found")

// DefaultBridge is the integration bridge every burrow port attaches to
const DefaultBridge = "br-int"

// Datapath identifies the bridge flows are programmed into
type Datapath struct {
	Name  string
	Index int
}

// PortEventType is the kind of asynchronous dataplane notification
type PortEventType string

const (
	PortAttached PortEventType = "attached"
	PortDetached PortEventType = "detached"
)

// PortEvent is emitted when a port appears on or leaves the bridge
type PortEvent struct {
	Type   PortEventType
	Name   string
	Ofport int
}

// Switch is the local switch control interface
type Switch interface {
	// Initialize connects to the switch
	Initialize(ctx context.Context) error
	// Datapath returns the integration bridge, creating it if needed
	Datapath(ctx context.Context) (*Datapath, error)
	// Sync refreshes the cached view of the switch. The getters below
	// answer from the view taken by the last Sync.
	Sync(ctx context.Context) error

	TunnelPorts() []types.TunnelPort
	// OfportMappings returns remote chassis → tunnel ofport and
	// logical port id → local ofport
	OfportMappings() (chassisOfports map[string]int, lportOfports map[string]int)

	AddTunnelPort(ctx context.Context, chassis *types.Chassis) error
	DeletePort(ctx context.Context, port types.TunnelPort) error

	// Events streams attach/detach notifications until the switch closes
	Events() <-chan PortEvent
	Close() error
}
