// Package flow turns port and router bindings into forwarding rules for the
// integration bridge.
package flow

import (
	"context"

	"github.com/cuemby/burrow/pkg/types"
)

// PortBinding is what the dataplane needs to forward to or from a logical port
type PortBinding struct {
	ID             string
	MAC            string
	LocalNetworkID int
	Ofport         int // local VIF for local ports, tunnel port for remote ports
	TunnelKey      uint64
}

// Programmer is the flow-programming subsystem the reconciler drives
type Programmer interface {
	AddLocalPort(ctx context.Context, b PortBinding) error
	RemoveLocalPort(ctx context.Context, b PortBinding) error
	AddRemotePort(ctx context.Context, b PortBinding) error
	RemoveRemotePort(ctx context.Context, b PortBinding) error

	// AddRouterPort attaches a router to the network of lport. lport carries
	// the tunnel key and, in External, the resolved local network id.
	AddRouterPort(ctx context.Context, router *types.LogicalRouter, lport *types.LogicalPort, rport types.LogicalRouterPort) error
	DeleteRouterPort(ctx context.Context, rport types.LogicalRouterPort, localNetworkID int, tunnelKey uint64) error

	// Start begins processing dataplane events; it does not block
	Start(ctx context.Context) error
	// Ready reports whether a datapath handle has been obtained
	Ready() bool
}

// BindingFor builds the binding of a port the reconciler has classified
func BindingFor(p *types.LogicalPort) PortBinding {
	b := PortBinding{
		ID:        p.ID,
		MAC:       p.MAC(),
		TunnelKey: p.TunnelKey,
	}
	if p.External != nil {
		b.LocalNetworkID = p.External.LocalNetworkID
		b.Ofport = p.External.Ofport
	}
	return b
}
