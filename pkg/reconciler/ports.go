package reconciler

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/flow"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Ports binds logical ports into the flow pipeline
type Ports struct {
	local  string
	state  *cache.LocalState
	flows  flow.Programmer
	broker *events.Broker
	logger zerolog.Logger
}

// NewPorts creates a port reconciler for the named local chassis
func NewPorts(local string, state *cache.LocalState, flows flow.Programmer, broker *events.Broker) *Ports {
	return &Ports{
		local:  local,
		state:  state,
		flows:  flows,
		broker: broker,
		logger: log.WithComponent("ports"),
	}
}

// Reconcile binds every port not yet in the cache and unbinds every cached
// port missing from all. localOfports maps port id to the local VIF,
// remoteOfports maps chassis name to its tunnel port.
//
// A cached port is never re-bound, so changes to an existing port take
// effect only after it is deleted and recreated.
func (p *Ports) Reconcile(ctx context.Context, all []*types.LogicalPort, localOfports, remoteOfports map[string]int) error {
	seen := make(map[string]bool, len(all))
	for _, lp := range all {
		seen[lp.ID] = true
		if p.state.Port(lp.ID) != nil {
			continue
		}
		if err := p.bind(ctx, lp, localOfports, remoteOfports); err != nil {
			return err
		}
	}

	for _, id := range p.state.PortIDs() {
		if seen[id] {
			continue
		}
		if err := p.unbind(ctx, p.state.Port(id)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Ports) bind(ctx context.Context, lp *types.LogicalPort, localOfports, remoteOfports map[string]int) error {
	localNet := p.state.EnsureNetworkID(lp.NetworkID)
	isLocal := lp.Chassis == p.local

	var ofport int
	if isLocal {
		ofport = localOfports[lp.ID]
	} else {
		ofport = remoteOfports[lp.Chassis]
	}
	if ofport == 0 {
		metrics.DeferredPortsTotal.Inc()
		p.logger.Debug().
			Str("port", lp.ID).
			Str("chassis", lp.Chassis).
			Bool("local", isLocal).
			Msg("No dataplane port yet, deferring binding")
		return nil
	}

	bound := lp.Clone()
	bound.External = &types.PortExternal{
		IsLocal:        isLocal,
		Ofport:         ofport,
		LocalNetworkID: localNet,
	}

	var err error
	if isLocal {
		err = p.flows.AddLocalPort(ctx, flow.BindingFor(bound))
	} else {
		err = p.flows.AddRemotePort(ctx, flow.BindingFor(bound))
	}
	if err != nil {
		return fmt.Errorf("failed to bind port %s: %w", lp.ID, err)
	}
	p.state.SetPort(bound)

	p.logger.Info().
		Str("port", lp.ID).
		Bool("local", isLocal).
		Int("ofport", ofport).
		Int("network", localNet).
		Msg("Bound logical port")
	publish(p.broker, events.EventPortBound, "logical port bound", portMetadata(bound))
	return nil
}

func (p *Ports) unbind(ctx context.Context, cached *types.LogicalPort) error {
	var err error
	if cached.External != nil && cached.External.IsLocal {
		err = p.flows.RemoveLocalPort(ctx, flow.BindingFor(cached))
	} else {
		err = p.flows.RemoveRemotePort(ctx, flow.BindingFor(cached))
	}
	if err != nil {
		return fmt.Errorf("failed to unbind port %s: %w", cached.ID, err)
	}
	p.state.DeletePort(cached.ID)

	p.logger.Info().Str("port", cached.ID).Msg("Unbound logical port")
	publish(p.broker, events.EventPortUnbound, "logical port unbound", portMetadata(cached))
	return nil
}

func portMetadata(p *types.LogicalPort) map[string]string {
	locality := "remote"
	if p.External != nil && p.External.IsLocal {
		locality = "local"
	}
	return map[string]string{
		"port":     p.ID,
		"chassis":  p.Chassis,
		"lswitch":  p.NetworkID,
		"locality": locality,
	}
}
