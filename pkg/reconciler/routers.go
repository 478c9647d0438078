package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/flow"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// ErrRouterPortUnbound is returned when a router port has no logical port
// carrying its tunnel key
var ErrRouterPortUnbound = errors.New("router port has no logical port")

// Op is the kind of change a router port diff produces
type Op int

const (
	OpAdd Op = iota
	OpRemove
)

func (o Op) String() string {
	if o == OpRemove {
		return "remove"
	}
	return "add"
}

// RouterPortOp is one step of a router port diff
type RouterPortOp struct {
	Op   Op
	Port types.LogicalRouterPort
}

// DiffRouterPorts returns the ports to remove and add to turn prev into cur.
// Ports compare by whole-record equality, so a changed port is removed and
// re-added. Removals come first so a re-added port is not torn down by the
// removal of its previous version.
func DiffRouterPorts(prev, cur []types.LogicalRouterPort) []RouterPortOp {
	var ops []RouterPortOp
	for _, o := range prev {
		if !containsPort(cur, o) {
			ops = append(ops, RouterPortOp{Op: OpRemove, Port: o})
		}
	}
	for _, n := range cur {
		if !containsPort(prev, n) {
			ops = append(ops, RouterPortOp{Op: OpAdd, Port: n})
		}
	}
	return ops
}

func containsPort(ports []types.LogicalRouterPort, p types.LogicalRouterPort) bool {
	for _, q := range ports {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

// Routers programs router ports into the flow pipeline
type Routers struct {
	state  *cache.LocalState
	flows  flow.Programmer
	broker *events.Broker
	logger zerolog.Logger
}

// NewRouters creates a router reconciler
func NewRouters(state *cache.LocalState, flows flow.Programmer, broker *events.Broker) *Routers {
	return &Routers{
		state:  state,
		flows:  flows,
		broker: broker,
		logger: log.WithComponent("routers"),
	}
}

// Reconcile applies router port changes. At most one router not seen before
// is added per call; routers after it wait for the next cycle. A new router
// is cached only once all of its ports are added, so a failure partway
// retries it from its first port next cycle. Routers that
// vanish from the store stay cached and programmed: router deletion is not
// supported. ports is the cycle's logical port listing, used for router
// ports whose logical port this chassis has not bound.
func (r *Routers) Reconcile(ctx context.Context, routers []*types.LogicalRouter, ports []*types.LogicalPort) error {
	byName := make(map[string]*types.LogicalPort, len(ports))
	for _, lp := range ports {
		byName[lp.ID] = lp
	}

	for _, router := range routers {
		cached := r.state.Router(router.Name)
		if cached == nil {
			for _, rp := range router.Ports {
				if err := r.addPort(ctx, router, rp, byName); err != nil {
					return err
				}
			}
			r.state.SetRouter(router)
			r.logger.Info().Str("router", router.Name).Int("ports", len(router.Ports)).Msg("Added router")
			return nil
		}

		for _, op := range DiffRouterPorts(cached.Ports, router.Ports) {
			var err error
			if op.Op == OpAdd {
				err = r.addPort(ctx, router, op.Port, byName)
			} else {
				err = r.removePort(ctx, op.Port)
			}
			if err != nil {
				return err
			}
		}
		r.state.SetRouter(router)
	}
	return nil
}

func (r *Routers) addPort(ctx context.Context, router *types.LogicalRouter, rp types.LogicalRouterPort, byName map[string]*types.LogicalPort) error {
	lport := r.state.Port(rp.Name)
	if lport == nil {
		listed, ok := byName[rp.Name]
		if !ok {
			return fmt.Errorf("router %s port %s: %w", router.Name, rp.Name, ErrRouterPortUnbound)
		}
		lport = listed.Clone()
	}
	if lport.External == nil {
		lport.External = &types.PortExternal{LocalNetworkID: r.state.EnsureNetworkID(rp.NetworkID)}
	}

	r.state.SetRouterPortTunnelKey(rp.Name, lport.TunnelKey)
	if err := r.flows.AddRouterPort(ctx, router, lport, rp); err != nil {
		return fmt.Errorf("failed to add router %s port %s: %w", router.Name, rp.Name, err)
	}

	r.logger.Info().
		Str("router", router.Name).
		Str("port", rp.Name).
		Str("network", rp.Network).
		Msg("Added router port")
	publish(r.broker, events.EventRouterPortAdded, "router port added", map[string]string{
		"router":  router.Name,
		"port":    rp.Name,
		"lswitch": rp.NetworkID,
		"network": rp.Network,
	})
	return nil
}

func (r *Routers) removePort(ctx context.Context, rp types.LogicalRouterPort) error {
	localNet, _ := r.state.NetworkID(rp.NetworkID)
	key, _ := r.state.RouterPortTunnelKey(rp.Name)

	if err := r.flows.DeleteRouterPort(ctx, rp, localNet, key); err != nil {
		return fmt.Errorf("failed to delete router %s port %s: %w", rp.Router, rp.Name, err)
	}
	r.state.DeleteRouterPortTunnelKey(rp.Name)

	r.logger.Info().Str("router", rp.Router).Str("port", rp.Name).Msg("Deleted router port")
	publish(r.broker, events.EventRouterPortDeleted, "router port deleted", map[string]string{
		"router":  rp.Router,
		"port":    rp.Name,
		"lswitch": rp.NetworkID,
	})
	return nil
}
