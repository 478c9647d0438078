package topology

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/cuemby/burrow/pkg/keyalloc"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Action is what Apply did with one object
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Change records the outcome for one object
type Change struct {
	Kind   string
	Name   string
	Action Action
}

// Applier writes logical network objects to the northbound store,
// allocating tunnel keys for new switches and ports
type Applier struct {
	store  storage.Store
	alloc  *keyalloc.Allocator
	logger zerolog.Logger
}

// NewApplier creates an applier over store
func NewApplier(store storage.Store) *Applier {
	return &Applier{
		store:  store,
		alloc:  keyalloc.NewAllocator(store),
		logger: log.WithComponent("topology"),
	}
}

// Apply creates or updates every object in t. Existing objects keep their
// tunnel keys. Router ports missing from t are left in place.
func (a *Applier) Apply(ctx context.Context, t *Topology) ([]Change, error) {
	var changes []Change

	for i := range t.Switches {
		action, err := a.applySwitch(ctx, &t.Switches[i])
		if err != nil {
			return changes, err
		}
		changes = append(changes, Change{Kind: "lswitch", Name: t.Switches[i].Name, Action: action})
	}

	for i := range t.Ports {
		action, err := a.applyPort(ctx, &t.Ports[i])
		if err != nil {
			return changes, err
		}
		changes = append(changes, Change{Kind: "lport", Name: t.Ports[i].ID, Action: action})
	}

	for i := range t.Routers {
		action, err := a.applyRouter(ctx, &t.Routers[i])
		if err != nil {
			return changes, err
		}
		changes = append(changes, Change{Kind: "lrouter", Name: t.Routers[i].Name, Action: action})
	}

	return changes, nil
}

func (a *Applier) applySwitch(ctx context.Context, ls *types.LogicalSwitch) (Action, error) {
	existing, err := a.store.GetLogicalSwitch(ctx, ls.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ActionCreated, a.CreateSwitch(ctx, ls)
	case err != nil:
		return "", fmt.Errorf("failed to read logical switch %s: %w", ls.Name, err)
	}

	ls.TunnelKey = existing.TunnelKey
	if *existing == *ls {
		return ActionUnchanged, nil
	}
	if err := a.store.UpdateLogicalSwitch(ctx, ls); err != nil {
		return "", fmt.Errorf("failed to update logical switch %s: %w", ls.Name, err)
	}
	return ActionUpdated, nil
}

func (a *Applier) applyPort(ctx context.Context, lp *types.LogicalPort) (Action, error) {
	existing, err := a.store.GetLogicalPort(ctx, lp.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ActionCreated, a.CreatePort(ctx, lp)
	case err != nil:
		return "", fmt.Errorf("failed to read logical port %s: %w", lp.ID, err)
	}

	lp.TunnelKey = existing.TunnelKey
	if portsEqual(existing, lp) {
		return ActionUnchanged, nil
	}
	if err := a.store.UpdateLogicalPort(ctx, lp); err != nil {
		return "", fmt.Errorf("failed to update logical port %s: %w", lp.ID, err)
	}
	a.logger.Warn().Str("port", lp.ID).Msg("Logical port updated; agents that already bound it keep the old binding until it is recreated")
	return ActionUpdated, nil
}

func (a *Applier) applyRouter(ctx context.Context, r *types.LogicalRouter) (Action, error) {
	existing, err := a.store.GetRouter(ctx, r.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := a.store.CreateRouter(ctx, &types.LogicalRouter{Name: r.Name}); err != nil {
			return "", fmt.Errorf("failed to create logical router %s: %w", r.Name, err)
		}
		for _, rp := range r.Ports {
			if err := a.AddRouterPort(ctx, r.Name, rp); err != nil {
				return "", err
			}
		}
		return ActionCreated, nil
	case err != nil:
		return "", fmt.Errorf("failed to read logical router %s: %w", r.Name, err)
	}

	action := ActionUnchanged
	for _, rp := range r.Ports {
		if slices.ContainsFunc(existing.Ports, rp.Equal) {
			continue
		}
		if slices.ContainsFunc(existing.Ports, func(p types.LogicalRouterPort) bool { return p.NetworkID == rp.NetworkID }) {
			if err := a.DeleteRouterPort(ctx, r.Name, rp.NetworkID); err != nil {
				return "", err
			}
		}
		if err := a.AddRouterPort(ctx, r.Name, rp); err != nil {
			return "", err
		}
		action = ActionUpdated
	}
	return action, nil
}

// CreateSwitch stores a new logical switch under a fresh tunnel key
func (a *Applier) CreateSwitch(ctx context.Context, ls *types.LogicalSwitch) error {
	key, err := a.alloc.Allocate(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate tunnel key for logical switch %s: %w", ls.Name, err)
	}
	ls.TunnelKey = key
	if err := a.store.CreateLogicalSwitch(ctx, ls); err != nil {
		return fmt.Errorf("failed to create logical switch %s: %w", ls.Name, err)
	}
	a.logger.Info().Str("lswitch", ls.Name).Uint64("tunnel_key", key).Msg("Created logical switch")
	return nil
}

// CreatePort stores a new logical port under a fresh tunnel key
func (a *Applier) CreatePort(ctx context.Context, lp *types.LogicalPort) error {
	key, err := a.alloc.Allocate(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate tunnel key for logical port %s: %w", lp.ID, err)
	}
	lp.TunnelKey = key
	if err := a.store.CreateLogicalPort(ctx, lp); err != nil {
		return fmt.Errorf("failed to create logical port %s: %w", lp.ID, err)
	}
	a.logger.Info().Str("port", lp.ID).Uint64("tunnel_key", key).Msg("Created logical port")
	return nil
}

// AddRouterPort attaches a router to a switch. The logical port that carries
// the router port's tunnel key is created alongside it, unbound.
func (a *Applier) AddRouterPort(ctx context.Context, router string, rp types.LogicalRouterPort) error {
	rp.Router = router
	if rp.Name == "" {
		rp.Name = RouterPortName(router, rp.NetworkID)
	}

	ls, err := a.store.GetLogicalSwitch(ctx, rp.NetworkID)
	if err != nil {
		return fmt.Errorf("router %s port %s: %w", router, rp.Name, err)
	}
	subnets := map[string]*net.IPNet{}
	if _, subnet, err := net.ParseCIDR(ls.Subnet); err == nil {
		subnets[ls.Name] = subnet
	}
	if err := ValidateRouterPorts([]types.LogicalRouterPort{rp}, subnets); err != nil {
		return fmt.Errorf("router %s: %w", router, err)
	}

	if _, err := a.store.GetLogicalPort(ctx, rp.Name); errors.Is(err, storage.ErrNotFound) {
		lp := &types.LogicalPort{
			ID:        rp.Name,
			MACs:      []string{rp.MAC},
			IPs:       []string{rp.IP()},
			NetworkID: rp.NetworkID,
		}
		if err := a.CreatePort(ctx, lp); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("failed to read logical port %s: %w", rp.Name, err)
	}

	if err := a.store.AddRouterPort(ctx, router, rp); err != nil {
		return fmt.Errorf("failed to add router %s port %s: %w", router, rp.Name, err)
	}
	a.logger.Info().Str("router", router).Str("port", rp.Name).Str("network", rp.Network).Msg("Added router port")
	return nil
}

// DeleteRouterPort detaches a router from a switch and deletes the logical
// ports behind the removed router ports
func (a *Applier) DeleteRouterPort(ctx context.Context, router, lswitch string) error {
	r, err := a.store.GetRouter(ctx, router)
	if err != nil {
		return fmt.Errorf("failed to read logical router %s: %w", router, err)
	}
	if err := a.store.DeleteRouterPort(ctx, router, lswitch); err != nil {
		return fmt.Errorf("failed to delete router %s port on %s: %w", router, lswitch, err)
	}
	for _, rp := range r.Ports {
		if rp.NetworkID != lswitch {
			continue
		}
		if err := a.store.DeleteLogicalPort(ctx, rp.Name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to delete logical port %s: %w", rp.Name, err)
		}
		a.logger.Info().Str("router", router).Str("port", rp.Name).Msg("Deleted router port")
	}
	return nil
}

func portsEqual(a, b *types.LogicalPort) bool {
	return a.ID == b.ID &&
		a.NetworkID == b.NetworkID &&
		a.Chassis == b.Chassis &&
		a.TunnelKey == b.TunnelKey &&
		slices.Equal(a.MACs, b.MACs) &&
		slices.Equal(a.IPs, b.IPs)
}
