package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
	"github.com/rs/zerolog"
)

// ChassisStore is the part of the northbound store chassis registration uses
type ChassisStore interface {
	GetChassis(ctx context.Context, name string) (*types.Chassis, error)
	AddChassis(ctx context.Context, chassis *types.Chassis) error
}

// RegisterChassis adds self to the store unless it is already known. The
// check before the write avoids clobbering a concurrent registration; two
// agents racing on the same name both succeed. It reports whether a write
// happened.
func RegisterChassis(ctx context.Context, store ChassisStore, self *types.Chassis, known []*types.Chassis) (bool, error) {
	for _, c := range known {
		if c.Name == self.Name {
			return false, nil
		}
	}

	_, err := store.GetChassis(ctx, self.Name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("failed to look up chassis %s: %w", self.Name, err)
	}

	if err := store.AddChassis(ctx, self); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("failed to register chassis %s: %w", self.Name, err)
	}
	return true, nil
}

// TunnelMesh keeps one tunnel port per remote chassis
type TunnelMesh struct {
	sw     vswitch.Switch
	broker *events.Broker
	logger zerolog.Logger
}

// NewTunnelMesh creates a tunnel mesh manager. broker may be nil.
func NewTunnelMesh(sw vswitch.Switch, broker *events.Broker) *TunnelMesh {
	return &TunnelMesh{
		sw:     sw,
		broker: broker,
		logger: log.WithComponent("tunnels"),
	}
}

// Reconcile creates tunnels to chassis that have none and deletes tunnels to
// chassis that are gone. A failure on one port does not stop the others.
func (m *TunnelMesh) Reconcile(ctx context.Context, all []*types.Chassis, local string, existing []types.TunnelPort) error {
	have := make(map[string]bool, len(existing))
	for _, tp := range existing {
		have[tp.ChassisID] = true
	}
	want := make(map[string]bool, len(all))

	var errs []error
	for _, c := range all {
		want[c.Name] = true
		if c.Name == local || have[c.Name] {
			continue
		}
		if err := m.sw.AddTunnelPort(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("failed to create tunnel to %s: %w", c.Name, err))
			continue
		}
		m.logger.Info().Str("chassis", c.Name).Str("ip", c.IP).Msg("Created tunnel port")
		publish(m.broker, events.EventTunnelCreated, "tunnel port created", map[string]string{
			"chassis": c.Name,
			"ip":      c.IP,
		})
	}

	for _, tp := range existing {
		if want[tp.ChassisID] && tp.ChassisID != local {
			continue
		}
		if err := m.sw.DeletePort(ctx, tp); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete tunnel %s: %w", tp.Name, err))
			continue
		}
		m.logger.Info().Str("chassis", tp.ChassisID).Str("port", tp.Name).Msg("Deleted tunnel port")
		publish(m.broker, events.EventTunnelDeleted, "tunnel port deleted", map[string]string{
			"chassis": tp.ChassisID,
			"port":    tp.Name,
		})
	}

	return errors.Join(errs...)
}

func publish(broker *events.Broker, typ events.EventType, msg string, metadata map[string]string) {
	if broker == nil {
		return
	}
	broker.Publish(events.NewEvent(typ, msg, metadata))
}
