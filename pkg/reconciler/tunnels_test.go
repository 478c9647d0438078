package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chassisSet(names ...string) []*types.Chassis {
	var res []*types.Chassis
	for i, n := range names {
		res = append(res, &types.Chassis{
			Name:      n,
			IP:        fmt.Sprintf("192.168.0.%d", i+1),
			EncapType: types.EncapGeneve,
		})
	}
	return res
}

func syncedTunnels(t *testing.T, sw vswitch.Switch) []types.TunnelPort {
	t.Helper()
	require.NoError(t, sw.Sync(context.Background()))
	return sw.TunnelPorts()
}

func tunnelChassis(ports []types.TunnelPort) []string {
	var res []string
	for _, p := range ports {
		res = append(res, p.ChassisID)
	}
	return res
}

func TestRegisterChassis(t *testing.T) {
	ctx := context.Background()
	self := &types.Chassis{Name: "h1", IP: "192.168.0.1", EncapType: types.EncapGeneve}

	t.Run("already in snapshot", func(t *testing.T) {
		store := newFakeStore()
		registered, err := RegisterChassis(ctx, store, self, chassisSet("h1"))
		require.NoError(t, err)
		assert.False(t, registered)
		assert.Equal(t, 0, store.adds)
	})

	t.Run("absent", func(t *testing.T) {
		store := newFakeStore()
		registered, err := RegisterChassis(ctx, store, self, nil)
		require.NoError(t, err)
		assert.True(t, registered)

		got, err := store.GetChassis(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, self, got)
	})

	t.Run("registered after snapshot", func(t *testing.T) {
		store := newFakeStore()
		require.NoError(t, store.AddChassis(ctx, self))
		registered, err := RegisterChassis(ctx, store, self, nil)
		require.NoError(t, err)
		assert.False(t, registered)
		assert.Equal(t, 1, store.adds)
	})
}

type racingStore struct {
	*fakeStore
	getErr error
}

func (s *racingStore) GetChassis(ctx context.Context, name string) (*types.Chassis, error) {
	return nil, s.getErr
}

func TestRegisterChassisRace(t *testing.T) {
	ctx := context.Background()
	self := &types.Chassis{Name: "h1", IP: "192.168.0.1"}

	// Another agent wrote between our read and our write
	store := &racingStore{fakeStore: newFakeStore(), getErr: storage.ErrNotFound}
	require.NoError(t, store.fakeStore.AddChassis(ctx, self))
	registered, err := RegisterChassis(ctx, store, self, nil)
	require.NoError(t, err)
	assert.False(t, registered)

	store.getErr = errInjected
	_, err = RegisterChassis(ctx, store, self, nil)
	assert.ErrorIs(t, err, errInjected)
}

func TestTunnelMeshConvergence(t *testing.T) {
	ctx := context.Background()
	sw := vswitch.NewMemorySwitch()
	mesh := NewTunnelMesh(sw, nil)

	all := chassisSet("x", "y", "z")
	require.NoError(t, mesh.Reconcile(ctx, all, "x", nil))
	ports := syncedTunnels(t, sw)
	assert.Equal(t, []string{"y", "z"}, tunnelChassis(ports))

	// Unchanged input is a no-op
	require.NoError(t, mesh.Reconcile(ctx, all, "x", ports))
	assert.Equal(t, ports, syncedTunnels(t, sw))

	// z leaves the cluster
	require.NoError(t, mesh.Reconcile(ctx, all[:2], "x", ports))
	assert.Equal(t, []string{"y"}, tunnelChassis(syncedTunnels(t, sw)))
}

func TestTunnelMeshNeverToSelf(t *testing.T) {
	ctx := context.Background()
	sw := vswitch.NewMemorySwitch()
	mesh := NewTunnelMesh(sw, nil)

	// A stale tunnel pointing at ourselves is removed
	require.NoError(t, sw.AddTunnelPort(ctx, &types.Chassis{Name: "x", IP: "192.168.0.1"}))
	existing := syncedTunnels(t, sw)

	require.NoError(t, mesh.Reconcile(ctx, chassisSet("x"), "x", existing))
	assert.Empty(t, syncedTunnels(t, sw))
}

func TestTunnelMeshPartialFailure(t *testing.T) {
	ctx := context.Background()
	sw := newFlakySwitch()
	sw.setFailAdd("y", true)
	mesh := NewTunnelMesh(sw, nil)

	err := mesh.Reconcile(ctx, chassisSet("x", "y", "z"), "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	assert.Equal(t, []string{"z"}, tunnelChassis(syncedTunnels(t, sw)))

	// Once the failure clears the mesh converges
	sw.setFailAdd("y", false)
	require.NoError(t, mesh.Reconcile(ctx, chassisSet("x", "y", "z"), "x", syncedTunnels(t, sw)))
	assert.Equal(t, []string{"y", "z"}, tunnelChassis(syncedTunnels(t, sw)))
}

func TestTunnelMeshDeleteMissingPort(t *testing.T) {
	ctx := context.Background()
	mesh := NewTunnelMesh(vswitch.NewMemorySwitch(), nil)

	stale := []types.TunnelPort{{Name: "bt00000000", ChassisID: "gone", Ofport: 9}}
	err := mesh.Reconcile(ctx, chassisSet("x"), "x", stale)
	assert.ErrorIs(t, err, vswitch.ErrPortNotFound)
}

func TestTunnelMeshPublishesEvents(t *testing.T) {
	ctx := context.Background()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	mesh := NewTunnelMesh(vswitch.NewMemorySwitch(), broker)
	require.NoError(t, mesh.Reconcile(ctx, chassisSet("x", "y"), "x", nil))

	ev := <-sub
	assert.Equal(t, events.EventTunnelCreated, ev.Type)
	assert.Equal(t, "y", ev.Metadata["chassis"])
}
