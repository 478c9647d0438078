package storage

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/keyalloc"
	"github.com/cuemby/burrow/pkg/types"
)

// runStoreSuite exercises the Store contract against one backend
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("chassis", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetChassis(ctx, "node-1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.AddChassis(ctx, &types.Chassis{Name: "node-1", IP: "10.0.0.1", EncapType: types.EncapGeneve}))
		require.NoError(t, s.AddChassis(ctx, &types.Chassis{Name: "node-2", IP: "10.0.0.2", EncapType: types.EncapGeneve}))
		// Re-adding overwrites
		require.NoError(t, s.AddChassis(ctx, &types.Chassis{Name: "node-1", IP: "10.0.0.1", EncapType: types.EncapGeneve}))

		got, err := s.GetChassis(ctx, "node-1")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", got.IP)

		all, err := s.ListChassis(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, s.DeleteChassis(ctx, "node-2"))
		all, err = s.ListChassis(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("logical ports", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		lport := &types.LogicalPort{
			ID:        "p1",
			MACs:      []string{"fa:16:3e:00:00:01"},
			IPs:       []string{"192.168.1.5"},
			NetworkID: "net1",
			Chassis:   "node-1",
			TunnelKey: 5,
			External:  &types.PortExternal{IsLocal: true, Ofport: 3},
		}
		require.NoError(t, s.CreateLogicalPort(ctx, lport))
		assert.ErrorIs(t, s.CreateLogicalPort(ctx, lport), ErrAlreadyExists)

		got, err := s.GetLogicalPort(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, got.External, "agent-local attributes must not be persisted")
		assert.Equal(t, uint64(5), got.TunnelKey)

		got.Chassis = "node-2"
		require.NoError(t, s.UpdateLogicalPort(ctx, got))
		got, err = s.GetLogicalPort(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "node-2", got.Chassis)

		assert.ErrorIs(t, s.UpdateLogicalPort(ctx, &types.LogicalPort{ID: "missing"}), ErrNotFound)

		ports, err := s.ListLogicalPorts(ctx)
		require.NoError(t, err)
		assert.Len(t, ports, 1)

		require.NoError(t, s.DeleteLogicalPort(ctx, "p1"))
		_, err = s.GetLogicalPort(ctx, "p1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("logical switches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateLogicalSwitch(ctx, &types.LogicalSwitch{Name: "net1", Subnet: "192.168.1.0/24", TunnelKey: 1}))
		require.NoError(t, s.UpdateLogicalSwitch(ctx, &types.LogicalSwitch{Name: "net1", Subnet: "192.168.2.0/24", TunnelKey: 1}))

		got, err := s.GetLogicalSwitch(ctx, "net1")
		require.NoError(t, err)
		assert.Equal(t, "192.168.2.0/24", got.Subnet)

		all, err := s.ListLogicalSwitches(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, s.DeleteLogicalSwitch(ctx, "net1"))
		_, err = s.GetLogicalSwitch(ctx, "net1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("routers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateRouter(ctx, &types.LogicalRouter{Name: "r1"}))
		require.NoError(t, s.AddRouterPort(ctx, "r1", types.LogicalRouterPort{
			Name: "rp1", NetworkID: "net1", MAC: "fa:16:3e:00:01:01", Network: "192.168.1.1/24",
		}))
		require.NoError(t, s.AddRouterPort(ctx, "r1", types.LogicalRouterPort{
			Name: "rp2", NetworkID: "net2", MAC: "fa:16:3e:00:01:02", Network: "192.168.2.1/24",
		}))
		assert.ErrorIs(t, s.AddRouterPort(ctx, "r9", types.LogicalRouterPort{Name: "x"}), ErrNotFound)

		r, err := s.GetRouter(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, r.Ports, 2)
		assert.Equal(t, "r1", r.Ports[0].Router)

		require.NoError(t, s.DeleteRouterPort(ctx, "r1", "net1"))
		r, err = s.GetRouter(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, r.Ports, 1)
		assert.Equal(t, "rp2", r.Ports[0].Name)

		routers, err := s.ListRouters(ctx)
		require.NoError(t, err)
		assert.Len(t, routers, 1)

		require.NoError(t, s.DeleteRouter(ctx, "r1"))
		_, err = s.GetRouter(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("snapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AddChassis(ctx, &types.Chassis{Name: "node-1", IP: "10.0.0.1"}))
		require.NoError(t, s.CreateLogicalSwitch(ctx, &types.LogicalSwitch{Name: "net1"}))
		require.NoError(t, s.CreateLogicalPort(ctx, &types.LogicalPort{ID: "p1", NetworkID: "net1"}))
		require.NoError(t, s.CreateLogicalPort(ctx, &types.LogicalPort{ID: "p2", NetworkID: "net1"}))
		require.NoError(t, s.CreateRouter(ctx, &types.LogicalRouter{Name: "r1"}))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Chassis, 1)
		assert.Len(t, snap.Switches, 1)
		assert.Len(t, snap.Ports, 2)
		assert.Len(t, snap.Routers, 1)

		// Later writes do not show up in an already taken snapshot
		require.NoError(t, s.CreateLogicalPort(ctx, &types.LogicalPort{ID: "p3", NetworkID: "net1"}))
		assert.Len(t, snap.Ports, 2)
	})

	t.Run("setup clears tables", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AddChassis(ctx, &types.Chassis{Name: "node-1"}))
		require.NoError(t, s.Setup(ctx))

		all, err := s.ListChassis(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("counter compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		value, version, err := s.ReadCounter(ctx)
		require.NoError(t, err)
		assert.Zero(t, value)

		require.NoError(t, s.CompareAndSwapCounter(ctx, version, 1))
		// Stale version loses
		assert.ErrorIs(t, s.CompareAndSwapCounter(ctx, version, 1), keyalloc.ErrVersionConflict)

		value, _, err = s.ReadCounter(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), value)
	})

	t.Run("concurrent allocators never collide", func(t *testing.T) {
		s := newStore(t)
		const workers = 4
		const perWorker = 10

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			keys []uint64
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a := keyalloc.NewAllocator(s)
				for j := 0; j < perWorker; j++ {
					k, err := a.Allocate(context.Background())
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					keys = append(keys, k)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, keys, workers*perWorker)
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for i, k := range keys {
			assert.Equal(t, uint64(i+1), k)
		}
	})
}
