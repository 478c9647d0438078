package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func TestPortLifecycle(t *testing.T) {
	s := NewLocalState()
	assert.Nil(t, s.Port("p1"))

	s.SetPort(&types.LogicalPort{
		ID:       "p1",
		MACs:     []string{"fa:16:3e:00:00:01"},
		External: &types.PortExternal{IsLocal: true, Ofport: 4, LocalNetworkID: 1},
	})
	s.SetPort(&types.LogicalPort{
		ID:       "p0",
		External: &types.PortExternal{IsLocal: false, Ofport: 9, LocalNetworkID: 1},
	})

	got := s.Port("p1")
	require.NotNil(t, got)
	assert.Equal(t, 4, got.External.Ofport)
	assert.Equal(t, []string{"p0", "p1"}, s.PortIDs())

	// Returned copies must not alias the cache
	got.External.Ofport = 100
	assert.Equal(t, 4, s.Port("p1").External.Ofport)

	s.DeletePort("p1")
	assert.Nil(t, s.Port("p1"))
	assert.Equal(t, []string{"p0"}, s.PortIDs())
}

func TestPortsOnOfport(t *testing.T) {
	s := NewLocalState()
	s.SetPort(&types.LogicalPort{ID: "b", External: &types.PortExternal{Ofport: 2}})
	s.SetPort(&types.LogicalPort{ID: "a", External: &types.PortExternal{Ofport: 2}})
	s.SetPort(&types.LogicalPort{ID: "c", External: &types.PortExternal{Ofport: 3}})

	ports := s.PortsOnOfport(2)
	require.Len(t, ports, 2)
	assert.Equal(t, "a", ports[0].ID)
	assert.Equal(t, "b", ports[1].ID)
	assert.Empty(t, s.PortsOnOfport(7))
}

func TestEnsureNetworkID(t *testing.T) {
	s := NewLocalState()

	_, ok := s.NetworkID("net-a")
	assert.False(t, ok)

	a := s.EnsureNetworkID("net-a")
	b := s.EnsureNetworkID("net-b")
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, a, s.EnsureNetworkID("net-a"), "stable for the process lifetime")

	got, ok := s.NetworkID("net-b")
	assert.True(t, ok)
	assert.Equal(t, b, got)
}

func TestEnsureNetworkIDConcurrentUnique(t *testing.T) {
	s := NewLocalState()
	var wg sync.WaitGroup
	ids := make([]int, 64)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = s.EnsureNetworkID(fmt.Sprintf("net-%d", i))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate local network id %d", id)
		seen[id] = true
	}
}

func TestRouterCopies(t *testing.T) {
	s := NewLocalState()
	r := &types.LogicalRouter{
		Name:  "r1",
		Ports: []types.LogicalRouterPort{{Name: "rp1", Network: "10.0.0.1/24"}},
	}
	s.SetRouter(r)

	r.Ports[0].Network = "changed"
	cached := s.Router("r1")
	require.NotNil(t, cached)
	assert.Equal(t, "10.0.0.1/24", cached.Ports[0].Network)
	assert.Nil(t, s.Router("r2"))
}

func TestRouterPortTunnelKeys(t *testing.T) {
	s := NewLocalState()
	s.SetRouterPortTunnelKey("rp1", 17)

	key, ok := s.RouterPortTunnelKey("rp1")
	assert.True(t, ok)
	assert.Equal(t, uint64(17), key)

	s.DeleteRouterPortTunnelKey("rp1")
	_, ok = s.RouterPortTunnelKey("rp1")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	s := NewLocalState()
	s.SetPort(&types.LogicalPort{ID: "l", External: &types.PortExternal{IsLocal: true}})
	s.SetPort(&types.LogicalPort{ID: "r", External: &types.PortExternal{IsLocal: false}})
	s.EnsureNetworkID("n")
	s.SetRouter(&types.LogicalRouter{Name: "r1"})
	s.SetRouterPortTunnelKey("rp", 1)

	assert.Equal(t, Stats{LocalPorts: 1, RemotePorts: 1, Networks: 1, Routers: 1, RouterPorts: 1}, s.Stats())
}
