// Package cache holds the agent's record of what it has already applied to
// the local dataplane.
package cache

import (
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// LocalState is the agent's private ledger. An entry missing from it means
// the corresponding object has not been applied to the dataplane yet.
//
// The reconciler is the only writer, but the flow pipeline reads it from its
// own event goroutine, so every access goes through mu.
type LocalState struct {
	mu sync.RWMutex

	ports          map[string]*types.LogicalPort
	networks       map[string]int
	nextNetworkID  int
	routers        map[string]*types.LogicalRouter
	routerPortKeys map[string]uint64
}

// Stats is a point-in-time summary of the cache
type Stats struct {
	LocalPorts  int
	RemotePorts int
	Networks    int
	Routers     int
	RouterPorts int
}

// NewLocalState creates an empty cache
func NewLocalState() *LocalState {
	return &LocalState{
		ports:          make(map[string]*types.LogicalPort),
		networks:       make(map[string]int),
		routers:        make(map[string]*types.LogicalRouter),
		routerPortKeys: make(map[string]uint64),
	}
}

// Port returns a copy of the cached port, or nil
func (s *LocalState) Port(id string) *types.LogicalPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.ports[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

// SetPort records a port as applied
func (s *LocalState) SetPort(p *types.LogicalPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[p.ID] = p.Clone()
}

// DeletePort forgets a port
func (s *LocalState) DeletePort(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, id)
}

// PortIDs returns the ids of all cached ports, sorted
func (s *LocalState) PortIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ports))
	for id := range s.ports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PortsOnOfport returns copies of the cached ports bound to a dataplane port
func (s *LocalState) PortsOnOfport(ofport int) []*types.LogicalPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*types.LogicalPort
	for _, p := range s.ports {
		if p.External != nil && p.External.Ofport == ofport {
			res = append(res, p.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// NetworkID returns the local id assigned to a logical network
func (s *LocalState) NetworkID(networkID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.networks[networkID]
	return id, ok
}

// EnsureNetworkID returns the local id of a logical network, assigning the
// next free one on first sight. Ids start at 1 and are never reused within
// the process.
func (s *LocalState) EnsureNetworkID(networkID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.networks[networkID]; ok {
		return id
	}
	s.nextNetworkID++
	s.networks[networkID] = s.nextNetworkID
	return s.nextNetworkID
}

// Router returns a copy of the last reconciled version of a router, or nil
func (s *LocalState) Router(name string) *types.LogicalRouter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[name]
	if !ok {
		return nil
	}
	return r.Clone()
}

// SetRouter records the reconciled version of a router
func (s *LocalState) SetRouter(r *types.LogicalRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers[r.Name] = r.Clone()
}

// RouterPortTunnelKey returns the tunnel key recorded for a router port
func (s *LocalState) RouterPortTunnelKey(name string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.routerPortKeys[name]
	return key, ok
}

// SetRouterPortTunnelKey records the tunnel key of a router port
func (s *LocalState) SetRouterPortTunnelKey(name string, key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routerPortKeys[name] = key
}

// DeleteRouterPortTunnelKey forgets a router port's tunnel key
func (s *LocalState) DeleteRouterPortTunnelKey(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routerPortKeys, name)
}

// Stats summarizes the cache contents
func (s *LocalState) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Networks:    len(s.networks),
		Routers:     len(s.routers),
		RouterPorts: len(s.routerPortKeys),
	}
	for _, p := range s.ports {
		if p.External != nil && p.External.IsLocal {
			st.LocalPorts++
		} else {
			st.RemotePorts++
		}
	}
	return st
}
