package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/flow"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
)

var errInjected = errors.New("injected failure")

// fakeStore is an in-memory northbound store
type fakeStore struct {
	mu          sync.Mutex
	chassis     map[string]*types.Chassis
	ports       []*types.LogicalPort
	routers     []*types.LogicalRouter
	failSnap    bool
	adds        int
	panicOnSnap bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{chassis: make(map[string]*types.Chassis)}
}

func (s *fakeStore) GetChassis(ctx context.Context, name string) (*types.Chassis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chassis[name]
	if !ok {
		return nil, fmt.Errorf("chassis %s: %w", name, storage.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) AddChassis(ctx context.Context, c *types.Chassis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chassis[c.Name]; ok {
		return storage.ErrAlreadyExists
	}
	cc := *c
	s.chassis[c.Name] = &cc
	s.adds++
	return nil
}

func (s *fakeStore) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnSnap {
		panic("store exploded")
	}
	if s.failSnap {
		return nil, errInjected
	}
	snap := &storage.Snapshot{}
	for _, c := range s.chassis {
		cc := *c
		snap.Chassis = append(snap.Chassis, &cc)
	}
	for _, p := range s.ports {
		snap.Ports = append(snap.Ports, p.Clone())
	}
	for _, r := range s.routers {
		snap.Routers = append(snap.Routers, r.Clone())
	}
	return snap, nil
}

func (s *fakeStore) setPorts(ports ...*types.LogicalPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = ports
}

func (s *fakeStore) setRouters(routers ...*types.LogicalRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers = routers
}

func (s *fakeStore) deleteChassis(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chassis, name)
}

// flakySwitch wraps a memory switch and fails tunnel creation on demand
type flakySwitch struct {
	*vswitch.MemorySwitch
	mu       sync.Mutex
	failAdd  map[string]bool
	failSync bool
}

func newFlakySwitch() *flakySwitch {
	return &flakySwitch{MemorySwitch: vswitch.NewMemorySwitch(), failAdd: make(map[string]bool)}
}

func (s *flakySwitch) AddTunnelPort(ctx context.Context, c *types.Chassis) error {
	s.mu.Lock()
	fail := s.failAdd[c.Name]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.MemorySwitch.AddTunnelPort(ctx, c)
}

func (s *flakySwitch) Sync(ctx context.Context) error {
	s.mu.Lock()
	fail := s.failSync
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.MemorySwitch.Sync(ctx)
}

func (s *flakySwitch) setFailAdd(chassis string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAdd[chassis] = fail
}

func (s *flakySwitch) setFailSync(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSync = fail
}

// call is one recorded flow programmer invocation
type call struct {
	Op        string
	ID        string
	Ofport    int
	Network   int
	TunnelKey uint64
}

// fakeFlows records every call it receives
type fakeFlows struct {
	mu      sync.Mutex
	calls   []call
	ready   bool
	started bool
	fail    map[string]error // by op
}

func newFakeFlows() *fakeFlows {
	return &fakeFlows{ready: true, fail: make(map[string]error)}
}

func (f *fakeFlows) record(op string, c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[op]; err != nil {
		return err
	}
	c.Op = op
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeFlows) AddLocalPort(ctx context.Context, b flow.PortBinding) error {
	return f.record("add_local", call{ID: b.ID, Ofport: b.Ofport, Network: b.LocalNetworkID, TunnelKey: b.TunnelKey})
}

func (f *fakeFlows) RemoveLocalPort(ctx context.Context, b flow.PortBinding) error {
	return f.record("remove_local", call{ID: b.ID, Ofport: b.Ofport, Network: b.LocalNetworkID, TunnelKey: b.TunnelKey})
}

func (f *fakeFlows) AddRemotePort(ctx context.Context, b flow.PortBinding) error {
	return f.record("add_remote", call{ID: b.ID, Ofport: b.Ofport, Network: b.LocalNetworkID, TunnelKey: b.TunnelKey})
}

func (f *fakeFlows) RemoveRemotePort(ctx context.Context, b flow.PortBinding) error {
	return f.record("remove_remote", call{ID: b.ID, Ofport: b.Ofport, Network: b.LocalNetworkID, TunnelKey: b.TunnelKey})
}

func (f *fakeFlows) AddRouterPort(ctx context.Context, router *types.LogicalRouter, lport *types.LogicalPort, rport types.LogicalRouterPort) error {
	return f.record("add_router_port", call{ID: rport.Name, Network: lport.External.LocalNetworkID, TunnelKey: lport.TunnelKey})
}

func (f *fakeFlows) DeleteRouterPort(ctx context.Context, rport types.LogicalRouterPort, localNetworkID int, tunnelKey uint64) error {
	return f.record("delete_router_port", call{ID: rport.Name, Network: localNetworkID, TunnelKey: tunnelKey})
}

func (f *fakeFlows) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeFlows) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeFlows) setReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

func (f *fakeFlows) setFail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// take returns the recorded calls and resets the log
func (f *fakeFlows) take() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

func (f *fakeFlows) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func lport(id, lswitch, chassis string, key uint64) *types.LogicalPort {
	return &types.LogicalPort{
		ID:        id,
		MACs:      []string{"fa:16:3e:00:00:01"},
		IPs:       []string{"10.0.0.10"},
		NetworkID: lswitch,
		Chassis:   chassis,
		TunnelKey: key,
	}
}

func rport(name, router, lswitch, network string) types.LogicalRouterPort {
	return types.LogicalRouterPort{
		Name:      name,
		Router:    router,
		NetworkID: lswitch,
		MAC:       "fa:16:3e:00:01:" + name,
		Network:   network,
	}
}
