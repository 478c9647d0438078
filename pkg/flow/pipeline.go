package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
	"github.com/rs/zerolog"
)

// Flow tables, in pipeline order
const (
	TableClassification = "classification"
	TableTunnelIngress  = "tunnel_ingress"
	TableARP            = "arp"
	TableL2Lookup       = "l2_lookup"
	TableL3Lookup       = "l3_lookup"
)

var tables = []string{TableClassification, TableTunnelIngress, TableARP, TableL2Lookup, TableL3Lookup}

const (
	priorityDefault = 100
	priorityRouter  = 200
)

// DefaultRetryInterval is how often the pipeline retries acquiring the datapath
const DefaultRetryInterval = time.Second

// ErrNotReady is returned when flows are programmed before the datapath is known
var ErrNotReady = errors.New("flow pipeline not ready")

// Flow is one match/action entry in a table
type Flow struct {
	Table    string
	Priority int
	Match    string
	Actions  string
}

func (f Flow) String() string {
	return fmt.Sprintf("table=%s,priority=%d,%s actions=%s", f.Table, f.Priority, f.Match, f.Actions)
}

// DatapathSource provides the bridge and its port notifications
type DatapathSource interface {
	Datapath(ctx context.Context) (*vswitch.Datapath, error)
	Events() <-chan vswitch.PortEvent
}

// Pipeline is an in-memory flow programmer. Each binding owns a fixed set of
// flows identified by cookie so removal never needs to recompute matches.
type Pipeline struct {
	source        DatapathSource
	state         *cache.LocalState
	clock         clock.Clock
	retryInterval time.Duration
	logger        zerolog.Logger

	ready atomic.Bool

	mu      sync.RWMutex
	dp      *vswitch.Datapath
	flows   map[string]map[string]Flow // table → cookie → flow
	down    map[int]struct{}           // ofports currently detached
	started bool
}

// NewPipeline creates a pipeline. state is read from the event goroutine to
// find the ports behind a dataplane port.
func NewPipeline(source DatapathSource, state *cache.LocalState, clk clock.Clock) *Pipeline {
	if clk == nil {
		clk = clock.New()
	}
	flows := make(map[string]map[string]Flow, len(tables))
	for _, t := range tables {
		flows[t] = make(map[string]Flow)
	}
	return &Pipeline{
		source:        source,
		state:         state,
		clock:         clk,
		retryInterval: DefaultRetryInterval,
		logger:        log.WithComponent("flow"),
		flows:         flows,
		down:          make(map[int]struct{}),
	}
}

// Start acquires the datapath and then handles port events until ctx ends
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true
	go p.run(ctx)
	return nil
}

func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Datapath returns the bridge flows are programmed into, nil until ready
func (p *Pipeline) Datapath() *vswitch.Datapath {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dp
}

func (p *Pipeline) run(ctx context.Context) {
	for {
		dp, err := p.source.Datapath(ctx)
		if err == nil {
			p.mu.Lock()
			p.dp = dp
			p.mu.Unlock()
			p.ready.Store(true)
			p.logger.Info().Str("bridge", dp.Name).Msg("Datapath ready")
			break
		}
		p.logger.Warn().Err(err).Msg("Datapath not available yet")

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.retryInterval):
		}
	}

	events := p.source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		}
	}
}

// handleEvent withdraws classification for local ports whose VIF went away
// and restores it when the VIF comes back
func (p *Pipeline) handleEvent(ev vswitch.PortEvent) {
	ports := p.state.PortsOnOfport(ev.Ofport)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case vswitch.PortDetached:
		p.down[ev.Ofport] = struct{}{}
		for _, lp := range ports {
			if lp.External.IsLocal {
				delete(p.flows[TableClassification], localCookie(lp.ID))
				p.logger.Debug().Str("port", lp.ID).Int("ofport", ev.Ofport).Msg("Port detached, ingress withdrawn")
			}
		}
	case vswitch.PortAttached:
		if _, ok := p.down[ev.Ofport]; !ok {
			return
		}
		delete(p.down, ev.Ofport)
		for _, lp := range ports {
			if lp.External.IsLocal {
				f := classificationFlow(BindingFor(lp))
				p.flows[f.Table][localCookie(lp.ID)] = f
				p.logger.Debug().Str("port", lp.ID).Int("ofport", ev.Ofport).Msg("Port reattached, ingress restored")
			}
		}
	}
}

func (p *Pipeline) AddLocalPort(ctx context.Context, b PortBinding) error {
	return p.install(map[string]Flow{
		localCookie(b.ID): classificationFlow(b),
		portCookie(b.ID): {
			Table:    TableL2Lookup,
			Priority: priorityDefault,
			Match:    fmt.Sprintf("metadata=%d,dl_dst=%s", b.LocalNetworkID, b.MAC),
			Actions:  fmt.Sprintf("output:%d", b.Ofport),
		},
		tunnelCookie(b.ID): {
			Table:    TableTunnelIngress,
			Priority: priorityDefault,
			Match:    fmt.Sprintf("tun_id=%d", b.TunnelKey),
			Actions:  fmt.Sprintf("set_metadata:%d,output:%d", b.LocalNetworkID, b.Ofport),
		},
	})
}

func (p *Pipeline) RemoveLocalPort(ctx context.Context, b PortBinding) error {
	return p.remove(localCookie(b.ID), portCookie(b.ID), tunnelCookie(b.ID))
}

func (p *Pipeline) AddRemotePort(ctx context.Context, b PortBinding) error {
	return p.install(map[string]Flow{
		portCookie(b.ID): {
			Table:    TableL2Lookup,
			Priority: priorityDefault,
			Match:    fmt.Sprintf("metadata=%d,dl_dst=%s", b.LocalNetworkID, b.MAC),
			Actions:  fmt.Sprintf("set_tunnel:%d,output:%d", b.TunnelKey, b.Ofport),
		},
	})
}

func (p *Pipeline) RemoveRemotePort(ctx context.Context, b PortBinding) error {
	return p.remove(portCookie(b.ID))
}

func (p *Pipeline) AddRouterPort(ctx context.Context, router *types.LogicalRouter, lport *types.LogicalPort, rport types.LogicalRouterPort) error {
	if lport.External == nil {
		return fmt.Errorf("router port %s: logical port %s has no local network", rport.Name, lport.ID)
	}
	ip, ipnet, err := rport.ParseNetwork()
	if err != nil {
		return err
	}
	localNet := lport.External.LocalNetworkID

	return p.install(map[string]Flow{
		arpCookie(rport.Name): {
			Table:    TableARP,
			Priority: priorityRouter,
			Match:    fmt.Sprintf("metadata=%d,arp,arp_tpa=%s", localNet, ip),
			Actions:  fmt.Sprintf("arp_reply:%s", rport.MAC),
		},
		gatewayCookie(rport.Name): {
			Table:    TableL2Lookup,
			Priority: priorityRouter,
			Match:    fmt.Sprintf("metadata=%d,dl_dst=%s", localNet, rport.MAC),
			Actions:  fmt.Sprintf("set_reg5:%s,goto:%s", router.Name, TableL3Lookup),
		},
		routeCookie(rport.Name): {
			Table:    TableL3Lookup,
			Priority: priorityRouter,
			Match:    fmt.Sprintf("reg5=%s,ip,nw_dst=%s", router.Name, ipnet),
			Actions: fmt.Sprintf("set_metadata:%d,set_tunnel:%d,mod_dl_src:%s,dec_ttl,goto:%s",
				localNet, lport.TunnelKey, rport.MAC, TableL2Lookup),
		},
	})
}

func (p *Pipeline) DeleteRouterPort(ctx context.Context, rport types.LogicalRouterPort, localNetworkID int, tunnelKey uint64) error {
	return p.remove(arpCookie(rport.Name), gatewayCookie(rport.Name), routeCookie(rport.Name))
}

func (p *Pipeline) install(flows map[string]Flow) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dp == nil {
		return ErrNotReady
	}
	for cookie, f := range flows {
		p.flows[f.Table][cookie] = f
	}
	return nil
}

// remove deletes flows by cookie from whichever table holds them
func (p *Pipeline) remove(cookies ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dp == nil {
		return ErrNotReady
	}
	for _, cookie := range cookies {
		for _, t := range p.flows {
			delete(t, cookie)
		}
	}
	return nil
}

// FlowCounts returns the number of flows per table
func (p *Pipeline) FlowCounts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[string]int, len(p.flows))
	for t, flows := range p.flows {
		counts[t] = len(flows)
	}
	return counts
}

// Dump returns every flow ordered by table then priority
func (p *Pipeline) Dump() []Flow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	order := make(map[string]int, len(tables))
	for i, t := range tables {
		order[t] = i
	}
	var res []Flow
	for _, flows := range p.flows {
		for _, f := range flows {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Table != res[j].Table {
			return order[res[i].Table] < order[res[j].Table]
		}
		if res[i].Priority != res[j].Priority {
			return res[i].Priority > res[j].Priority
		}
		return res[i].Match < res[j].Match
	})
	return res
}

func classificationFlow(b PortBinding) Flow {
	return Flow{
		Table:    TableClassification,
		Priority: priorityDefault,
		Match:    fmt.Sprintf("in_port=%d", b.Ofport),
		Actions:  fmt.Sprintf("set_metadata:%d,set_tunnel:%d,goto:%s", b.LocalNetworkID, b.TunnelKey, TableL2Lookup),
	}
}

func localCookie(id string) string  { return "lport:" + id + ":in" }
func portCookie(id string) string   { return "lport:" + id + ":out" }
func tunnelCookie(id string) string { return "lport:" + id + ":tun" }
func arpCookie(name string) string     { return "rport:" + name + ":arp" }
func gatewayCookie(name string) string { return "rport:" + name + ":gw" }
func routeCookie(name string) string   { return "rport:" + name + ":route" }
