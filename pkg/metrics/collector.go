package metrics

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultCollectInterval is how often gauges are refreshed
const DefaultCollectInterval = 15 * time.Second

// StateSource reports what the agent has applied
type StateSource interface {
	Stats() cache.Stats
}

// FlowSource reports flow table sizes
type FlowSource interface {
	FlowCounts() map[string]int
}

// TunnelSource reports the tunnel ports seen on the switch
type TunnelSource interface {
	TunnelPorts() []types.TunnelPort
}

// Collector refreshes dataplane gauges from the agent's state
type Collector struct {
	state    StateSource
	flows    FlowSource
	tunnels  TunnelSource
	clock    clock.Clock
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. A nil clk uses wall time.
func NewCollector(state StateSource, flows FlowSource, tunnels TunnelSource, clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	return &Collector{
		state:    state,
		flows:    flows,
		tunnels:  tunnels,
		clock:    clk,
		interval: DefaultCollectInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := c.clock.Ticker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes every gauge once
func (c *Collector) Collect() {
	if c.state != nil {
		st := c.state.Stats()
		BoundPortsTotal.WithLabelValues("local").Set(float64(st.LocalPorts))
		BoundPortsTotal.WithLabelValues("remote").Set(float64(st.RemotePorts))
		RouterPortsTotal.Set(float64(st.RouterPorts))
	}

	if c.flows != nil {
		for table, n := range c.flows.FlowCounts() {
			FlowsTotal.WithLabelValues(table).Set(float64(n))
		}
	}

	if c.tunnels != nil {
		TunnelPortsTotal.Set(float64(len(c.tunnels.TunnelPorts())))
	}
}
