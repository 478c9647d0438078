package reconciler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/flow"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the time between reconciliation cycles
	DefaultInterval = 3 * time.Second
	// DefaultReadyPollInterval is how often startup checks the dataplane
	DefaultReadyPollInterval = 5 * time.Second
)

// State is the lifecycle phase of the reconciler
type State string

const (
	StateInit               State = "INIT"
	StateWaitDataplaneReady State = "WAIT_DATAPLANE_READY"
	StateRunning            State = "RUNNING"
)

// Store is the part of the northbound store the loop reads
type Store interface {
	ChassisStore
	Snapshot(ctx context.Context) (*storage.Snapshot, error)
}

// Config holds reconciler settings
type Config struct {
	Chassis           types.Chassis
	Interval          time.Duration
	ReadyPollInterval time.Duration
	Clock             clock.Clock
}

// CycleResult describes the most recent reconciliation cycle
type CycleResult struct {
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Reconciler drives the northbound model into the local dataplane
type Reconciler struct {
	cfg    Config
	clock  clock.Clock
	store  Store
	sw     vswitch.Switch
	flows  flow.Programmer
	state  *cache.LocalState
	broker *events.Broker
	logger zerolog.Logger

	tunnels *TunnelMesh
	ports   *Ports
	routers *Routers

	mu        sync.RWMutex
	phase     State
	lastCycle CycleResult
}

// NewReconciler creates a new reconciler. broker may be nil.
func NewReconciler(cfg Config, store Store, sw vswitch.Switch, flows flow.Programmer, state *cache.LocalState, broker *events.Broker) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = DefaultReadyPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Reconciler{
		cfg:     cfg,
		clock:   cfg.Clock,
		store:   store,
		sw:      sw,
		flows:   flows,
		state:   state,
		broker:  broker,
		logger:  log.WithChassis(cfg.Chassis.Name).With().Str("component", "reconciler").Logger(),
		tunnels: NewTunnelMesh(sw, broker),
		ports:   NewPorts(cfg.Chassis.Name, state, flows, broker),
		routers: NewRouters(state, flows, broker),
		phase:   StateInit,
	}
}

// State returns the current lifecycle phase
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// LastCycle returns the outcome of the most recent cycle
func (r *Reconciler) LastCycle() CycleResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCycle
}

func (r *Reconciler) setPhase(s State) {
	r.mu.Lock()
	r.phase = s
	r.mu.Unlock()
	r.logger.Info().Str("state", string(s)).Msg("Reconciler state changed")
}

// Run connects to the switch, starts the flow pipeline, waits for the
// dataplane and then reconciles every interval until ctx is done. Cycle
// failures are logged and never end the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.sw.Initialize(ctx); err != nil {
		metrics.UpdateComponentErr(metrics.ComponentVSwitch, err)
		return fmt.Errorf("failed to initialize switch: %w", err)
	}
	metrics.UpdateComponentErr(metrics.ComponentVSwitch, nil)

	if err := r.flows.Start(ctx); err != nil {
		return fmt.Errorf("failed to start flow pipeline: %w", err)
	}

	r.setPhase(StateWaitDataplaneReady)
	for !r.flows.Ready() {
		metrics.UpdateComponent(metrics.ComponentDataplane, false, "waiting for datapath")
		r.logger.Info().Dur("retry", r.cfg.ReadyPollInterval).Msg("Waiting for dataplane")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.cfg.ReadyPollInterval):
		}
	}
	metrics.UpdateComponent(metrics.ComponentDataplane, true, "")

	r.setPhase(StateRunning)
	ticker := r.clock.Ticker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single reconciliation cycle and records its outcome. The
// error is returned for callers that want it; the loop ignores it.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	started := r.clock.Now()

	err := r.cycle(ctx)

	timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCyclesTotal.Inc()
	metrics.UpdateComponentErr(metrics.ComponentReconciler, err)
	if err != nil {
		metrics.ReconciliationFailuresTotal.Inc()
		r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
		publish(r.broker, events.EventCycleFailed, err.Error(), nil)
	}

	r.mu.Lock()
	r.lastCycle = CycleResult{Started: started, Duration: timer.Duration(), Err: err}
	r.mu.Unlock()
	return err
}

// cycle reads one snapshot of the store and the switch and applies it. A
// panic anywhere below is turned into the cycle's error. Work done before a
// failure stays applied.
func (r *Reconciler) cycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("stack", string(debug.Stack())).Msg("Recovered panic in reconciliation cycle")
			err = fmt.Errorf("panic during reconciliation: %v", p)
		}
	}()

	var snap *storage.Snapshot
	err = r.step("snapshot", func() error {
		var err error
		snap, err = r.store.Snapshot(ctx)
		metrics.UpdateComponentErr(metrics.ComponentDatastore, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read northbound store: %w", err)
	}

	var chassisOfports, lportOfports map[string]int
	var tunnelPorts []types.TunnelPort
	err = r.step("switch", func() error {
		err := r.sw.Sync(ctx)
		metrics.UpdateComponentErr(metrics.ComponentVSwitch, err)
		if err != nil {
			return err
		}
		tunnelPorts = r.sw.TunnelPorts()
		chassisOfports, lportOfports = r.sw.OfportMappings()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read switch: %w", err)
	}

	self := r.cfg.Chassis
	err = r.step("register", func() error {
		registered, err := RegisterChassis(ctx, r.store, &self, snap.Chassis)
		if registered {
			r.logger.Info().Str("ip", self.IP).Msg("Registered chassis")
			publish(r.broker, events.EventChassisRegistered, "chassis registered", map[string]string{
				"chassis": self.Name,
				"ip":      self.IP,
			})
		}
		return err
	})
	if err != nil {
		return err
	}

	if err := r.step("tunnels", func() error {
		return r.tunnels.Reconcile(ctx, snap.Chassis, self.Name, tunnelPorts)
	}); err != nil {
		return err
	}

	if err := r.step("ports", func() error {
		return r.ports.Reconcile(ctx, snap.Ports, lportOfports, chassisOfports)
	}); err != nil {
		return err
	}

	return r.step("routers", func() error {
		return r.routers.Reconcile(ctx, snap.Routers, snap.Ports)
	})
}

func (r *Reconciler) step(name string, fn func() error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReconciliationStepDuration, name)
	return fn()
}
