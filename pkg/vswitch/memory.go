package vswitch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// MemorySwitch is an in-process Switch. It backs the `--switch memory` mode
// and tests. Local logical ports are attached with AttachLocalPort.
type MemorySwitch struct {
	mu         sync.Mutex
	nextOfport int
	tunnels    map[string]types.TunnelPort // by chassis
	local      map[string]int              // lport id → ofport
	events     chan PortEvent

	view struct {
		tunnels []types.TunnelPort
		chassis map[string]int
		lports  map[string]int
	}
}

// NewMemorySwitch creates an empty in-memory switch
func NewMemorySwitch() *MemorySwitch {
	return &MemorySwitch{
		nextOfport: 1,
		tunnels:    make(map[string]types.TunnelPort),
		local:      make(map[string]int),
		events:     make(chan PortEvent, 64),
	}
}

func (s *MemorySwitch) Initialize(ctx context.Context) error {
	return nil
}

func (s *MemorySwitch) Datapath(ctx context.Context) (*Datapath, error) {
	return &Datapath{Name: DefaultBridge}, nil
}

func (s *MemorySwitch) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.view.tunnels = s.view.tunnels[:0]
	s.view.chassis = make(map[string]int, len(s.tunnels))
	for chassis, tp := range s.tunnels {
		s.view.tunnels = append(s.view.tunnels, tp)
		s.view.chassis[chassis] = tp.Ofport
	}
	sort.Slice(s.view.tunnels, func(i, j int) bool {
		return s.view.tunnels[i].ChassisID < s.view.tunnels[j].ChassisID
	})

	s.view.lports = make(map[string]int, len(s.local))
	for id, ofport := range s.local {
		s.view.lports[id] = ofport
	}
	return nil
}

func (s *MemorySwitch) TunnelPorts() []types.TunnelPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TunnelPort(nil), s.view.tunnels...)
}

func (s *MemorySwitch) OfportMappings() (map[string]int, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chassis := make(map[string]int, len(s.view.chassis))
	for k, v := range s.view.chassis {
		chassis[k] = v
	}
	lports := make(map[string]int, len(s.view.lports))
	for k, v := range s.view.lports {
		lports[k] = v
	}
	return chassis, lports
}

func (s *MemorySwitch) AddTunnelPort(ctx context.Context, chassis *types.Chassis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tunnels[chassis.Name]; ok {
		return nil
	}
	tp := types.TunnelPort{
		Name:      TunnelPortName(chassis.Name),
		ChassisID: chassis.Name,
		Ofport:    s.allocOfport(),
	}
	s.tunnels[chassis.Name] = tp
	s.emit(PortEvent{Type: PortAttached, Name: tp.Name, Ofport: tp.Ofport})
	return nil
}

func (s *MemorySwitch) DeletePort(ctx context.Context, port types.TunnelPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tp, ok := s.tunnels[port.ChassisID]
	if !ok {
		return fmt.Errorf("tunnel port to %s: %w", port.ChassisID, ErrPortNotFound)
	}
	delete(s.tunnels, port.ChassisID)
	s.emit(PortEvent{Type: PortDetached, Name: tp.Name, Ofport: tp.Ofport})
	return nil
}

// AttachLocalPort plugs a local interface for a logical port into the
// bridge and returns its ofport
func (s *MemorySwitch) AttachLocalPort(lportID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ofport, ok := s.local[lportID]; ok {
		return ofport
	}
	ofport := s.allocOfport()
	s.local[lportID] = ofport
	s.emit(PortEvent{Type: PortAttached, Name: lportID, Ofport: ofport})
	return ofport
}

// DetachLocalPort unplugs a local interface
func (s *MemorySwitch) DetachLocalPort(lportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ofport, ok := s.local[lportID]
	if !ok {
		return
	}
	delete(s.local, lportID)
	s.emit(PortEvent{Type: PortDetached, Name: lportID, Ofport: ofport})
}

func (s *MemorySwitch) Events() <-chan PortEvent {
	return s.events
}

func (s *MemorySwitch) Close() error {
	return nil
}

func (s *MemorySwitch) allocOfport() int {
	ofport := s.nextOfport
	s.nextOfport++
	return ofport
}

// emit drops the event when nobody is draining the channel
func (s *MemorySwitch) emit(ev PortEvent) {
	select {
	case s.events <- ev:
	default:
	}
}
