//go:build linux

package vswitch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"syscall"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
)

const (
	genevePort = 6081
	vxlanPort  = 4789
)

// NetlinkSwitch drives a Linux bridge through netlink. Tunnel ports are
// Geneve or VXLAN links enslaved to the bridge; local logical ports are any
// bridge member whose alias carries a logical port id. The interface index
// serves as the ofport.
type NetlinkSwitch struct {
	bridge  string
	chassis string
	localIP net.IP
	logger  zerolog.Logger

	mu     sync.Mutex
	br     netlink.Link
	view   netlinkView
	events chan PortEvent
	done   chan struct{}
	closed bool
}

type netlinkView struct {
	tunnels []types.TunnelPort
	chassis map[string]int
	lports  map[string]int
}

// NewNetlinkSwitch creates a switch bound to the given bridge. chassis is
// the local chassis name and localIP the tunnel source address.
func NewNetlinkSwitch(bridge, chassis, localIP string) (*NetlinkSwitch, error) {
	ip := net.ParseIP(localIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid local tunnel address %q", localIP)
	}
	if bridge == "" {
		bridge = DefaultBridge
	}
	return &NetlinkSwitch{
		bridge:  bridge,
		chassis: chassis,
		localIP: ip,
		logger:  log.WithComponent("vswitch"),
		events:  make(chan PortEvent, 64),
		done:    make(chan struct{}),
	}, nil
}

func (s *NetlinkSwitch) Initialize(ctx context.Context) error {
	if _, err := s.ensureBridge(); err != nil {
		return err
	}

	updates := make(chan netlink.LinkUpdate, 64)
	if err := netlink.LinkSubscribe(updates, s.done); err != nil {
		return fmt.Errorf("netlink subscribe: %w", err)
	}
	go s.watch(updates)

	s.logger.Info().Str("bridge", s.bridge).Msg("Connected to switch")
	return nil
}

func (s *NetlinkSwitch) Datapath(ctx context.Context) (*Datapath, error) {
	br, err := s.ensureBridge()
	if err != nil {
		return nil, err
	}
	return &Datapath{Name: br.Attrs().Name, Index: br.Attrs().Index}, nil
}

func (s *NetlinkSwitch) ensureBridge() (netlink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.br != nil {
		return s.br, nil
	}

	link, err := netlink.LinkByName(s.bridge)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("netlink lookup %s: %w", s.bridge, err)
		}
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: s.bridge}}
		if err := netlink.LinkAdd(br); err != nil {
			return nil, fmt.Errorf("netlink bridge add %s: %w", s.bridge, err)
		}
		if link, err = netlink.LinkByName(s.bridge); err != nil {
			return nil, fmt.Errorf("netlink lookup %s after create: %w", s.bridge, err)
		}
		s.logger.Info().Str("bridge", s.bridge).Msg("Created integration bridge")
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("netlink bridge up %s: %w", s.bridge, err)
	}
	s.br = link
	return link, nil
}

func (s *NetlinkSwitch) Sync(ctx context.Context) error {
	br, err := s.ensureBridge()
	if err != nil {
		return err
	}
	links, err := netlink.LinkList()
	if err != nil {
		return fmt.Errorf("netlink link list: %w", err)
	}

	view := netlinkView{
		chassis: make(map[string]int),
		lports:  make(map[string]int),
	}
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.MasterIndex != br.Attrs().Index {
			continue
		}
		chassis, lport := parseAlias(attrs.Alias)
		switch {
		case chassis != "":
			view.tunnels = append(view.tunnels, types.TunnelPort{
				Name:      attrs.Name,
				ChassisID: chassis,
				Ofport:    attrs.Index,
			})
			view.chassis[chassis] = attrs.Index
		case lport != "":
			view.lports[lport] = attrs.Index
		}
	}
	sort.Slice(view.tunnels, func(i, j int) bool {
		return view.tunnels[i].ChassisID < view.tunnels[j].ChassisID
	})

	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
	return nil
}

func (s *NetlinkSwitch) TunnelPorts() []types.TunnelPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TunnelPort(nil), s.view.tunnels...)
}

func (s *NetlinkSwitch) OfportMappings() (map[string]int, map[string]int) {
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

func (s *NetlinkSwitch) AddTunnelPort(ctx context.Context, chassis *types.Chassis) error {
	br, err := s.ensureBridge()
	if err != nil {
		return err
	}
	remote := net.ParseIP(chassis.IP)
	if remote == nil {
		return fmt.Errorf("chassis %s: invalid address %q", chassis.Name, chassis.IP)
	}

	// The kernel allows one VXLAN device per VNI and port, whatever the
	// remote, so every peer link carries its own VNI.
	name := TunnelPortName(chassis.Name)
	vni := TunnelVNI(s.chassis, chassis.Name)
	attrs := netlink.LinkAttrs{Name: name}
	var link netlink.Link
	switch chassis.EncapType {
	case types.EncapVXLAN:
		link = &netlink.Vxlan{
			LinkAttrs: attrs,
			VxlanId:   int(vni),
			SrcAddr:   s.localIP,
			Group:     remote,
			Port:      vxlanPort,
		}
	case types.EncapGeneve, "":
		link = &netlink.Geneve{
			LinkAttrs: attrs,
			ID:        vni,
			Remote:    remote,
			Dport:     genevePort,
		}
	default:
		return fmt.Errorf("chassis %s: encap type %q not supported", chassis.Name, chassis.EncapType)
	}

	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("netlink tunnel add %s (vni %d): %w", name, vni, err)
	}
	if err := s.setupTunnel(link, br, chassis.Name); err != nil {
		_ = netlink.LinkDel(link)
		return err
	}
	s.logger.Info().
		Str("port", name).
		Str("chassis", chassis.Name).
		Str("encap", string(chassis.EncapType)).
		Uint32("vni", vni).
		Msg("Tunnel port created")
	return nil
}

func (s *NetlinkSwitch) setupTunnel(link, br netlink.Link, chassis string) error {
	name := link.Attrs().Name
	if err := netlink.LinkSetAlias(link, TunnelAlias(chassis)); err != nil {
		return fmt.Errorf("netlink set alias %s: %w", name, err)
	}
	if err := netlink.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("netlink set master %s -> %s: %w", name, s.bridge, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("netlink link up %s: %w", name, err)
	}
	return nil
}

func (s *NetlinkSwitch) DeletePort(ctx context.Context, port types.TunnelPort) error {
	link, err := netlink.LinkByName(port.Name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("tunnel port %s: %w", port.Name, ErrPortNotFound)
		}
		return fmt.Errorf("netlink lookup %s: %w", port.Name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("netlink del %s: %w", port.Name, err)
	}
	s.logger.Info().Str("port", port.Name).Str("chassis", port.ChassisID).Msg("Tunnel port deleted")
	return nil
}

func (s *NetlinkSwitch) Events() <-chan PortEvent {
	return s.events
}

// watch translates link updates for bridge members into port events
func (s *NetlinkSwitch) watch(updates <-chan netlink.LinkUpdate) {
	for u := range updates {
		s.mu.Lock()
		br := s.br
		s.mu.Unlock()
		if br == nil || u.Link == nil || u.Link.Attrs().MasterIndex != br.Attrs().Index {
			continue
		}

		attrs := u.Link.Attrs()
		ev := PortEvent{Type: PortAttached, Name: attrs.Name, Ofport: attrs.Index}
		if _, lport := parseAlias(attrs.Alias); lport != "" {
			ev.Name = lport
		}
		if u.Header.Type == syscall.RTM_DELLINK || attrs.Flags&net.FlagUp == 0 {
			ev.Type = PortDetached
		}

		select {
		case s.events <- ev:
		default:
			s.logger.Warn().Str("port", ev.Name).Msg("Dropping port event, consumer is behind")
		}
	}
}

func (s *NetlinkSwitch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
	return nil
}
