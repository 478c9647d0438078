//go:build !linux

package vswitch

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

var errUnsupported = errors.New("netlink switch requires linux")

// NetlinkSwitch is only available on Linux
type NetlinkSwitch struct{}

// NewNetlinkSwitch always fails off Linux; use the memory switch instead
func NewNetlinkSwitch(bridge, chassis, localIP string) (*NetlinkSwitch, error) {
	return nil, errUnsupported
}

func (s *NetlinkSwitch) Initialize(ctx context.Context) error { return errUnsupported }

func (s *NetlinkSwitch) Datapath(ctx context.Context) (*Datapath, error) {
	return nil, errUnsupported
}

func (s *NetlinkSwitch) Sync(ctx context.Context) error { return errUnsupported }

func (s *NetlinkSwitch) TunnelPorts() []types.TunnelPort { return nil }

func (s *NetlinkSwitch) OfportMappings() (map[string]int, map[string]int) {
	return map[string]int{}, map[string]int{}
}

func (s *NetlinkSwitch) AddTunnelPort(ctx context.Context, chassis *types.Chassis) error {
	return errUnsupported
}

func (s *NetlinkSwitch) DeletePort(ctx context.Context, port types.TunnelPort) error {
	return errUnsupported
}

func (s *NetlinkSwitch) Events() <-chan PortEvent { return nil }

func (s *NetlinkSwitch) Close() error { return nil }
