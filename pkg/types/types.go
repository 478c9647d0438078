package types

import (
	"fmt"
	"net"
	"slices"
)

// EncapType is the tunnel encapsulation a chassis advertises
type EncapType string

const (
	EncapGeneve EncapType = "geneve"
	EncapVXLAN  EncapType = "vxlan"
)

// Chassis represents a host participating in the tunnel mesh
type Chassis struct {
	Name      string    `json:"name" yaml:"name"`
	IP        string    `json:"ip" yaml:"ip"` // Management/tunnel endpoint address
	EncapType EncapType `json:"encap_type" yaml:"encapType"`
}

// TunnelPort is a local dataplane port towards one remote chassis
type TunnelPort struct {
	Name      string // Interface name on this host
	ChassisID string // Remote chassis name
	Ofport    int    // Dataplane port number, 0 while unassigned
}

// LogicalSwitch represents a logical L2 network
type LogicalSwitch struct {
	Name      string `json:"name" yaml:"name"`
	Subnet    string `json:"subnet,omitempty" yaml:"subnet,omitempty"`
	TunnelKey uint64 `json:"tunnel_key" yaml:"tunnelKey"`
}

// LogicalPort represents a virtual interface bound to at most one chassis
type LogicalPort struct {
	ID        string   `json:"name" yaml:"name"`
	MACs      []string `json:"macs" yaml:"macs"`
	IPs       []string `json:"ips" yaml:"ips"`
	NetworkID string   `json:"lswitch" yaml:"lswitch"`                     // Owning logical switch
	Chassis   string   `json:"chassis,omitempty" yaml:"chassis,omitempty"` // Binding chassis, empty when unbound
	TunnelKey uint64   `json:"tunnel_key" yaml:"tunnelKey"`

	// External holds agent-local attributes. It lives only in the local
	// cache copy and is never written to the northbound store.
	External *PortExternal `json:"-" yaml:"-"`
}

// PortExternal are the attributes an agent attaches to a port it has bound
type PortExternal struct {
	IsLocal        bool
	Ofport         int
	LocalNetworkID int
}

// MAC returns the primary MAC address of the port
func (p *LogicalPort) MAC() string {
	if len(p.MACs) == 0 {
		return ""
	}
	return p.MACs[0]
}

// IP returns the primary IP address of the port
func (p *LogicalPort) IP() string {
	if len(p.IPs) == 0 {
		return ""
	}
	return p.IPs[0]
}

// Clone returns a deep copy of the port
func (p *LogicalPort) Clone() *LogicalPort {
	c := *p
	c.MACs = slices.Clone(p.MACs)
	c.IPs = slices.Clone(p.IPs)
	if p.External != nil {
		ext := *p.External
		c.External = &ext
	}
	return &c
}

// LogicalRouter represents a router connecting logical switches
type LogicalRouter struct {
	Name  string              `json:"name" yaml:"name"`
	Ports []LogicalRouterPort `json:"ports" yaml:"ports"`
}

// Clone returns a deep copy of the router
func (r *LogicalRouter) Clone() *LogicalRouter {
	c := *r
	c.Ports = slices.Clone(r.Ports)
	return &c
}

// LogicalRouterPort is a router's attachment to one logical switch. It shares
// its name with the LogicalPort that carries its tunnel key.
type LogicalRouterPort struct {
	Name      string `json:"name" yaml:"name"`
	Router    string `json:"lrouter" yaml:"lrouter"`
	NetworkID string `json:"lswitch" yaml:"lswitch"`
	MAC       string `json:"mac" yaml:"mac"`
	Network   string `json:"network" yaml:"network"` // Router address in CIDR form, e.g. 10.0.0.1/24
}

// Equal reports whether two router ports are identical in every attribute
func (p LogicalRouterPort) Equal(o LogicalRouterPort) bool {
	return p == o
}

// ParseNetwork parses the port's CIDR
func (p LogicalRouterPort) ParseNetwork() (net.IP, *net.IPNet, error) {
	ip, ipnet, err := net.ParseCIDR(p.Network)
	if err != nil {
		return nil, nil, fmt.Errorf("router port %s: invalid network %q: %w", p.Name, p.Network, err)
	}
	return ip, ipnet, nil
}

// IP returns the router's address on this port
func (p LogicalRouterPort) IP() string {
	ip, _, err := p.ParseNetwork()
	if err != nil {
		return ""
	}
	return ip.String()
}

// CIDRNetwork returns the network address of the port's subnet
func (p LogicalRouterPort) CIDRNetwork() string {
	_, ipnet, err := p.ParseNetwork()
	if err != nil {
		return ""
	}
	return ipnet.IP.String()
}

// CIDRNetmask returns the dotted netmask of the port's subnet
func (p LogicalRouterPort) CIDRNetmask() string {
	_, ipnet, err := p.ParseNetwork()
	if err != nil {
		return ""
	}
	return net.IP(ipnet.Mask).String()
}
