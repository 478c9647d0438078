// Package topology validates and applies declarative logical network
// definitions to a northbound store.
package topology

import (
	"errors"
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/cuemby/burrow/pkg/types"
	"gopkg.in/yaml.v3"
)

// Topology is a set of logical switches, ports and routers
type Topology struct {
	Switches []types.LogicalSwitch `yaml:"switches"`
	Ports    []types.LogicalPort   `yaml:"ports"`
	Routers  []types.LogicalRouter `yaml:"routers"`
}

// Parse decodes a YAML topology, fills router port defaults and validates it
func Parse(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := t.FillDefaults(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) subnets() map[string]*net.IPNet {
	res := make(map[string]*net.IPNet)
	for _, ls := range t.Switches {
		if _, ipnet, err := net.ParseCIDR(ls.Subnet); err == nil {
			res[ls.Name] = ipnet
		}
	}
	return res
}

// FillDefaults names router ports and gives them the first host address of
// their switch subnet when no network is set
func (t *Topology) FillDefaults() error {
	subnets := t.subnets()
	for i := range t.Routers {
		r := &t.Routers[i]
		for j := range r.Ports {
			rp := &r.Ports[j]
			rp.Router = r.Name
			if rp.Name == "" {
				rp.Name = RouterPortName(r.Name, rp.NetworkID)
			}
			if rp.Network != "" {
				continue
			}
			subnet, ok := subnets[rp.NetworkID]
			if !ok {
				continue
			}
			gw, err := cidr.Host(subnet, 1)
			if err != nil {
				return fmt.Errorf("router %s: no gateway address in %s: %w", r.Name, subnet, err)
			}
			ones, _ := subnet.Mask.Size()
			rp.Network = fmt.Sprintf("%s/%d", gw, ones)
		}
	}
	return nil
}

// RouterPortName is the default name of a router's port on a switch
func RouterPortName(router, lswitch string) string {
	return router + "-" + lswitch
}

// Validate checks references between objects and every address
func (t *Topology) Validate() error {
	var errs []error
	switches := make(map[string]bool)
	for _, ls := range t.Switches {
		if ls.Name == "" {
			errs = append(errs, errors.New("logical switch without a name"))
			continue
		}
		if switches[ls.Name] {
			errs = append(errs, fmt.Errorf("logical switch %s defined twice", ls.Name))
		}
		switches[ls.Name] = true
		if ls.Subnet != "" {
			if _, _, err := net.ParseCIDR(ls.Subnet); err != nil {
				errs = append(errs, fmt.Errorf("logical switch %s: invalid subnet %q", ls.Name, ls.Subnet))
			}
		}
	}
	subnets := t.subnets()

	ports := make(map[string]bool)
	for _, lp := range t.Ports {
		if lp.ID == "" {
			errs = append(errs, errors.New("logical port without a name"))
			continue
		}
		if ports[lp.ID] {
			errs = append(errs, fmt.Errorf("logical port %s defined twice", lp.ID))
		}
		ports[lp.ID] = true
		if !switches[lp.NetworkID] {
			errs = append(errs, fmt.Errorf("logical port %s: unknown logical switch %q", lp.ID, lp.NetworkID))
		}
		for _, mac := range lp.MACs {
			if _, err := net.ParseMAC(mac); err != nil {
				errs = append(errs, fmt.Errorf("logical port %s: invalid MAC %q", lp.ID, mac))
			}
		}
		for _, ip := range lp.IPs {
			if err := CheckHostAddress(net.ParseIP(ip), subnets[lp.NetworkID]); err != nil {
				errs = append(errs, fmt.Errorf("logical port %s: %w", lp.ID, err))
			}
		}
	}

	for _, r := range t.Routers {
		if r.Name == "" {
			errs = append(errs, errors.New("logical router without a name"))
			continue
		}
		if err := ValidateRouterPorts(r.Ports, subnets); err != nil {
			errs = append(errs, fmt.Errorf("logical router %s: %w", r.Name, err))
		}
		for _, rp := range r.Ports {
			if !switches[rp.NetworkID] {
				errs = append(errs, fmt.Errorf("logical router %s port %s: unknown logical switch %q", r.Name, rp.Name, rp.NetworkID))
			}
			if ports[rp.Name] {
				errs = append(errs, fmt.Errorf("logical router %s port %s: name taken by a logical port", r.Name, rp.Name))
			}
		}
	}

	return errors.Join(errs...)
}

// ValidateRouterPorts checks each port's address and that no two port
// networks of one router overlap. subnets maps switch name to its subnet,
// when known.
func ValidateRouterPorts(ports []types.LogicalRouterPort, subnets map[string]*net.IPNet) error {
	var errs []error
	var networks []*net.IPNet
	for _, rp := range ports {
		if _, err := net.ParseMAC(rp.MAC); err != nil {
			errs = append(errs, fmt.Errorf("port %s: invalid MAC %q", rp.Name, rp.MAC))
		}
		ip, ipnet, err := rp.ParseNetwork()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := CheckHostAddress(ip, ipnet); err != nil {
			errs = append(errs, fmt.Errorf("port %s: %w", rp.Name, err))
		}
		if subnet, ok := subnets[rp.NetworkID]; ok && subnet.String() != ipnet.String() {
			errs = append(errs, fmt.Errorf("port %s: network %s does not match switch subnet %s", rp.Name, ipnet, subnet))
		}
		networks = append(networks, ipnet)
	}

	if len(networks) > 1 {
		_, all, _ := net.ParseCIDR("0.0.0.0/0")
		if networks[0].IP.To4() == nil {
			_, all, _ = net.ParseCIDR("::/0")
		}
		if err := cidr.VerifyNoOverlap(networks, all); err != nil {
			errs = append(errs, fmt.Errorf("overlapping port networks: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CheckHostAddress verifies ip is usable by a host in subnet: inside it and,
// for IPv4 subnets with room for hosts, neither the network nor the
// broadcast address. A nil subnet only checks that ip parsed.
func CheckHostAddress(ip net.IP, subnet *net.IPNet) error {
	if ip == nil {
		return errors.New("invalid IP address")
	}
	if subnet == nil {
		return nil
	}
	if !subnet.Contains(ip) {
		return fmt.Errorf("address %s is outside %s", ip, subnet)
	}
	if subnet.IP.To4() == nil || cidr.AddressCount(subnet) <= 2 {
		return nil
	}
	first, last := cidr.AddressRange(subnet)
	if ip.Equal(first) {
		return fmt.Errorf("address %s is the network address of %s", ip, subnet)
	}
	if ip.Equal(last) {
		return fmt.Errorf("address %s is the broadcast address of %s", ip, subnet)
	}
	return nil
}
