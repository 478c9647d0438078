package vswitch

import (
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	tunnelAliasPrefix = "burrow:tunnel:"
	lportAliasPrefix  = "burrow:lport:"

	// VNIs are 24 bits wide
	maxVNI = 1<<24 - 1
)

// TunnelPortName derives a stable interface name for the tunnel towards a
// chassis. Interface names are capped at 15 bytes, so the chassis name is
// hashed rather than embedded.
func TunnelPortName(chassis string) string {
	return fmt.Sprintf("bt%08x", crc32.ChecksumIEEE([]byte(chassis)))
}

// TunnelVNI derives the VNI of the tunnel between two chassis. It depends
// only on the unordered pair, so both ends pick the same value, and each
// peer of a chassis gets its own device identity. Zero is never returned.
func TunnelVNI(a, b string) uint32 {
	if b < a {
		a, b = b, a
	}
	vni := crc32.ChecksumIEEE([]byte(a+"\x00"+b)) & maxVNI
	if vni == 0 {
		vni = 1
	}
	return vni
}

// TunnelAlias is the interface alias recording which chassis a tunnel leads to
func TunnelAlias(chassis string) string {
	return tunnelAliasPrefix + chassis
}

// LocalPortAlias is the alias a VIF carries to identify its logical port
func LocalPortAlias(lportID string) string {
	return lportAliasPrefix + lportID
}

// parseAlias classifies an interface alias
func parseAlias(alias string) (chassis, lport string) {
	if c, ok := strings.CutPrefix(alias, tunnelAliasPrefix); ok {
		return c, ""
	}
	if l, ok := strings.CutPrefix(alias, lportAliasPrefix); ok {
		return "", l
	}
	return "", ""
}
