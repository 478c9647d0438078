/*
Package types defines the logical network model shared by every burrow
component.

The model mirrors what lives in the northbound store:

  - Chassis: a host taking part in the tunnel mesh
  - LogicalSwitch: an L2 segment, identified by name and tunnel key
  - LogicalPort: a virtual interface on a switch, bound to one chassis
  - LogicalRouter / LogicalRouterPort: L3 attachments between switches

plus one purely local object, TunnelPort, which describes the dataplane port
this host keeps towards each remote chassis.

# External attributes

A LogicalPort read from the store carries no agent state. Once the port
reconciler binds it, the cached copy gets a PortExternal with the local or
remote classification, the dataplane port number and the host-local network
id. These attributes are tagged `json:"-"` so they can never leak back into
the store:

	lport.External = &types.PortExternal{
		IsLocal:        true,
		Ofport:         7,
		LocalNetworkID: 2,
	}

# Router ports

A LogicalRouterPort is compared as a whole record (Equal). Changing any
attribute of a router port therefore shows up as removal of the old record
and addition of the new one, never as an update in place.
*/
package types
