//go:build linux

package vswitch

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// inNewNetns runs fn on a locked thread inside a fresh network namespace.
// The test is skipped when the namespace cannot be created.
func inNewNetns(t *testing.T, fn func()) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires CAP_NET_ADMIN")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	require.NoError(t, err)
	defer orig.Close()

	ns, err := netns.New()
	if err != nil {
		t.Skipf("cannot create network namespace: %v", err)
	}
	defer ns.Close()
	defer func() { require.NoError(t, netns.Set(orig)) }()

	fn()
}

func TestNetlinkTunnelPerPeer(t *testing.T) {
	for _, encap := range []types.EncapType{types.EncapVXLAN, types.EncapGeneve} {
		t.Run(string(encap), func(t *testing.T) {
			inNewNetns(t, func() {
				ctx := context.Background()
				sw, err := NewNetlinkSwitch("br-test", "x", "10.0.0.1")
				require.NoError(t, err)
				defer sw.Close()

				require.NoError(t, sw.AddTunnelPort(ctx, &types.Chassis{Name: "y", IP: "10.0.0.2", EncapType: encap}))
				require.NoError(t, sw.AddTunnelPort(ctx, &types.Chassis{Name: "z", IP: "10.0.0.3", EncapType: encap}))
				require.NoError(t, sw.Sync(ctx))

				tunnels := sw.TunnelPorts()
				require.Len(t, tunnels, 2)
				assert.Equal(t, "y", tunnels[0].ChassisID)
				assert.Equal(t, "z", tunnels[1].ChassisID)
				assert.NotEqual(t, tunnels[0].Ofport, tunnels[1].Ofport)

				link, err := netlink.LinkByName(TunnelPortName("z"))
				require.NoError(t, err)
				switch l := link.(type) {
				case *netlink.Vxlan:
					assert.Equal(t, int(TunnelVNI("x", "z")), l.VxlanId)
				case *netlink.Geneve:
					assert.Equal(t, TunnelVNI("x", "z"), l.ID)
				default:
					t.Fatalf("unexpected link type %T", link)
				}

				require.NoError(t, sw.DeletePort(ctx, tunnels[0]))
				require.NoError(t, sw.Sync(ctx))
				assert.Len(t, sw.TunnelPorts(), 1)
			})
		})
	}
}
