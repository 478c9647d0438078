package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/topology"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

// Northbound admin commands
var nbCmd = &cobra.Command{
	Use:   "nb",
	Short: "Manage the northbound logical network model",
}

func init() {
	nbCmd.AddCommand(nbSetupCmd)

	nbChassisCmd.AddCommand(nbChassisListCmd, nbChassisDeleteCmd)
	nbCmd.AddCommand(nbChassisCmd)

	nbSwitchCreateCmd.Flags().String("subnet", "", "Subnet in CIDR form")
	nbSwitchCmd.AddCommand(nbSwitchCreateCmd, nbSwitchListCmd, nbSwitchDeleteCmd)
	nbCmd.AddCommand(nbSwitchCmd)

	nbPortCreateCmd.Flags().String("lswitch", "", "Logical switch (required)")
	nbPortCreateCmd.Flags().StringSlice("mac", nil, "MAC address")
	nbPortCreateCmd.Flags().StringSlice("ip", nil, "IP address")
	nbPortCreateCmd.Flags().String("chassis", "", "Chassis the port is bound to")
	_ = nbPortCreateCmd.MarkFlagRequired("lswitch")
	nbPortCmd.AddCommand(nbPortCreateCmd, nbPortListCmd, nbPortDeleteCmd)
	nbCmd.AddCommand(nbPortCmd)

	nbRouterAddPortCmd.Flags().String("lswitch", "", "Logical switch to attach (required)")
	nbRouterAddPortCmd.Flags().String("mac", "", "Router port MAC address (required)")
	nbRouterAddPortCmd.Flags().String("network", "", "Router address in CIDR form (defaults to the first host of the switch subnet)")
	nbRouterAddPortCmd.Flags().String("name", "", "Router port name (defaults to <router>-<lswitch>)")
	_ = nbRouterAddPortCmd.MarkFlagRequired("lswitch")
	_ = nbRouterAddPortCmd.MarkFlagRequired("mac")
	nbRouterCmd.AddCommand(nbRouterCreateCmd, nbRouterListCmd, nbRouterDeleteCmd, nbRouterAddPortCmd, nbRouterDeletePortCmd)
	nbCmd.AddCommand(nbRouterCmd)

	rootCmd.AddCommand(nbCmd)
}

// withStore opens the configured northbound store for one command
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store storage.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

var nbSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Drop and recreate every northbound table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.Setup(ctx); err != nil {
				return fmt.Errorf("failed to set up tables: %w", err)
			}
			fmt.Printf("✓ Tables created: %s\n", strings.Join(storage.Tables, ", "))
			return nil
		})
	},
}

// Chassis commands
var nbChassisCmd = &cobra.Command{
	Use:   "chassis",
	Short: "Manage registered chassis",
}

var nbChassisListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chassis",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			chassis, err := store.ListChassis(ctx)
			if err != nil {
				return fmt.Errorf("failed to list chassis: %w", err)
			}
			fmt.Printf("%-24s %-16s %s\n", "NAME", "IP", "ENCAP")
			for _, c := range chassis {
				fmt.Printf("%-24s %-16s %s\n", c.Name, c.IP, c.EncapType)
			}
			return nil
		})
	},
}

var nbChassisDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a chassis; every agent removes its tunnel on the next cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.DeleteChassis(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete chassis: %w", err)
			}
			fmt.Printf("✓ Chassis deleted: %s\n", args[0])
			return nil
		})
	},
}

// Logical switch commands
var nbSwitchCmd = &cobra.Command{
	Use:     "lswitch",
	Aliases: []string{"ls"},
	Short:   "Manage logical switches",
}

var nbSwitchCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a logical switch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subnet, _ := cmd.Flags().GetString("subnet")
		ls := &types.LogicalSwitch{Name: args[0], Subnet: subnet}
		if err := (&topology.Topology{Switches: []types.LogicalSwitch{*ls}}).Validate(); err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := topology.NewApplier(store).CreateSwitch(ctx, ls); err != nil {
				return err
			}
			fmt.Printf("✓ Logical switch created: %s (tunnel key %d)\n", ls.Name, ls.TunnelKey)
			return nil
		})
	},
}

var nbSwitchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logical switches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			switches, err := store.ListLogicalSwitches(ctx)
			if err != nil {
				return fmt.Errorf("failed to list logical switches: %w", err)
			}
			fmt.Printf("%-24s %-20s %s\n", "NAME", "SUBNET", "TUNNEL KEY")
			for _, ls := range switches {
				fmt.Printf("%-24s %-20s %d\n", ls.Name, ls.Subnet, ls.TunnelKey)
			}
			return nil
		})
	},
}

var nbSwitchDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a logical switch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.DeleteLogicalSwitch(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete logical switch: %w", err)
			}
			fmt.Printf("✓ Logical switch deleted: %s\n", args[0])
			return nil
		})
	},
}

// Logical port commands
var nbPortCmd = &cobra.Command{
	Use:     "lport",
	Aliases: []string{"lp"},
	Short:   "Manage logical ports",
}

var nbPortCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a logical port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lp := &types.LogicalPort{ID: args[0]}
		lp.NetworkID, _ = cmd.Flags().GetString("lswitch")
		lp.MACs, _ = cmd.Flags().GetStringSlice("mac")
		lp.IPs, _ = cmd.Flags().GetStringSlice("ip")
		lp.Chassis, _ = cmd.Flags().GetString("chassis")

		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			ls, err := store.GetLogicalSwitch(ctx, lp.NetworkID)
			if err != nil {
				return fmt.Errorf("failed to read logical switch: %w", err)
			}
			topo := &topology.Topology{
				Switches: []types.LogicalSwitch{*ls},
				Ports:    []types.LogicalPort{*lp},
			}
			if err := topo.Validate(); err != nil {
				return err
			}
			if err := topology.NewApplier(store).CreatePort(ctx, lp); err != nil {
				return err
			}
			fmt.Printf("✓ Logical port created: %s (tunnel key %d)\n", lp.ID, lp.TunnelKey)
			return nil
		})
	},
}

var nbPortListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logical ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			ports, err := store.ListLogicalPorts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list logical ports: %w", err)
			}
			fmt.Printf("%-24s %-16s %-20s %-16s %-16s %s\n", "NAME", "LSWITCH", "MAC", "IP", "CHASSIS", "TUNNEL KEY")
			for _, lp := range ports {
				fmt.Printf("%-24s %-16s %-20s %-16s %-16s %d\n", lp.ID, lp.NetworkID, lp.MAC(), lp.IP(), lp.Chassis, lp.TunnelKey)
			}
			return nil
		})
	},
}

var nbPortDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a logical port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.DeleteLogicalPort(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete logical port: %w", err)
			}
			fmt.Printf("✓ Logical port deleted: %s\n", args[0])
			return nil
		})
	},
}

// Logical router commands
var nbRouterCmd = &cobra.Command{
	Use:     "lrouter",
	Aliases: []string{"lr"},
	Short:   "Manage logical routers",
}

var nbRouterCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a logical router without ports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.CreateRouter(ctx, &types.LogicalRouter{Name: args[0]}); err != nil {
				return fmt.Errorf("failed to create logical router: %w", err)
			}
			fmt.Printf("✓ Logical router created: %s\n", args[0])
			return nil
		})
	},
}

var nbRouterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logical routers and their ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			routers, err := store.ListRouters(ctx)
			if err != nil {
				return fmt.Errorf("failed to list logical routers: %w", err)
			}
			for _, r := range routers {
				fmt.Printf("%s\n", r.Name)
				for _, rp := range r.Ports {
					fmt.Printf("  %-24s %-16s %-20s %s\n", rp.Name, rp.NetworkID, rp.MAC, rp.Network)
				}
			}
			return nil
		})
	},
}

var nbRouterDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a logical router",
	Long: `Delete a logical router from the northbound store.

Agents do not tear down flows of deleted routers. Remove its ports with
delete-port first and let the agents converge before deleting the router.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := store.DeleteRouter(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete logical router: %w", err)
			}
			fmt.Printf("✓ Logical router deleted: %s\n", args[0])
			return nil
		})
	},
}

var nbRouterAddPortCmd = &cobra.Command{
	Use:   "add-port ROUTER",
	Short: "Attach a router to a logical switch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rp := types.LogicalRouterPort{Router: args[0]}
		rp.Name, _ = cmd.Flags().GetString("name")
		rp.NetworkID, _ = cmd.Flags().GetString("lswitch")
		rp.MAC, _ = cmd.Flags().GetString("mac")
		rp.Network, _ = cmd.Flags().GetString("network")

		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if rp.Network == "" {
				ls, err := store.GetLogicalSwitch(ctx, rp.NetworkID)
				if err != nil {
					return fmt.Errorf("failed to read logical switch: %w", err)
				}
				topo := &topology.Topology{
					Switches: []types.LogicalSwitch{*ls},
					Routers:  []types.LogicalRouter{{Name: rp.Router, Ports: []types.LogicalRouterPort{rp}}},
				}
				if err := topo.FillDefaults(); err != nil {
					return err
				}
				rp = topo.Routers[0].Ports[0]
			}
			if err := topology.NewApplier(store).AddRouterPort(ctx, args[0], rp); err != nil {
				return err
			}
			fmt.Printf("✓ Router port added: %s -> %s (%s)\n", args[0], rp.NetworkID, rp.Network)
			return nil
		})
	},
}

var nbRouterDeletePortCmd = &cobra.Command{
	Use:   "delete-port ROUTER LSWITCH",
	Short: "Detach a router from a logical switch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			if err := topology.NewApplier(store).DeleteRouterPort(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Router port deleted: %s -> %s\n", args[0], args[1])
			return nil
		})
	},
}
