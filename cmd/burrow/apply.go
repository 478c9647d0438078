package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/topology"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a topology file",
	Long: `Apply logical switches, ports and routers from a YAML file to the
northbound store. Objects that already exist keep their tunnel keys.

Examples:
  # Load a topology into the local bolt store
  burrow apply -f topology.yaml

  # Load it into a shared etcd cluster
  burrow apply -f topology.yaml --datastore etcd --etcd-endpoints 10.0.0.5:2379`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().Bool("dry-run", false, "Validate the file without writing")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	topo, err := topology.Parse(data)
	if err != nil {
		return fmt.Errorf("invalid topology %s: %w", filename, err)
	}
	if dryRun {
		fmt.Printf("✓ %s is valid: %d switches, %d ports, %d routers\n",
			filename, len(topo.Switches), len(topo.Ports), len(topo.Routers))
		return nil
	}

	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		changes, err := topology.NewApplier(store).Apply(ctx, topo)
		for _, c := range changes {
			switch c.Action {
			case topology.ActionCreated:
				fmt.Printf("✓ %s created: %s\n", c.Kind, c.Name)
			case topology.ActionUpdated:
				fmt.Printf("✓ %s updated: %s\n", c.Kind, c.Name)
			default:
				fmt.Printf("  %s unchanged: %s\n", c.Kind, c.Name)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", filename, err)
		}
		return nil
	})
}
