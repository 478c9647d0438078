package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/flow"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - local SDN agent",
	Long: `Burrow runs on every hypervisor of a virtual network. It reads the
shared northbound model of logical switches, ports and routers, keeps a
tunnel mesh to every other chassis and programs the local dataplane for
the ports bound here.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON")
	rootCmd.PersistentFlags().String("datastore", "", "Northbound backend (bolt, etcd)")
	rootCmd.PersistentFlags().String("bolt-path", "", "Bolt database file")
	rootCmd.PersistentFlags().StringSlice("etcd-endpoints", nil, "etcd endpoints")

	agentCmd.Flags().String("chassis", "", "Chassis name (defaults to the hostname)")
	agentCmd.Flags().String("ip", "", "Tunnel endpoint address of this chassis")
	agentCmd.Flags().String("encap", "", "Tunnel encapsulation (geneve, vxlan)")
	agentCmd.Flags().String("switch", "", "Switch backend (netlink, memory)")
	agentCmd.Flags().String("bridge", "", "Integration bridge name")
	agentCmd.Flags().Duration("interval", 0, "Reconciliation interval")
	agentCmd.Flags().String("health-addr", "", "Health and metrics listen address")

	rootCmd.AddCommand(agentCmd)
}

// loadConfig reads the config file named by --config and applies the flags
// the user set on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("datastore") {
		cfg.Datastore.Backend, _ = flags.GetString("datastore")
	}
	if flags.Changed("bolt-path") {
		cfg.Datastore.BoltPath, _ = flags.GetString("bolt-path")
	}
	if flags.Changed("etcd-endpoints") {
		cfg.Datastore.Etcd.Endpoints, _ = flags.GetStringSlice("etcd-endpoints")
	}
	if flags.Changed("chassis") {
		cfg.Chassis.Name, _ = flags.GetString("chassis")
	}
	if flags.Changed("ip") {
		cfg.Chassis.IP, _ = flags.GetString("ip")
	}
	if flags.Changed("encap") {
		encap, _ := flags.GetString("encap")
		cfg.Chassis.EncapType = types.EncapType(encap)
	}
	if flags.Changed("switch") {
		cfg.Switch.Backend, _ = flags.GetString("switch")
	}
	if flags.Changed("bridge") {
		cfg.Switch.Bridge, _ = flags.GetString("bridge")
	}
	if flags.Changed("interval") {
		cfg.Reconciler.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("health-addr") {
		cfg.HealthAddr, _ = flags.GetString("health-addr")
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

// openStore connects to the configured northbound backend
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Datastore.Backend {
	case config.BackendEtcd:
		return storage.NewEtcdStore(storage.EtcdConfig{
			Endpoints:   cfg.Datastore.Etcd.Endpoints,
			DialTimeout: cfg.Datastore.Etcd.DialTimeout,
			Prefix:      cfg.Datastore.Etcd.Prefix,
		})
	case config.BackendBolt:
		return storage.NewBoltStore(cfg.Datastore.BoltPath)
	default:
		return nil, fmt.Errorf("unsupported datastore backend %q", cfg.Datastore.Backend)
	}
}

func openSwitch(cfg *config.Config) (vswitch.Switch, error) {
	switch cfg.Switch.Backend {
	case config.SwitchMemory:
		return vswitch.NewMemorySwitch(), nil
	case config.SwitchNetlink:
		return vswitch.NewNetlinkSwitch(cfg.Switch.Bridge, cfg.Chassis.Name, cfg.Chassis.IP)
	default:
		return nil, fmt.Errorf("unsupported switch backend %q", cfg.Switch.Backend)
	}
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the local agent",
	Long: `Run the local agent on this chassis.

The agent registers the chassis in the northbound store, waits for the
dataplane to become ready and then reconciles every interval until it
receives SIGINT or SIGTERM.`,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.WithChassis(cfg.Chassis.Name)
	metrics.SetVersion(Version)
	api.Version = Version

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sw, err := openSwitch(cfg)
	if err != nil {
		return err
	}
	defer sw.Close()

	state := cache.NewLocalState()
	clk := clock.New()
	pipeline := flow.NewPipeline(sw, state, clk)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	go logEvents(sub)

	recon := reconciler.NewReconciler(reconciler.Config{
		Chassis:           cfg.LocalChassis(),
		Interval:          cfg.Reconciler.Interval,
		ReadyPollInterval: cfg.Reconciler.ReadyPollInterval,
		Clock:             clk,
	}, store, sw, pipeline, state, broker)

	collector := metrics.NewCollector(state, pipeline, sw, clk)
	collector.Start()
	defer collector.Stop()

	healthServer := api.NewHealthServer(recon, pipeline)
	errCh := make(chan error, 2)
	go func() {
		if err := healthServer.Start(cfg.HealthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		errCh <- recon.Run(ctx)
	}()

	logger.Info().
		Str("ip", cfg.Chassis.IP).
		Str("encap", string(cfg.Chassis.EncapType)).
		Str("datastore", cfg.Datastore.Backend).
		Str("switch", cfg.Switch.Backend).
		Str("health_addr", cfg.HealthAddr).
		Msg("Agent started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err = <-errCh:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := healthServer.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("Failed to stop health server")
	}
	broker.Unsubscribe(sub)

	if err != nil {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		e := logger.Debug().Str("event", string(ev.Type)).Str("id", ev.ID)
		for k, v := range ev.Metadata {
			e = e.Str(k, v)
		}
		e.Msg(ev.Message)
	}
}
