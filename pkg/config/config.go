// Package config loads the agent configuration from a YAML file.
// Command-line flags override individual fields after loading.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/vswitch"
	"gopkg.in/yaml.v3"
)

// Datastore backends
const (
	BackendBolt = "bolt"
	BackendEtcd = "etcd"
)

// Switch backends
const (
	SwitchNetlink = "netlink"
	SwitchMemory  = "memory"
)

// Config is the complete agent configuration
type Config struct {
	Chassis    ChassisConfig    `yaml:"chassis"`
	Datastore  DatastoreConfig  `yaml:"datastore"`
	Switch     SwitchConfig     `yaml:"switch"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	HealthAddr string           `yaml:"healthAddr"`
	Log        LogConfig        `yaml:"log"`
}

// ChassisConfig describes this host in the tunnel mesh
type ChassisConfig struct {
	Name      string          `yaml:"name"`
	IP        string          `yaml:"ip"`
	EncapType types.EncapType `yaml:"encapType"`
}

// DatastoreConfig selects and configures the northbound store
type DatastoreConfig struct {
	Backend  string     `yaml:"backend"`
	BoltPath string     `yaml:"boltPath"`
	Etcd     EtcdConfig `yaml:"etcd"`
}

// EtcdConfig holds the etcd connection settings
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	Prefix      string        `yaml:"prefix"`
}

// SwitchConfig selects the local switch backend
type SwitchConfig struct {
	Backend string `yaml:"backend"`
	Bridge  string `yaml:"bridge"`
}

// ReconcilerConfig holds loop timing
type ReconcilerConfig struct {
	Interval          time.Duration `yaml:"interval"`
	ReadyPollInterval time.Duration `yaml:"readyPollInterval"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Chassis: ChassisConfig{
			Name:      hostname,
			EncapType: types.EncapGeneve,
		},
		Datastore: DatastoreConfig{
			Backend:  BackendBolt,
			BoltPath: "/var/lib/burrow/nb.db",
			Etcd: EtcdConfig{
				Endpoints:   []string{"127.0.0.1:2379"},
				DialTimeout: 5 * time.Second,
				Prefix:      storage.DefaultEtcdPrefix,
			},
		},
		Switch: SwitchConfig{
			Backend: SwitchNetlink,
			Bridge:  vswitch.DefaultBridge,
		},
		Reconciler: ReconcilerConfig{
			Interval:          reconciler.DefaultInterval,
			ReadyPollInterval: reconciler.DefaultReadyPollInterval,
		},
		HealthAddr: "127.0.0.1:9090",
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Chassis.Name == "" {
		errs = append(errs, errors.New("chassis.name is required"))
	}
	if net.ParseIP(c.Chassis.IP) == nil {
		errs = append(errs, fmt.Errorf("chassis.ip %q is not a valid address", c.Chassis.IP))
	}
	switch c.Chassis.EncapType {
	case types.EncapGeneve, types.EncapVXLAN:
	default:
		errs = append(errs, fmt.Errorf("chassis.encapType %q is not supported", c.Chassis.EncapType))
	}

	switch c.Datastore.Backend {
	case BackendBolt:
		if c.Datastore.BoltPath == "" {
			errs = append(errs, errors.New("datastore.boltPath is required for the bolt backend"))
		}
	case BackendEtcd:
		if len(c.Datastore.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("datastore.etcd.endpoints is required for the etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("datastore.backend %q is not supported", c.Datastore.Backend))
	}

	switch c.Switch.Backend {
	case SwitchNetlink, SwitchMemory:
	default:
		errs = append(errs, fmt.Errorf("switch.backend %q is not supported", c.Switch.Backend))
	}

	if c.Reconciler.Interval <= 0 {
		errs = append(errs, errors.New("reconciler.interval must be positive"))
	}
	if c.Reconciler.ReadyPollInterval <= 0 {
		errs = append(errs, errors.New("reconciler.readyPollInterval must be positive"))
	}

	return errors.Join(errs...)
}

// LocalChassis returns the chassis record this agent registers
func (c *Config) LocalChassis() types.Chassis {
	return types.Chassis{
		Name:      c.Chassis.Name,
		IP:        c.Chassis.IP,
		EncapType: c.Chassis.EncapType,
	}
}
