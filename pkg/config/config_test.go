package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendBolt, cfg.Datastore.Backend)
	assert.Equal(t, SwitchNetlink, cfg.Switch.Backend)
	assert.Equal(t, "br-int", cfg.Switch.Bridge)
	assert.Equal(t, 3*time.Second, cfg.Reconciler.Interval)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.ReadyPollInterval)
	assert.Equal(t, types.EncapGeneve, cfg.Chassis.EncapType)

	// Defaults lack the tunnel address
	assert.ErrorContains(t, cfg.Validate(), "chassis.ip")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	data := `
chassis:
  name: host-1
  ip: 192.168.10.1
  encapType: vxlan
datastore:
  backend: etcd
  etcd:
    endpoints: [10.0.0.1:2379, 10.0.0.2:2379]
    dialTimeout: 2s
switch:
  backend: memory
reconciler:
  interval: 1s
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, types.Chassis{Name: "host-1", IP: "192.168.10.1", EncapType: types.EncapVXLAN}, cfg.LocalChassis())
	assert.Equal(t, BackendEtcd, cfg.Datastore.Backend)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Datastore.Etcd.Endpoints)
	assert.Equal(t, 2*time.Second, cfg.Datastore.Etcd.DialTimeout)
	assert.Equal(t, "/burrow/nb", cfg.Datastore.Etcd.Prefix)
	assert.Equal(t, SwitchMemory, cfg.Switch.Backend)
	assert.Equal(t, time.Second, cfg.Reconciler.Interval)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.ReadyPollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chassis: [not, a, map]"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Datastore, cfg.Datastore)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Chassis.Name = "host-1"
		cfg.Chassis.IP = "10.1.1.1"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no name", func(c *Config) { c.Chassis.Name = "" }, "chassis.name"},
		{"bad ip", func(c *Config) { c.Chassis.IP = "not-an-ip" }, "chassis.ip"},
		{"bad encap", func(c *Config) { c.Chassis.EncapType = "gre" }, "chassis.encapType"},
		{"bad backend", func(c *Config) { c.Datastore.Backend = "redis" }, "datastore.backend"},
		{"no bolt path", func(c *Config) { c.Datastore.BoltPath = "" }, "datastore.boltPath"},
		{"no etcd endpoints", func(c *Config) {
			c.Datastore.Backend = BackendEtcd
			c.Datastore.Etcd.Endpoints = nil
		}, "datastore.etcd.endpoints"},
		{"bad switch", func(c *Config) { c.Switch.Backend = "ovs" }, "switch.backend"},
		{"zero interval", func(c *Config) { c.Reconciler.Interval = 0 }, "reconciler.interval"},
		{"negative ready poll", func(c *Config) { c.Reconciler.ReadyPollInterval = -time.Second }, "reconciler.readyPollInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
