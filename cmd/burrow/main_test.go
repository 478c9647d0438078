package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/vswitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chassis:
  name: from-file
  ip: 10.0.0.1
switch:
  backend: memory
`), 0644))

	require.NoError(t, agentCmd.ParseFlags([]string{
		"--config", path,
		"--chassis", "host-9",
		"--interval", "1s",
		"--datastore", "etcd",
	}))
	cfg, err := loadConfig(agentCmd)
	require.NoError(t, err)

	assert.Equal(t, "host-9", cfg.Chassis.Name)
	assert.Equal(t, "10.0.0.1", cfg.Chassis.IP)
	assert.Equal(t, config.SwitchMemory, cfg.Switch.Backend)
	assert.Equal(t, time.Second, cfg.Reconciler.Interval)
	assert.Equal(t, config.BackendEtcd, cfg.Datastore.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestOpenBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Switch.Backend = config.SwitchMemory
	cfg.Datastore.BoltPath = filepath.Join(t.TempDir(), "nb.db")

	sw, err := openSwitch(cfg)
	require.NoError(t, err)
	assert.IsType(t, &vswitch.MemorySwitch{}, sw)
	require.NoError(t, sw.Close())

	store, err := openStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg.Datastore.Backend = "zookeeper"
	_, err = openStore(cfg)
	assert.ErrorContains(t, err, "unsupported datastore backend")
}
