package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
drivers:
  - name: plc1
    kind: modbus
    endpoint: 127.0.0.1:502
    variables:
      - address: "hr:0"
        type: uint16
        mode: both
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Manager.DefaultPollInterval)
	assert.Equal(t, 3, cfg.Manager.DefaultWriteRetries)

	require.Len(t, cfg.Drivers, 1)
	assert.Equal(t, "plc1", cfg.Drivers[0].Name)
	require.Len(t, cfg.Drivers[0].Variables, 1)
	assert.Equal(t, "hr:0", cfg.Drivers[0].Variables[0].Address)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
drivers:
  - name: plc1
    kind: modbus
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plc1")
}

func TestLoadRejectsBadVariableType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
drivers:
  - name: plc1
    kind: modbus
    endpoint: 127.0.0.1:502
    variables:
      - address: "hr:0"
        type: quaternion
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadDriverName(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
drivers:
  - name: "has spaces"
    kind: modbus
    endpoint: 127.0.0.1:502
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaultsPerDriverOverride(t *testing.T) {
	cfg := &Config{
		Manager: ManagerConfig{
			DefaultPollInterval: 100 * time.Millisecond,
			DefaultCycleTimeout: time.Second,
			DefaultStaleAfter:   5 * time.Second,
			DefaultBadAfter:     30 * time.Second,
			DefaultWriteRetries: 3,
		},
	}

	d := DriverConfig{PollInterval: 20 * time.Millisecond}
	cfg.ApplyDefaults(&d)

	assert.Equal(t, 20*time.Millisecond, d.PollInterval, "explicit value wins")
	assert.Equal(t, time.Second, d.CycleTimeout)
	assert.Equal(t, 5*time.Second, d.StaleAfter)
	require.NotNil(t, d.WriteRetries)
	assert.Equal(t, 3, *d.WriteRetries)
	assert.Equal(t, d.CycleTimeout, d.Timeout, "adapter timeout follows cycle budget")
}

func TestProfileLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "conveyor.yaml", `
variables:
  - address: "hr:0"
    type: uint16
    mode: both
  - address: "coil:1"
    type: bool
    mode: read
`)

	loader := NewProfileLoader([]string{dir})

	vars, err := loader.Load("conveyor")
	require.NoError(t, err)
	require.Len(t, vars, 2)
	assert.Equal(t, "hr:0", vars[0].Address)
	assert.Equal(t, "bool", vars[1].Type)

	// Served from cache even after the file disappears.
	require.NoError(t, os.Remove(filepath.Join(dir, "conveyor.yaml")))
	vars, err = loader.Load("conveyor")
	require.NoError(t, err)
	assert.Len(t, vars, 2)

	loader.ClearCache()
	_, err = loader.Load("conveyor")
	assert.Error(t, err)
}

func TestProfileLoaderNotFound(t *testing.T) {
	loader := NewProfileLoader([]string{t.TempDir()})
	_, err := loader.Load("ghost")
	assert.Error(t, err)
}
