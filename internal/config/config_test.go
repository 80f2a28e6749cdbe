package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrowin/networka-sub002/internal/device"
	nwerrors "github.com/narrowin/networka-sub002/internal/errors"
	"github.com/narrowin/networka-sub002/internal/inventory"
)

func writeInventory(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func emptyConfig() *Config {
	return &Config{
		Devices: make(map[string]*device.Config),
		Groups:  make(map[string]*device.Group),
		Catalog: inventory.NewCatalog(),
	}
}

func TestLoadInventoryFile(t *testing.T) {
	dir := t.TempDir()
	path := writeInventory(t, dir, "lab.yml", `
devices:
  sw1:
    host: 10.1.0.1
    platform: mikrotik_routeros
    tags: [edge, berlin]
  sw2:
    host: 10.1.0.2
    port: 2222
    platform: cisco_iosxe
groups:
  edge:
    members: [sw1]
`)

	cfg := emptyConfig()
	require.NoError(t, cfg.LoadInventoryFile(path, inventory.KindCLI))

	require.Contains(t, cfg.Devices, "sw1")
	assert.Equal(t, "10.1.0.1:22", cfg.Devices["sw1"].Address())
	assert.Equal(t, "10.1.0.2:2222", cfg.Devices["sw2"].Address())
	assert.True(t, cfg.Devices["sw1"].HasTag("edge"))
	assert.Contains(t, cfg.Groups, "edge")

	// Source id is the file name without extension.
	sources := cfg.Catalog.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, "lab", sources[0].SourceID)
	assert.Equal(t, inventory.KindCLI, sources[0].Kind)
	assert.Equal(t, path, sources[0].InventoryFile)
}

func TestLoadInventoryFileRejectsInvalidDevice(t *testing.T) {
	dir := t.TempDir()
	path := writeInventory(t, dir, "broken.yml", `
devices:
  sw1:
    platform: linux
`)

	cfg := emptyConfig()
	err := cfg.LoadInventoryFile(path, inventory.KindCLI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sw1")
}

func TestLoadInventoryFileMissing(t *testing.T) {
	cfg := emptyConfig()
	err := cfg.LoadInventoryFile("/does/not/exist.yml", inventory.KindCLI)
	require.Error(t, err)
}

func TestAddSourceFirstDefinitionWins(t *testing.T) {
	cfg := emptyConfig()
	cfg.AddSource(inventory.SourceRef{SourceID: "config", Kind: inventory.KindConfig},
		map[string]*device.Config{"sw1": {Host: "config.example"}}, nil)
	cfg.AddSource(inventory.SourceRef{SourceID: "scan", Kind: inventory.KindDiscovered},
		map[string]*device.Config{"sw1": {Host: "scan.example"}, "sw2": {Host: "only.example"}}, nil)

	// Effective map keeps the first definition; both stay in the catalog.
	assert.Equal(t, "config.example", cfg.Devices["sw1"].Host)
	assert.Equal(t, "only.example", cfg.Devices["sw2"].Host)
	assert.Len(t, cfg.Catalog.Sources(), 2)
}

func TestDeviceConfigDisambiguation(t *testing.T) {
	cfg := emptyConfig()
	cfg.AddSource(inventory.SourceRef{SourceID: "config", Kind: inventory.KindConfig},
		map[string]*device.Config{"sw1": {Host: "config.example"}}, nil)
	cfg.AddSource(inventory.SourceRef{SourceID: "scan", Kind: inventory.KindDiscovered},
		map[string]*device.Config{"sw1": {Host: "scan.example"}}, nil)

	_, err := cfg.DeviceConfig("sw1", inventory.Selector{})
	require.Error(t, err)
	assert.True(t, nwerrors.IsAmbiguity(err))

	dev, err := cfg.DeviceConfig("sw1", inventory.Selector{Prefer: "local:scan"})
	require.NoError(t, err)
	assert.Equal(t, "scan.example", dev.Host)

	dev, err = cfg.DeviceConfig("sw1", inventory.Selector{SourceID: "config"})
	require.NoError(t, err)
	assert.Equal(t, "config.example", dev.Host)
}

func TestDeviceConfigUnknown(t *testing.T) {
	cfg := emptyConfig()
	_, err := cfg.DeviceConfig("ghost", inventory.Selector{})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Settings{
		CmdTimeout: 30 * time.Second,
		Output:     "streamed",
		LogLevel:   "info",
		LogFormat:  "text",
	}

	m := NewManager("")
	require.NoError(t, m.Validate(&valid))

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"negative workers", func(s *Settings) { s.Workers = -1 }},
		{"negative timeout", func(s *Settings) { s.Timeout = -time.Second }},
		{"zero cmd-timeout", func(s *Settings) { s.CmdTimeout = 0 }},
		{"bad output", func(s *Settings) { s.Output = "xml" }},
		{"bad log level", func(s *Settings) { s.LogLevel = "verbose" }},
		{"bad log format", func(s *Settings) { s.LogFormat = "logfmt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			assert.Error(t, m.Validate(&s))
		})
	}
}
