// Package config provides configuration management for networka.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/narrowin/networka-sub002/internal/device"
	"github.com/narrowin/networka-sub002/internal/inventory"
)

// Config represents the loaded application configuration. Devices and Groups
// are the effective maps merged across every inventory source; the Catalog
// keeps per-source provenance for disambiguation.
type Config struct {
	Devices map[string]*device.Config
	Groups  map[string]*device.Group
	Catalog *inventory.Catalog

	Settings Settings
}

// Settings holds the runtime knobs read from config files, environment
// variables and CLI flags.
type Settings struct {
	Target      string        `mapstructure:"target"`       // Target expression (devices, groups, IPs)
	Prefer      string        `mapstructure:"prefer"`       // Preference token for ambiguous names
	Platform    string        `mapstructure:"platform"`     // Platform for IP-literal targets
	Workers     int           `mapstructure:"workers"`      // Max concurrent device workers (0 for default)
	Timeout     time.Duration `mapstructure:"timeout"`      // Total execution timeout (0 for none)
	CmdTimeout  time.Duration `mapstructure:"cmd-timeout"`  // Per-command timeout
	Output      string        `mapstructure:"output"`       // Output format (streamed, buffered, json)
	Quiet       bool          `mapstructure:"quiet"`        // Suppress non-error output
	DryRun      bool          `mapstructure:"dry-run"`      // Show execution plan without connecting
	LogLevel    string        `mapstructure:"log-level"`    // Log level (info, error)
	LogFormat   string        `mapstructure:"log-format"`   // Log format (json, text)
	BackupDir   string        `mapstructure:"backup-dir"`   // Directory for backup artifacts
	Inventories []string      `mapstructure:"inventories"`  // Extra inventory files (kind cli)
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars, CLI flags)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(settings *Settings) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v          *viper.Viper
	configFile string
}

// NewManager creates a new configuration manager. configFile may be empty,
// in which case the default search paths are used.
func NewManager(configFile string) *ViperManager {
	return &ViperManager{
		v:          viper.New(),
		configFile: configFile,
	}
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("workers", 0)
	m.v.SetDefault("timeout", time.Duration(0))
	m.v.SetDefault("cmd-timeout", 60*time.Second)
	m.v.SetDefault("output", "streamed")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("backup-dir", "backups")
}

// Load reads configuration from all sources with proper precedence and
// builds the inventory catalog from every declared source.
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	if m.configFile != "" {
		m.v.SetConfigFile(m.configFile)
	} else {
		m.v.SetConfigName("nw")
		m.v.SetConfigType("yaml")

		// Current dir highest precedence, system dir lowest.
		m.v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			m.v.AddConfigPath(filepath.Join(homeDir, ".config", "nw"))
		}
		m.v.AddConfigPath("/etc/nw/")
	}

	m.v.SetEnvPrefix("NW")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var settings Settings
	if err := m.v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := m.Validate(&settings); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Devices:  make(map[string]*device.Config),
		Groups:   make(map[string]*device.Group),
		Catalog:  inventory.NewCatalog(),
		Settings: settings,
	}

	if err := m.loadSources(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSources registers the inline config devices and every referenced
// inventory file with the catalog, merging everything into the effective
// maps.
func (m *ViperManager) loadSources(cfg *Config) error {
	root := ""
	if used := m.v.ConfigFileUsed(); used != "" {
		root = filepath.Dir(used)
	}

	inline := InventoryFile{}
	if err := m.v.UnmarshalKey("devices", &inline.Devices); err != nil {
		return fmt.Errorf("error unmarshaling devices: %w", err)
	}
	if err := m.v.UnmarshalKey("groups", &inline.Groups); err != nil {
		return fmt.Errorf("error unmarshaling groups: %w", err)
	}

	cfg.AddSource(inventory.SourceRef{
		SourceID: "config",
		Kind:     inventory.KindConfig,
		Root:     root,
	}, inline.Devices, inline.Groups)

	// Inventory files declared in the config file itself.
	for _, path := range m.v.GetStringSlice("inventory-files") {
		if !filepath.IsAbs(path) && root != "" {
			path = filepath.Join(root, path)
		}
		if err := cfg.LoadInventoryFile(path, inventory.KindConfigInventory); err != nil {
			return err
		}
	}

	// Extra inventories supplied on the command line.
	for _, path := range cfg.Settings.Inventories {
		if err := cfg.LoadInventoryFile(path, inventory.KindCLI); err != nil {
			return err
		}
	}

	return nil
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(settings *Settings) error {
	if settings.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", settings.Workers)
	}

	if settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", settings.Timeout)
	}
	if settings.CmdTimeout <= 0 {
		return fmt.Errorf("cmd-timeout must be positive, got %v", settings.CmdTimeout)
	}

	validOutputs := map[string]bool{
		"streamed": true,
		"buffered": true,
		"json":     true,
	}
	if !validOutputs[settings.Output] {
		return fmt.Errorf("invalid output format '%s': must be one of 'streamed', 'buffered', or 'json'", settings.Output)
	}

	validLogLevels := map[string]bool{
		"info":  true,
		"error": true,
	}
	if !validLogLevels[settings.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'info' or 'error'", settings.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[settings.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", settings.LogFormat)
	}

	return nil
}

// InventoryFile is the on-disk schema of one inventory source.
type InventoryFile struct {
	Devices map[string]*device.Config `yaml:"devices"`
	Groups  map[string]*device.Group  `yaml:"groups"`
}

// LoadInventoryFile parses a YAML inventory file and registers it as an
// additional source. The source id is the file name without extension.
func (c *Config) LoadInventoryFile(path string, kind inventory.SourceKind) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read inventory file %s: %w", path, err)
	}

	var inv InventoryFile
	if err := yaml.Unmarshal(content, &inv); err != nil {
		return fmt.Errorf("failed to parse inventory file %s: %w", path, err)
	}

	for name, dev := range inv.Devices {
		if err := dev.Validate(name); err != nil {
			return fmt.Errorf("inventory file %s: %w", path, err)
		}
	}

	base := filepath.Base(path)
	sourceID := strings.TrimSuffix(base, filepath.Ext(base))

	c.AddSource(inventory.SourceRef{
		SourceID:      sourceID,
		Kind:          kind,
		Root:          filepath.Dir(path),
		InventoryFile: path,
	}, inv.Devices, inv.Groups)

	return nil
}

// AddSource registers a source with the catalog and merges its definitions
// into the effective device and group maps. Later sources do not shadow
// earlier ones in the catalog; in the effective maps the first definition
// wins so that classification stays deterministic.
func (c *Config) AddSource(ref inventory.SourceRef, devices map[string]*device.Config, groups map[string]*device.Group) {
	c.Catalog.AddSource(ref, devices, groups)

	for name, dev := range devices {
		if _, exists := c.Devices[name]; !exists {
			c.Devices[name] = dev
		}
	}
	for name, grp := range groups {
		if _, exists := c.Groups[name]; !exists {
			c.Groups[name] = grp
		}
	}
}

// DeviceConfig returns the effective device payload for name after catalog
// disambiguation. Without a catalog it falls back to the plain device map.
func (c *Config) DeviceConfig(name string, sel inventory.Selector) (*device.Config, error) {
	if c.Catalog != nil && c.Catalog.HasDevice(name) {
		entry, err := c.Catalog.ResolveDevice(name, sel)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry.Device, nil
		}
	}

	if dev, ok := c.Devices[name]; ok {
		return dev, nil
	}
	return nil, fmt.Errorf("device %q not found", name)
}
