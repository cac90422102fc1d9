// Package engineconfig is rootsdb's on-disk configuration, grounded on
// freyjadb's pkg/config/config.go (yaml-tagged struct, DefaultConfig,
// LoadConfig/SaveConfig shape) but reworked for a storage-engine's
// concerns instead of an HTTP server's.
package engineconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// Config is rootsdb's top-level configuration.
type Config struct {
	DataDir string      `yaml:"data_dir"`
	Tree    TreeConfig  `yaml:"tree"`
	Cache   CacheConfig `yaml:"cache"`
	Logging Logging     `yaml:"logging"`
}

// TreeConfig governs per-tree engine behavior.
type TreeConfig struct {
	MaxOrder    int    `yaml:"max_order"`
	Compression bool   `yaml:"compression"`
	Vault       string `yaml:"vault"` // "", "none", or "aes-gcm"
}

// CacheConfig bounds the shared chunk cache.
type CacheConfig struct {
	MaxEntries    int `yaml:"max_entries"`
	MaxEntryBytes int `yaml:"max_entry_bytes"`
}

// Logging contains logging configuration.
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a ready-to-use configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Tree: TreeConfig{
			MaxOrder:    1000,
			Compression: false,
			Vault:       "none",
		},
		Cache: CacheConfig{
			MaxEntries:    4096,
			MaxEntryBytes: 1 << 20,
		},
		Logging: Logging{Level: "info"},
	}
}

// LoadConfig reads and parses a yaml configuration file.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, rootserr.New(rootserr.Other, "config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, rootserr.Wrap(rootserr.Other, err, "resolve config path %q", configPath)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, rootserr.Wrap(rootserr.IO, err, "read config file %q", configPath)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, rootserr.Wrap(rootserr.Other, err, "parse config file %q", configPath)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to configPath, creating parent directories as
// needed.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "create config directory for %q", configPath)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return rootserr.Wrap(rootserr.Other, err, "marshal config")
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return rootserr.Wrap(rootserr.IO, err, "write config file %q", configPath)
	}
	return nil
}
