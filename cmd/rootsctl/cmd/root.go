/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/rootsdb/internal/cache"
	"github.com/ssargent/rootsdb/internal/chunk"
	"github.com/ssargent/rootsdb/internal/filemanager"
	"github.com/ssargent/rootsdb/pkg/engineconfig"
	"github.com/ssargent/rootsdb/pkg/roots"
	"github.com/ssargent/rootsdb/pkg/txnlog"
	"github.com/ssargent/rootsdb/pkg/txnlog/pebblelog"
	"github.com/ssargent/rootsdb/pkg/vault"
	"github.com/ssargent/rootsdb/pkg/vaultzstd"
)

var (
	configPath string
	dataDir    string
	treeName   string
	versioned  bool
	usePebble  bool
)

var rootCmd = &cobra.Command{
	Use:   "rootsctl",
	Short: "rootsctl operates a rootsdb data directory",
	Long: `rootsctl is a command-line client for rootsdb, an embedded
single-writer/multi-reader transactional key-value store built on
append-only copy-on-write B-trees.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to engine config yaml (defaults applied when absent)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory for tree files (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&treeName, "tree", "t", "default", "Tree name to operate on")
	rootCmd.PersistentFlags().BoolVar(&versioned, "versioned", false, "Open the tree with a by-sequence mirror")
	rootCmd.PersistentFlags().BoolVar(&usePebble, "pebble-log", false, "Use the pebble-backed transaction log instead of the in-memory one")
}

// loadConfig returns the engine config, from configPath if set, else
// defaults, with dataDir overriding the config's DataDir when given.
func loadConfig() (*engineconfig.Config, error) {
	cfg := engineconfig.DefaultConfig()
	if configPath != "" {
		loaded, err := engineconfig.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openRoots constructs a Roots coordinator from the resolved config,
// wiring the vault/compressor/cache collaborators it names.
func openRoots() (*roots.Roots, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create data dir %q: %w", cfg.DataDir, err)
	}

	var tlog txnlog.Manager
	if usePebble {
		tlog, err = pebblelog.Open(cfg.DataDir + "/_transactions.pebble")
		if err != nil {
			return nil, nil, err
		}
	} else {
		tlog = txnlog.NewMemManager()
	}

	fcfg := roots.TreeFileConfig{
		Vault:     vaultFor(cfg.Tree.Vault),
		Cache:     cache.New(cfg.Cache.MaxEntries, cfg.Cache.MaxEntryBytes),
		MaxOrder:  cfg.Tree.MaxOrder,
		Versioned: versioned,
	}
	if cfg.Tree.Compression {
		fcfg.Compressor = vaultzstd.New()
	}

	rs := roots.New(cfg.DataDir, filemanager.NewOSManager(), tlog, fcfg, 0)
	return rs, rs.Close, nil
}

func vaultFor(name string) chunk.Vault {
	switch name {
	case "aes-gcm":
		key := []byte(os.Getenv("ROOTSDB_VAULT_KEY"))
		v, err := vault.NewAESGCM(key)
		if err != nil {
			return vault.None{}
		}
		return v
	default:
		return vault.None{}
	}
}
